// Package storage 提供路由表的持久化
//
// PeerStore 使用 BadgerDB 保存已验证节点的网络身份。节点关闭时写入，
// 下次启动时作为候选节点恢复到路由表，再由引导过程重新验证。
//
// 条目带有效期，长时间未运行的节点不会恢复过期的邻居。
package storage
