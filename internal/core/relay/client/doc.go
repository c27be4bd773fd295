// Package client 实现不可达节点一侧的中继维护循环
//
// Maintainer 每个周期执行一轮：
//
//  1. 经各路由的连接并行发送 PING
//  2. 对失败或已丢失的路由调用 Manager.ReplaceFailedRoute
//  3. 从已验证集合补足到 K 条路由
//  4. 检查已验证邻居是否仍可达
//  5. 向已验证邻居和引导节点重新通告当前身份，并把最近的邻居发布给每个中继
//
// 路由丢失时 Trigger 提前执行一轮。Stop 只释放定时器，已建立的路由由各自的连接生命周期负责。
package client
