// Package routing 实现路由表成员管理
package routing

import "errors"

var (
	// ErrNotFound 节点不在路由表中
	ErrNotFound = errors.New("routing: peer not found")

	// ErrVerifiedFull 已验证集合已满
	ErrVerifiedFull = errors.New("routing: verified bag full")

	// ErrSelf 不能加入本地节点
	ErrSelf = errors.New("routing: cannot add self")

	// ErrIDMismatch 只能用相同标识的地址更新统计
	ErrIDMismatch = errors.New("routing: can only update the same peer id")

	// ErrNoPeers 没有可通告的对象
	ErrNoPeers = errors.New("routing: no peers to announce to")

	// ErrNoEndpoint 节点既没有直连端点也没有中继
	ErrNoEndpoint = errors.New("routing: peer has no endpoint")
)
