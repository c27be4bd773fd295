// Package server 实现中继服务端
//
// 愿意充当中继的节点安装 Server。不可达节点发送 SETUP 注册后，
// Forwarder 记录 被服务节点 → 回连连接；发往该节点的 FORWARD 信封被解开，
// 内层消息经回连连接送达目标，应答再封装回 FORWARD_REPLY 返回给原发送方。
//
// # 资源限制
//
//   - MaxPeers: 最多服务的节点数，超出时 SETUP 返回 ErrCapacityExceeded
//   - ForwardRate / ForwardBurst: 每个被服务节点的转发速率（golang.org/x/time/rate）
//   - ForwardTimeout: 单次转发超时
//
// 回连连接关闭或收到 TEARDOWN 时注销对应节点。
package server
