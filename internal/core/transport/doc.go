// Package transport 实现传输层抽象
//
// 传输负责建立连接并在连接上收发请求，所有可能阻塞的操作都返回 Future。
//
// # 支持的传输
//
//   - tcp: TCP + yamux，每个请求一个流
//   - memory: 进程内网络，可模拟 NAT（Block）和崩溃（Kill）
//
// # 通道预留
//
// 出站连接受通道池约束：Reserve(n) 预留 n 个通道，Open 从预留中取走一个，
// 连接关闭时归还。中继建立时先预留再连接。
//
// # 入站分发
//
// 每条连接上的入站请求都交给 ProtocolRegistry.Dispatch，
// 因此任一端都可以在对方建立的连接上发起请求（中继转发依赖这一点）。
package transport
