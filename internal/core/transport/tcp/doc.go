// Package tcp 实现 TCP 传输层
//
// # 特性
//
//   - 基于 TCP，每条连接运行一个 yamux 会话
//   - 双向请求：任一端都可以在同一连接上打开流发起请求
//   - 出站连接占用一个通道，连接关闭时归还
//
// # 地址格式
//
//	127.0.0.1:4001
//	[::1]:4001
//
// # 使用示例
//
//	tr := tcp.NewTransport("0.0.0.0:4001", registry, base.DefaultOptions())
//	_ = tr.Listen(ctx)
//
//	conn := tr.Open(ctx, "1.2.3.4:4001", nil).Await()
//	reply := conn.Value().Request(ctx, msg).Await()
package tcp
