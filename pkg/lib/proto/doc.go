// Package proto 定义 relaydht 的网络协议消息（wire format）
//
// # 子包
//
//   - relay: PING / ANNOUNCE / SETUP / FORWARD / TEARDOWN / DIRECT 消息及其编解码
//
// 消息使用 protobuf wire 编码，由 protowire 手写编解码，不依赖 protoc 生成代码。
// 未知字段被跳过，便于向前兼容。
package proto
