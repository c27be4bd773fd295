// Package protocol 实现按消息类型分发的处理器注册表
//
// 每个传输上的入站请求都经由 Registry.Dispatch 分发：
//   - 按 relaypb.Kind 精确查找处理器
//   - 处理器错误转换为带状态码的错误应答
//   - 未注册的类型返回 StatusUnknownKind
//
// 注册方：
//   - relay/server   - SETUP / FORWARD / TEARDOWN
//   - messaging      - DIRECT
//   - liveness       - PING
//   - routing        - ANNOUNCE
package protocol
