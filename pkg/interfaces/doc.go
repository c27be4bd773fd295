// Package interfaces 定义 relaydht 的公共接口
//
// 接口按层组织（一个接口文件 = 一个实现目录）：
//   - transport.go      - 传输层（internal/core/transport/...）
//   - protocol.go       - 按消息类型分发的处理器注册表（internal/core/protocol）
//
// # 依赖方向
//
//	relaydht → relay/messaging → routing/liveness → protocol/transport
//
// 禁止反向依赖。
package interfaces
