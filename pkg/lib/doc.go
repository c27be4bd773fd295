// Package lib 包含与架构组件无关的工具库
//
//   - proto/relay: relaydht 网络消息的 wire format 编解码
package lib
