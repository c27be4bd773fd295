// Package interfaces 定义 relaydht 公共接口
//
// 本文件定义按消息类型分发的处理器注册表。
package interfaces

import (
	"context"

	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
)

// Handler 入站请求处理器
//
// 返回的消息作为应答发回；返回错误时由注册表转换为错误应答。
type Handler func(ctx context.Context, conn Connection, req *relaypb.Message) (*relaypb.Message, error)

// ProtocolRegistry 定义处理器注册表接口
type ProtocolRegistry interface {
	// Register 注册消息类型的处理器
	Register(kind relaypb.Kind, handler Handler) error

	// Unregister 注销处理器
	Unregister(kind relaypb.Kind) error

	// Handler 按类型查找处理器
	Handler(kind relaypb.Kind) (Handler, bool)

	// Kinds 返回已注册的类型
	Kinds() []relaypb.Kind

	// Dispatch 分发请求并总是返回一个应答
	Dispatch(ctx context.Context, conn Connection, req *relaypb.Message) *relaypb.Message
}
