package messaging

import (
	"errors"

	"github.com/dep2p/go-relaydht/internal/core/relay"
)

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrServiceClosed 服务已关闭
	ErrServiceClosed = errors.New("messaging: service closed")

	// ErrNoHandler 没有安装数据处理器
	ErrNoHandler = errors.New("messaging: no data handler")

	// ErrNoEndpoint 目标既没有直连端点也没有中继端点
	ErrNoEndpoint = errors.New("messaging: destination has no endpoint")

	// ErrRouteLost 目标通告的中继都无法转发
	ErrRouteLost = relay.ErrRouteLost
)
