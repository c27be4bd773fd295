// Package transport 实现传输层
package transport

import "github.com/dep2p/go-relaydht/internal/core/transport/base"

var (
	// ErrTransportClosed 传输已关闭
	ErrTransportClosed = base.ErrTransportClosed

	// ErrConnectionClosed 连接已关闭
	ErrConnectionClosed = base.ErrConnectionClosed

	// ErrConnectionRefused 远端拒绝连接
	ErrConnectionRefused = base.ErrConnectionRefused

	// ErrReservationExhausted 预留的通道已用完
	ErrReservationExhausted = base.ErrReservationExhausted
)
