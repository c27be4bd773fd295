// Package tcp 实现 TCP 传输
package tcp

import "github.com/dep2p/go-relaydht/internal/core/transport/base"

var (
	// ErrTransportClosed 传输已关闭
	ErrTransportClosed = base.ErrTransportClosed

	// ErrConnectionClosed 连接已关闭
	ErrConnectionClosed = base.ErrConnectionClosed
)
