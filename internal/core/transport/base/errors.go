// Package base 提供各传输实现共用的连接、通道预留与应答处理
package base

import "errors"

var (
	// ErrTransportClosed 传输已关闭
	ErrTransportClosed = errors.New("transport: closed")

	// ErrConnectionClosed 连接已关闭
	ErrConnectionClosed = errors.New("transport: connection closed")

	// ErrConnectionRefused 远端拒绝连接（不可达或被防火墙阻挡）
	ErrConnectionRefused = errors.New("transport: connection refused")

	// ErrInvalidReservation 预留数量无效
	ErrInvalidReservation = errors.New("transport: invalid reservation size")

	// ErrReservationExhausted 预留的通道已用完
	ErrReservationExhausted = errors.New("transport: reservation exhausted")

	// ErrFrameTooLarge 帧超过上限
	ErrFrameTooLarge = errors.New("transport: frame too large")
)
