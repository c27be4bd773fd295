// Package types 定义 relaydht 的基础类型
//
// 本文件定义所有公共错误类型。
package types

import "errors"

var (
	// ErrInvalidID 无效的标识
	ErrInvalidID = errors.New("invalid ID: must be 20 bytes, base58 or hex encoded")

	// ErrInvalidPeerAddress PeerAddress 违反不变量
	ErrInvalidPeerAddress = errors.New("invalid peer address")
)
