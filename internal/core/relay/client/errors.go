package client

import "errors"

var (
	// ErrNotRunning 维护循环未运行
	ErrNotRunning = errors.New("relay client: maintainer not running")
)
