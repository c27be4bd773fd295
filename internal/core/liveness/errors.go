package liveness

import "errors"

var (
	// ErrServiceClosed 服务已关闭
	ErrServiceClosed = errors.New("liveness: service closed")

	// ErrPingFailed 应答与请求不匹配
	ErrPingFailed = errors.New("liveness: ping failed")

	// ErrNotRelayed 目标没有通告中继
	ErrNotRelayed = errors.New("liveness: peer not relayed")
)
