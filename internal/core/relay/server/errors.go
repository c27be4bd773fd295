package server

import (
	"errors"

	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
)

// 跨线路的错误，与 relaypb 中的定义相同
var (
	// ErrCapacityExceeded 服务的节点数已达上限
	ErrCapacityExceeded = relaypb.ErrCapacityExceeded

	// ErrDestinationNotRelayedHere 目标未在此中继注册
	ErrDestinationNotRelayedHere = relaypb.ErrDestinationNotRelayedHere

	// ErrRateLimited 转发被限速
	ErrRateLimited = relaypb.ErrRateLimited
)

var (
	// ErrNoSender 请求缺少发送方身份
	ErrNoSender = errors.New("relay server: request without sender")

	// ErrForwarderClosed 转发器已关闭
	ErrForwarderClosed = errors.New("relay server: closed")
)
