package relay

import (
	"errors"

	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
)

// Sentinel errors
var (
	// ErrConnectionFailed 单个候选建立失败（被吸收，不向外传播）
	ErrConnectionFailed = errors.New("relay: connection failed")

	// ErrNoRelaysAvailable 没有任何候选建立成功
	ErrNoRelaysAvailable = errors.New("relay: no relays available")

	// ErrRouteLost 已建立的中继连接关闭
	ErrRouteLost = errors.New("relay: route lost")

	// ErrRouteNotFound 路由不在当前集合中
	ErrRouteNotFound = errors.New("relay: route not found")

	// ErrManagerClosed 管理器已关闭
	ErrManagerClosed = errors.New("relay: manager closed")

	// ErrSetFull 路由集合已达上限
	ErrSetFull = errors.New("relay: relay set full")

	// ErrCannotRelayToSelf 不能以自身为中继
	ErrCannotRelayToSelf = errors.New("relay: cannot relay to self")
)

// 跨线路的错误，与 relaypb 中的定义相同
var (
	// ErrCapacityExceeded 中继已满
	ErrCapacityExceeded = relaypb.ErrCapacityExceeded

	// ErrDestinationNotRelayedHere 目标未在此中继注册
	ErrDestinationNotRelayedHere = relaypb.ErrDestinationNotRelayedHere
)
