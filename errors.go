package relaydht

import (
	"errors"

	"github.com/dep2p/go-relaydht/internal/core/messaging"
	"github.com/dep2p/go-relaydht/internal/core/relay"
	"github.com/dep2p/go-relaydht/internal/core/relay/server"
)

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 节点生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotStarted 节点未启动
	ErrNotStarted = errors.New("node not started")

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("node already started")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("node closed")

	// ────────────────────────────────────────────────────────────────────────
	// 中继相关错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNoRelaysAvailable 没有任何候选成功建立中继
	ErrNoRelaysAvailable = relay.ErrNoRelaysAvailable

	// ErrConnectionFailed 单个候选建立失败
	ErrConnectionFailed = relay.ErrConnectionFailed

	// ErrRouteLost 目标的中继都无法转发
	ErrRouteLost = messaging.ErrRouteLost

	// ErrCapacityExceeded 中继服务的节点数已满
	ErrCapacityExceeded = server.ErrCapacityExceeded

	// ErrDestinationNotRelayedHere 目标未在该中继注册
	ErrDestinationNotRelayedHere = server.ErrDestinationNotRelayedHere
)
