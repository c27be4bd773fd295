package relaypb

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Status 应答状态码
type Status int32

const (
	StatusOK Status = iota
	StatusCapacityExceeded
	StatusDestinationNotRelayedHere
	StatusRateLimited
	StatusTimeout
	StatusUnknownKind
	StatusMalformed
	StatusRejected
	StatusInternal
)

// 跨线路保持身份的错误；各包以别名导出
var (
	// ErrCapacityExceeded 中继已满
	ErrCapacityExceeded = errors.New("relay: capacity exceeded")

	// ErrDestinationNotRelayedHere 目标未在此中继注册
	ErrDestinationNotRelayedHere = errors.New("relay: destination not relayed here")

	// ErrRateLimited 转发被限速
	ErrRateLimited = errors.New("relay: rate limited")

	// ErrTimeout 远端处理超时
	ErrTimeout = errors.New("relay: remote timeout")

	// ErrUnknownKind 远端没有该类型的处理器
	ErrUnknownKind = errors.New("relay: unknown message kind")

	// ErrMalformed 消息格式错误
	ErrMalformed = errors.New("relay: malformed message")

	// ErrRejected 远端拒绝请求
	ErrRejected = errors.New("relay: request rejected")

	// ErrRemote 远端内部错误
	ErrRemote = errors.New("relay: remote error")
)

var statusErrors = map[Status]error{
	StatusCapacityExceeded:          ErrCapacityExceeded,
	StatusDestinationNotRelayedHere: ErrDestinationNotRelayedHere,
	StatusRateLimited:               ErrRateLimited,
	StatusTimeout:                   ErrTimeout,
	StatusUnknownKind:               ErrUnknownKind,
	StatusMalformed:                 ErrMalformed,
	StatusRejected:                  ErrRejected,
	StatusInternal:                  ErrRemote,
}

// StatusOf 将错误映射为状态码
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	for status, sentinel := range statusErrors {
		if errors.Is(err, sentinel) {
			return status
		}
	}
	return StatusInternal
}

// StatusError 将状态码与原因还原为错误
//
// 返回的错误包装对应的哨兵错误，可用 errors.Is 判断。
func StatusError(status Status, reason string) error {
	if status == StatusOK {
		return nil
	}
	sentinel, ok := statusErrors[status]
	if !ok {
		sentinel = ErrRemote
	}
	reason = strings.TrimPrefix(reason, sentinel.Error())
	reason = strings.TrimPrefix(reason, ": ")
	if reason == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, reason)
}
