package protocol

import "errors"

// 注册表错误定义
var (
	// ErrKindNotRegistered 类型未注册
	ErrKindNotRegistered = errors.New("protocol: kind not registered")

	// ErrDuplicateKind 类型已注册
	ErrDuplicateKind = errors.New("protocol: kind already registered")

	// ErrInvalidKind 无效的类型或处理器
	ErrInvalidKind = errors.New("protocol: invalid kind or handler")
)
