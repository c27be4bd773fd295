package config

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("config: invalid")

	// ErrNilConfig 配置为空
	ErrNilConfig = fmt.Errorf("%w: config is nil", ErrInvalidConfig)

	// ErrUnsupportedFormat 不支持的配置文件格式
	ErrUnsupportedFormat = errors.New("config: unsupported file format")
)

// invalid 构造包装 ErrInvalidConfig 的错误
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
}
