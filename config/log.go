package config

import (
	"strings"

	"github.com/dep2p/go-relaydht/internal/util/logger"
)

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别: debug / info / warn / error
	Level string `json:"level" toml:"level"`

	// Format 输出格式: text / json
	Format string `json:"format" toml:"format"`
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "text",
	}
}

// Validate 验证日志配置
func (c LogConfig) Validate() error {
	if c.Level != "" {
		if _, ok := logger.ParseLevel(c.Level); !ok {
			return invalid("log.level %q", c.Level)
		}
	}
	switch strings.ToLower(c.Format) {
	case "", "text", "json":
	default:
		return invalid("log.format %q", c.Format)
	}
	return nil
}

// Apply 将配置应用到日志系统
func (c LogConfig) Apply() {
	logger.Apply(c.Level, c.Format)
}
