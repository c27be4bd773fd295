// Package logger 提供 relaydht 的统一日志系统
//
// 基于标准库 log/slog，支持：
//   - 按子系统配置日志级别
//   - 环境变量配置（RELAYDHT_LOG_LEVEL, RELAYDHT_LOG_FORMAT）
//   - 运行时切换输出目标、级别与格式
//
// 使用示例:
//
//	package relay
//
//	import "github.com/dep2p/go-relaydht/internal/util/logger"
//
//	var log = logger.Logger("relay")
//
//	func foo() {
//	    log.Info("relay route established", "relay", id.ShortString())
//	}
package logger

import (
	"io"
	"log/slog"
	"sync"
)

var (
	// loggers 缓存各子系统的 Logger
	loggers sync.Map // map[string]*slog.Logger

	// handlers 缓存各子系统的 Handler（用于动态调整级别）
	handlers sync.Map // map[string]*subsystemHandler

	globalLogger     *slog.Logger
	globalLoggerOnce sync.Once
)

func init() {
	globalFormat.Store(int32(ConfigFromEnv().Format))
}

// Logger 获取指定子系统的 Logger
//
// 同一子系统多次调用会返回相同的 Logger 实例。
func Logger(subsystem string) *slog.Logger {
	if l, ok := loggers.Load(subsystem); ok {
		return l.(*slog.Logger)
	}

	cfg := ConfigFromEnv()
	handler := newHandler(subsystem, cfg.LevelForSubsystem(subsystem))
	logger := slog.New(handler)

	actual, loaded := loggers.LoadOrStore(subsystem, logger)
	if !loaded {
		handlers.Store(subsystem, handler)
	}
	return actual.(*slog.Logger)
}

// GlobalLogger 返回全局 Logger
func GlobalLogger() *slog.Logger {
	globalLoggerOnce.Do(func() {
		globalLogger = Logger("relaydht")
	})
	return globalLogger
}

// SetLevel 动态设置子系统的日志级别
func SetLevel(subsystem string, level slog.Level) {
	if h, ok := handlers.Load(subsystem); ok {
		h.(*subsystemHandler).SetLevel(level)
	}
}

// SetGlobalLevel 设置所有子系统的日志级别
//
// 环境变量中按子系统指定的级别仍然优先。
func SetGlobalLevel(level slog.Level) {
	cfg := ConfigFromEnv()
	handlers.Range(func(key, value any) bool {
		if _, pinned := cfg.SubsystemLevels[key.(string)]; pinned {
			return true
		}
		value.(*subsystemHandler).SetLevel(level)
		return true
	})
	cfg.DefaultLevel = level
}

// SetFormat 切换全部 Logger 的输出格式
func SetFormat(format LogFormat) {
	globalFormat.Store(int32(format))
}

// Apply 按配置文件中的级别与格式调整日志系统
//
// level 为空时保持当前级别；无法识别的级别被忽略。
func Apply(level, format string) {
	if level != "" {
		if lvl, ok := ParseLevel(level); ok {
			SetGlobalLevel(lvl)
		}
	}
	if format != "" {
		SetFormat(ParseFormat(format))
	}
}

// Discard 返回一个丢弃所有日志的 Logger
func Discard() *slog.Logger {
	return slog.New(DiscardHandler())
}

// With 创建带有预设属性的 Logger
func With(subsystem string, args ...any) *slog.Logger {
	return Logger(subsystem).With(args...)
}

// SetOutput 设置全局日志输出目标
//
// 已创建的 Logger 同样生效。
func SetOutput(w io.Writer) {
	globalOutputMu.Lock()
	globalOutput = w
	globalOutputMu.Unlock()
}
