package relay

import (
	"time"

	"github.com/dep2p/go-relaydht/config"
	"github.com/dep2p/go-relaydht/pkg/types"
)

// Config 中继集合配置
type Config struct {
	// Relays 目标中继数 K
	Relays int

	// MaxRelays 通告的中继端点上限
	MaxRelays int

	// SetupTimeout 单个中继建立超时（预留、连接、注册）
	SetupTimeout time.Duration

	// Policy 候选排序策略
	Policy Policy

	// StaticRelays 优先尝试的中继端点
	StaticRelays []string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Relays:       2,
		MaxRelays:    types.MaxRelays,
		SetupTimeout: 10 * time.Second,
		Policy:       PolicyFirst,
	}
}

// ConfigFromUnified 从统一配置创建中继配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return Config{
		Relays:       cfg.Relay.Relays,
		MaxRelays:    cfg.Relay.MaxRelays,
		SetupTimeout: cfg.Relay.SetupTimeout.Duration(),
		Policy:       Policy(cfg.Relay.Policy),
		StaticRelays: cfg.Relay.StaticRelays,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.Relays <= 0 {
		c.Relays = def.Relays
	}
	if c.MaxRelays <= 0 || c.MaxRelays > types.MaxRelays {
		c.MaxRelays = def.MaxRelays
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = def.SetupTimeout
	}
	if c.Policy == "" {
		c.Policy = def.Policy
	}
	return c
}
