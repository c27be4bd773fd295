package config

import (
	"time"

	"github.com/dep2p/go-relaydht/pkg/types"
)

// 中继选择策略
const (
	RelayPolicyFirst   = "first"
	RelayPolicyClosest = "closest"
	RelayPolicyRandom  = "random"
)

// RelayConfig 中继配置
//
//   - 客户端模式: 被防火墙阻挡时从已验证节点中选择中继并保持中继集合
//   - 服务端模式: 为其他节点提供转发服务
type RelayConfig struct {
	// EnableClient 启用中继客户端
	EnableClient bool `json:"enable_client" toml:"enable_client"`

	// EnableServer 启用中继服务端
	EnableServer bool `json:"enable_server" toml:"enable_server"`

	// Relays 目标中继数 K
	Relays int `json:"relays" toml:"relays"`

	// MaxRelays 通告的中继端点上限
	MaxRelays int `json:"max_relays" toml:"max_relays"`

	// Policy 候选排序策略: first / closest / random
	Policy string `json:"policy" toml:"policy"`

	// StaticRelays 优先尝试的中继端点
	StaticRelays []string `json:"static_relays,omitempty" toml:"static_relays"`

	// SetupTimeout 单个中继建立超时
	SetupTimeout Duration `json:"setup_timeout" toml:"setup_timeout"`

	// MaintenanceInterval 维护周期
	MaintenanceInterval Duration `json:"maintenance_interval" toml:"maintenance_interval"`

	// PingTimeout 维护时探测中继的超时
	PingTimeout Duration `json:"ping_timeout" toml:"ping_timeout"`

	// Server 服务端配置
	Server RelayServerConfig `json:"server" toml:"server"`
}

// RelayServerConfig 中继服务端配置
type RelayServerConfig struct {
	// MaxPeers 最多服务的节点数
	MaxPeers int `json:"max_peers" toml:"max_peers"`

	// ForwardTimeout 单次转发超时
	ForwardTimeout Duration `json:"forward_timeout" toml:"forward_timeout"`

	// ForwardRate 每个被服务节点每秒可转发的消息数
	ForwardRate float64 `json:"forward_rate" toml:"forward_rate"`

	// ForwardBurst 转发突发上限
	ForwardBurst int `json:"forward_burst" toml:"forward_burst"`
}

// DefaultRelayConfig 返回默认中继配置
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		EnableClient:        true,
		EnableServer:        false,
		Relays:              2,
		MaxRelays:           types.MaxRelays,
		Policy:              RelayPolicyFirst,
		SetupTimeout:        Duration(10 * time.Second),
		MaintenanceInterval: Duration(30 * time.Second),
		PingTimeout:         Duration(5 * time.Second),
		Server: RelayServerConfig{
			MaxPeers:       16,
			ForwardTimeout: Duration(10 * time.Second),
			ForwardRate:    50,
			ForwardBurst:   100,
		},
	}
}

// Validate 验证中继配置
func (c RelayConfig) Validate() error {
	if c.Relays <= 0 {
		return invalid("relay.relays must be positive")
	}
	if c.MaxRelays <= 0 || c.MaxRelays > types.MaxRelays {
		return invalid("relay.max_relays must be in [1, %d]", types.MaxRelays)
	}
	switch c.Policy {
	case RelayPolicyFirst, RelayPolicyClosest, RelayPolicyRandom:
	default:
		return invalid("relay.policy %q", c.Policy)
	}
	if c.SetupTimeout <= 0 || c.MaintenanceInterval <= 0 || c.PingTimeout <= 0 {
		return invalid("relay timeouts must be positive")
	}
	if c.EnableServer {
		if c.Server.MaxPeers <= 0 {
			return invalid("relay.server.max_peers must be positive")
		}
		if c.Server.ForwardTimeout <= 0 {
			return invalid("relay.server.forward_timeout must be positive")
		}
		if c.Server.ForwardRate < 0 || c.Server.ForwardBurst < 0 {
			return invalid("relay.server forward limits must not be negative")
		}
	}
	return nil
}
