package config

import "time"

// RoutingConfig 路由表配置
type RoutingConfig struct {
	// MaxVerified 已验证集合容量
	MaxVerified int `json:"max_verified" toml:"max_verified"`

	// MaxOverflow 候选集合容量，满时淘汰最久未见的条目
	MaxOverflow int `json:"max_overflow" toml:"max_overflow"`

	// MaxFailures 连续失败达到该值时移除节点
	MaxFailures int `json:"max_failures" toml:"max_failures"`

	// AnnouncePeers 应答 ANNOUNCE 时携带的邻居数
	AnnouncePeers int `json:"announce_peers" toml:"announce_peers"`

	// StorePath 已验证节点的持久化目录（为空不持久化）
	StorePath string `json:"store_path,omitempty" toml:"store_path"`

	// StoreTTL 持久化条目的有效期
	StoreTTL Duration `json:"store_ttl" toml:"store_ttl"`
}

// DefaultRoutingConfig 返回默认路由表配置
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		MaxVerified:   160,
		MaxOverflow:   160,
		MaxFailures:   3,
		AnnouncePeers: 8,
		StoreTTL:      Duration(24 * time.Hour),
	}
}

// Validate 验证路由表配置
func (c RoutingConfig) Validate() error {
	if c.MaxVerified <= 0 || c.MaxOverflow <= 0 {
		return invalid("routing capacities must be positive")
	}
	if c.MaxFailures <= 0 {
		return invalid("routing.max_failures must be positive")
	}
	if c.StorePath != "" && c.StoreTTL <= 0 {
		return invalid("routing.store_ttl must be positive")
	}
	if c.AnnouncePeers < 0 {
		return invalid("routing.announce_peers must not be negative")
	}
	return nil
}
