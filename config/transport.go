package config

import "time"

// 传输类型
const (
	TransportTCP    = "tcp"
	TransportMemory = "memory"
)

// TransportConfig 传输层配置
type TransportConfig struct {
	// Kind 传输类型: "tcp" 或 "memory"
	Kind string `json:"kind" toml:"kind"`

	// ListenAddr 监听地址
	// tcp 为 host:port；memory 为任意唯一字符串
	ListenAddr string `json:"listen_addr" toml:"listen_addr"`

	// MaxChannels 出站通道上限
	MaxChannels int `json:"max_channels" toml:"max_channels"`

	// DialTimeout 拨号超时
	DialTimeout Duration `json:"dial_timeout" toml:"dial_timeout"`

	// RequestTimeout 请求超时
	RequestTimeout Duration `json:"request_timeout" toml:"request_timeout"`
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Kind:           TransportTCP,
		ListenAddr:     "0.0.0.0:4001",
		MaxChannels:    64,
		DialTimeout:    Duration(5 * time.Second),
		RequestTimeout: Duration(10 * time.Second),
	}
}

// Validate 验证传输配置
func (c TransportConfig) Validate() error {
	if c.Kind != TransportTCP && c.Kind != TransportMemory {
		return invalid("transport.kind %q", c.Kind)
	}
	if c.ListenAddr == "" {
		return invalid("transport.listen_addr is empty")
	}
	if c.MaxChannels <= 0 {
		return invalid("transport.max_channels must be positive")
	}
	if c.DialTimeout <= 0 || c.RequestTimeout <= 0 {
		return invalid("transport timeouts must be positive")
	}
	return nil
}
