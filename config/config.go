// Package config 提供统一的配置管理
//
// 本包采用混合配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义
//   - 支持从 JSON / TOML 加载，保存为 JSON
//
// 使用示例：
//
//	// 创建默认配置
//	cfg := config.NewConfig()
//	cfg.Relay.EnableServer = true
//	cfg.NAT.FirewalledTCP = true
//
//	// 从文件加载（按扩展名选择 JSON 或 TOML）
//	cfg, err := config.LoadFile("relaydht.toml")
package config

// Config 是 relaydht 节点的完整配置结构
//
// 配置按照功能模块组织：
//   - Identity: 节点标识
//   - Transport: 传输（tcp / memory）
//   - NAT: 声明的防火墙状态
//   - Relay: 中继客户端与服务端
//   - Routing: 路由表容量与失败阈值
//   - Bootstrap: 引导端点
//   - Log: 日志
type Config struct {
	// Identity 身份配置
	Identity IdentityConfig `json:"identity" toml:"identity"`

	// Transport 传输层配置
	Transport TransportConfig `json:"transport" toml:"transport"`

	// NAT 防火墙配置
	NAT NATConfig `json:"nat" toml:"nat"`

	// Relay 中继配置
	Relay RelayConfig `json:"relay" toml:"relay"`

	// Routing 路由表配置
	Routing RoutingConfig `json:"routing" toml:"routing"`

	// Bootstrap 引导配置
	Bootstrap BootstrapConfig `json:"bootstrap" toml:"bootstrap"`

	// Log 日志配置
	Log LogConfig `json:"log" toml:"log"`
}

// NewConfig 创建默认配置
//
// 返回的配置使用所有组件的默认值，适用于大多数场景。
func NewConfig() *Config {
	return &Config{
		Identity:  DefaultIdentityConfig(),
		Transport: DefaultTransportConfig(),
		NAT:       DefaultNATConfig(),
		Relay:     DefaultRelayConfig(),
		Routing:   DefaultRoutingConfig(),
		Bootstrap: DefaultBootstrapConfig(),
		Log:       DefaultLogConfig(),
	}
}

// Validate 验证配置的有效性
//
// 返回的错误都包装 ErrInvalidConfig。
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	validators := []func() error{
		c.Identity.Validate,
		c.Transport.Validate,
		c.NAT.Validate,
		c.Relay.Validate,
		c.Routing.Validate,
		c.Bootstrap.Validate,
		c.Log.Validate,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}
