package config

// BootstrapConfig 引导配置
type BootstrapConfig struct {
	// Peers 引导端点列表
	Peers []string `json:"peers,omitempty" toml:"peers"`
}

// DefaultBootstrapConfig 返回默认引导配置
func DefaultBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{}
}

// Validate 验证引导配置
func (c BootstrapConfig) Validate() error {
	for i, p := range c.Peers {
		if p == "" {
			return invalid("bootstrap.peers[%d] is empty", i)
		}
	}
	return nil
}
