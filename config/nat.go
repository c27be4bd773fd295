package config

// NATConfig 防火墙配置
//
// 声明节点在两类传输上是否被防火墙阻挡。被阻挡的节点需要建立中继，
// 中继建立后身份中的两个标记都会被清除。
type NATConfig struct {
	// FirewalledTCP 流式传输被阻挡
	FirewalledTCP bool `json:"firewalled_tcp" toml:"firewalled_tcp"`

	// FirewalledUDP 数据报传输被阻挡
	FirewalledUDP bool `json:"firewalled_udp" toml:"firewalled_udp"`
}

// DefaultNATConfig 返回默认配置（直连可达）
func DefaultNATConfig() NATConfig {
	return NATConfig{}
}

// Firewalled 是否在任一传输上被阻挡
func (c NATConfig) Firewalled() bool {
	return c.FirewalledTCP || c.FirewalledUDP
}

// Validate 验证配置
func (c NATConfig) Validate() error {
	return nil
}
