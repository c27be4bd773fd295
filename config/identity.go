package config

import "github.com/dep2p/go-relaydht/pkg/types"

// IdentityConfig 身份配置
//
// 节点标识的来源，按优先级：
//   - ID: 直接给出的 40 位十六进制或 base58 标识
//   - Seed: 由种子字符串派生（同一种子总得到同一标识）
//   - 都为空时随机生成
type IdentityConfig struct {
	// ID 节点标识
	ID string `json:"id,omitempty" toml:"id"`

	// Seed 派生标识的种子
	Seed string `json:"seed,omitempty" toml:"seed"`
}

// DefaultIdentityConfig 返回默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{}
}

// Validate 验证身份配置
func (c IdentityConfig) Validate() error {
	if c.ID == "" {
		return nil
	}
	if _, err := types.ParseID(c.ID); err != nil {
		return invalid("identity.id: %v", err)
	}
	return nil
}

// Resolve 返回配置对应的节点标识
func (c IdentityConfig) Resolve() (types.ID, error) {
	switch {
	case c.ID != "":
		id, err := types.ParseID(c.ID)
		if err != nil {
			return types.EmptyID, invalid("identity.id: %v", err)
		}
		return id, nil
	case c.Seed != "":
		return types.IDFromKey([]byte(c.Seed)), nil
	default:
		return types.RandomID(), nil
	}
}
