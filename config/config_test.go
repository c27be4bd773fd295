package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-relaydht/pkg/types"
)

// TestNewConfig 测试创建默认配置
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, 2, cfg.Relay.Relays)
	assert.Equal(t, types.MaxRelays, cfg.Relay.MaxRelays)
	assert.Equal(t, RelayPolicyFirst, cfg.Relay.Policy)
	assert.Equal(t, TransportTCP, cfg.Transport.Kind)

	t.Log("✅ NewConfig 测试通过")
}

// TestConfig_Validate 测试配置验证
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"transport kind", func(c *Config) { c.Transport.Kind = "quic" }},
		{"listen addr", func(c *Config) { c.Transport.ListenAddr = "" }},
		{"relays", func(c *Config) { c.Relay.Relays = 0 }},
		{"max relays", func(c *Config) { c.Relay.MaxRelays = 6 }},
		{"policy", func(c *Config) { c.Relay.Policy = "fastest" }},
		{"server capacity", func(c *Config) { c.Relay.EnableServer = true; c.Relay.Server.MaxPeers = 0 }},
		{"routing", func(c *Config) { c.Routing.MaxFailures = 0 }},
		{"store ttl", func(c *Config) { c.Routing.StorePath = "data"; c.Routing.StoreTTL = 0 }},
		{"bootstrap", func(c *Config) { c.Bootstrap.Peers = []string{""} }},
		{"log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"identity", func(c *Config) { c.Identity.ID = "not-an-id" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	var nilCfg *Config
	assert.ErrorIs(t, nilCfg.Validate(), ErrInvalidConfig)

	t.Log("✅ Config.Validate 测试通过")
}

// TestIdentityConfig 测试身份解析
func TestIdentityConfig(t *testing.T) {
	seeded, err := IdentityConfig{Seed: "node-a"}.Resolve()
	require.NoError(t, err)
	again, err := IdentityConfig{Seed: "node-a"}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, seeded, again)

	explicit, err := IdentityConfig{ID: seeded.Hex(), Seed: "ignored"}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, seeded, explicit)

	random, err := IdentityConfig{}.Resolve()
	require.NoError(t, err)
	assert.False(t, random.IsEmpty())
}

// TestFromJSON 测试 JSON 加载
func TestFromJSON(t *testing.T) {
	cfg, err := FromJSON([]byte(`{
		"nat": {"firewalled_tcp": true},
		"relay": {"relays": 3, "maintenance_interval": "1m", "policy": "closest"},
		"bootstrap": {"peers": ["10.0.0.1:4001"]}
	}`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.NAT.FirewalledTCP)
	assert.True(t, cfg.NAT.Firewalled())
	assert.Equal(t, 3, cfg.Relay.Relays)
	assert.Equal(t, time.Minute, cfg.Relay.MaintenanceInterval.Duration())
	assert.Equal(t, RelayPolicyClosest, cfg.Relay.Policy)
	// 未出现的字段保留默认值
	assert.Equal(t, 64, cfg.Transport.MaxChannels)

	out, err := cfg.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(out), `"maintenance_interval": "1m0s"`)

	_, err = FromJSON([]byte(`{"relay": {"setup_timeout": "soon"}}`))
	assert.Error(t, err)
}

// TestLoadFile 测试按扩展名加载
func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	tomlPath := filepath.Join(dir, "relaydht.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(`
[transport]
kind = "memory"
listen_addr = "node-a"

[relay]
enable_server = true
relays = 4
setup_timeout = "3s"

[relay.server]
max_peers = 8
forward_timeout = "2s"
forward_rate = 10.0
forward_burst = 20
`), 0o600))

	cfg, err := LoadFile(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, TransportMemory, cfg.Transport.Kind)
	assert.True(t, cfg.Relay.EnableServer)
	assert.Equal(t, 4, cfg.Relay.Relays)
	assert.Equal(t, 3*time.Second, cfg.Relay.SetupTimeout.Duration())
	assert.Equal(t, 8, cfg.Relay.Server.MaxPeers)

	jsonPath := filepath.Join(dir, "relaydht.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"routing": {"max_failures": 0}}`), 0o600))
	_, err = LoadFile(jsonPath)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	yamlPath := filepath.Join(dir, "relaydht.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("x: 1"), 0o600))
	_, err = LoadFile(yamlPath)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	t.Log("✅ LoadFile 测试通过")
}

// TestDuration 测试 Duration 编解码
func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"250ms"`)))
	assert.Equal(t, 250*time.Millisecond, d.Duration())

	require.NoError(t, d.UnmarshalJSON([]byte(`1000`)))
	assert.Equal(t, time.Microsecond, d.Duration())

	assert.Error(t, d.UnmarshalJSON([]byte(`true`)))

	text, err := Duration(90 * time.Second).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))
}
