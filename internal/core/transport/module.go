package transport

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/dep2p/go-relaydht/config"
	"github.com/dep2p/go-relaydht/internal/core/transport/base"
	"github.com/dep2p/go-relaydht/internal/core/transport/memory"
	"github.com/dep2p/go-relaydht/internal/core/transport/tcp"
	"github.com/dep2p/go-relaydht/internal/util/logger"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
)

var log = logger.Logger("transport")

// Config 传输层配置
type Config struct {
	Kind       string
	ListenAddr string
	Options    base.Options
}

// ConfigFromUnified 从统一配置创建传输配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return NewConfig()
	}
	return Config{
		Kind:       cfg.Transport.Kind,
		ListenAddr: cfg.Transport.ListenAddr,
		Options: base.Options{
			MaxChannels:    cfg.Transport.MaxChannels,
			DialTimeout:    cfg.Transport.DialTimeout.Duration(),
			RequestTimeout: cfg.Transport.RequestTimeout.Duration(),
		},
	}
}

// NewConfig 创建默认配置
func NewConfig() Config {
	def := config.DefaultTransportConfig()
	return Config{
		Kind:       def.Kind,
		ListenAddr: def.ListenAddr,
		Options:    base.DefaultOptions(),
	}
}

// New 按配置创建传输
//
// memory 传输需要 network；为空时返回错误。
func New(cfg Config, registry pkgif.ProtocolRegistry, network *memory.Network) (pkgif.Transport, error) {
	switch cfg.Kind {
	case config.TransportTCP:
		log.Debug("创建 TCP 传输", "listen", cfg.ListenAddr)
		return tcp.NewTransport(cfg.ListenAddr, registry, cfg.Options), nil
	case config.TransportMemory:
		if network == nil {
			return nil, fmt.Errorf("transport: memory transport requires a network")
		}
		log.Debug("创建进程内传输", "endpoint", cfg.ListenAddr)
		return network.NewTransport(cfg.ListenAddr, registry, cfg.Options), nil
	default:
		return nil, fmt.Errorf("transport: unknown kind %q", cfg.Kind)
	}
}

// Params 传输依赖参数
type Params struct {
	fx.In

	Config   Config
	Registry pkgif.ProtocolRegistry
	Network  *memory.Network `optional:"true"`
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("transport",
		fx.Provide(
			ProvideConfig,
			ProvideTransport,
		),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideConfig 从统一配置提供传输配置
func ProvideConfig(cfg *config.Config) Config {
	return ConfigFromUnified(cfg)
}

// ProvideTransport 提供传输
func ProvideTransport(p Params) (pkgif.Transport, error) {
	return New(p.Config, p.Registry, p.Network)
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, tr pkgif.Transport) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := tr.Listen(ctx); err != nil {
				return err
			}
			log.Info("传输已启动", "endpoint", tr.Endpoint())
			return nil
		},
		OnStop: func(_ context.Context) error {
			return tr.Close()
		},
	})
}
