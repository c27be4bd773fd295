package server

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-relaydht/config"
	"github.com/dep2p/go-relaydht/internal/core/metrics"
	"github.com/dep2p/go-relaydht/internal/core/routing"
	"github.com/dep2p/go-relaydht/internal/util/logger"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
)

var log = logger.Logger("relay.server")

// ConfigFromUnified 从统一配置创建服务端配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	s := cfg.Relay.Server
	return Config{
		MaxPeers:       s.MaxPeers,
		ForwardTimeout: s.ForwardTimeout.Duration(),
		ForwardRate:    s.ForwardRate,
		ForwardBurst:   s.ForwardBurst,
	}
}

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Table      *routing.Table `optional:"true"`
	Identity   routing.IdentityFunc
	Metrics    *metrics.Metrics `optional:"true"`
}

// ProvideServer 提供转发表与服务端
func ProvideServer(in ModuleInput) (*Forwarder, *Server) {
	fwd := NewForwarder(ConfigFromUnified(in.UnifiedCfg), in.Metrics)
	return fwd, NewServer(fwd, in.Table, in.Identity)
}

// Module 返回 Fx 模块
//
// 转发表总是提供；只有启用服务端时才安装处理器。
func Module() fx.Option {
	return fx.Module("relay.server",
		fx.Provide(ProvideServer),
		fx.Invoke(registerLifecycle),
	)
}

type lifecycleInput struct {
	fx.In

	LC         fx.Lifecycle
	UnifiedCfg *config.Config `optional:"true"`
	Server     *Server
	Transport  pkgif.Transport
}

func registerLifecycle(in lifecycleInput) error {
	if in.UnifiedCfg == nil || !in.UnifiedCfg.Relay.EnableServer {
		return nil
	}
	if err := in.Server.Register(in.Transport.Registry()); err != nil {
		return err
	}
	in.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("中继服务端已启用", "max_peers", in.Server.Forwarder().Config().MaxPeers)
			return nil
		},
		OnStop: func(context.Context) error {
			in.Server.Unregister(in.Transport.Registry())
			return in.Server.Forwarder().Close()
		},
	})
	return nil
}
