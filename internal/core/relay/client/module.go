package client

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-relaydht/config"
	"github.com/dep2p/go-relaydht/internal/core/liveness"
	"github.com/dep2p/go-relaydht/internal/core/relay"
	"github.com/dep2p/go-relaydht/internal/core/routing"
	"github.com/dep2p/go-relaydht/internal/util/logger"
)

var log = logger.Logger("relay.client")

// ConfigFromUnified 从统一配置创建维护循环配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return Config{
		Interval:      cfg.Relay.MaintenanceInterval.Duration(),
		PingTimeout:   cfg.Relay.PingTimeout.Duration(),
		Relays:        cfg.Relay.Relays,
		Bootstrap:     cfg.Bootstrap.Peers,
		AnnouncePeers: cfg.Routing.AnnouncePeers,
	}
}

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Manager    *relay.Manager
	Liveness   *liveness.Service
	Table      *routing.Table
	Announcer  *routing.Announcer
	Clock      clock.Clock `optional:"true"`
}

// ProvideMaintainer 提供维护循环
func ProvideMaintainer(in ModuleInput) *Maintainer {
	return NewMaintainer(ConfigFromUnified(in.UnifiedCfg), in.Manager, in.Liveness, in.Table, in.Announcer, in.Clock)
}

// Module 返回 Fx 模块
//
// 维护循环不随应用启动，由节点在需要中继时启动；应用停止时一并停止。
func Module() fx.Option {
	return fx.Module("relay.client",
		fx.Provide(ProvideMaintainer),
		fx.Invoke(registerLifecycle),
	)
}

func registerLifecycle(lc fx.Lifecycle, m *Maintainer, mgr *relay.Manager) {
	mgr.OnRouteLost(func(r *relay.Route) {
		if m.IsRunning() {
			log.Debug("路由丢失，提前维护", "relay", r.Remote().ID().ShortString())
			m.Trigger()
		}
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return m.Stop()
		},
	})
}
