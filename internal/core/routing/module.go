package routing

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-relaydht/config"
	"github.com/dep2p/go-relaydht/internal/core/metrics"
	"github.com/dep2p/go-relaydht/internal/util/logger"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
	"github.com/dep2p/go-relaydht/pkg/types"
)

var log = logger.Logger("routing")

// ConfigFromUnified 从统一配置创建路由表配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return Config{
		MaxVerified:   cfg.Routing.MaxVerified,
		MaxOverflow:   cfg.Routing.MaxOverflow,
		MaxFailures:   cfg.Routing.MaxFailures,
		AnnouncePeers: cfg.Routing.AnnouncePeers,
	}
}

// TableParams 路由表依赖参数
type TableParams struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Self       types.PeerAddress
	Clock      clock.Clock      `optional:"true"`
	Metrics    *metrics.Metrics `optional:"true"`
}

// AnnouncerParams Announcer 依赖参数
type AnnouncerParams struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Table      *Table
	Transport  pkgif.Transport
	Identity   IdentityFunc
	Pinger     Pinger `optional:"true"`
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("routing",
		fx.Provide(
			ProvideTable,
			ProvideAnnouncer,
		),
		fx.Invoke(registerHandlers),
	)
}

// ProvideTable 提供路由表
func ProvideTable(p TableParams) (*Table, error) {
	return NewTable(p.Self.ID(), ConfigFromUnified(p.UnifiedCfg), p.Clock, p.Metrics)
}

// ProvideAnnouncer 提供 Announcer
func ProvideAnnouncer(p AnnouncerParams) *Announcer {
	timeout := config.DefaultRelayConfig().PingTimeout.Duration()
	if p.UnifiedCfg != nil {
		timeout = p.UnifiedCfg.Relay.PingTimeout.Duration()
	}
	return NewAnnouncer(p.Table, p.Transport, p.Identity, p.Pinger, timeout)
}

func registerHandlers(a *Announcer, tr pkgif.Transport) error {
	return a.Register(tr.Registry())
}
