package relay

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-relaydht/config"
	"github.com/dep2p/go-relaydht/internal/core/metrics"
	"github.com/dep2p/go-relaydht/internal/core/routing"
	"github.com/dep2p/go-relaydht/internal/util/logger"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
	"github.com/dep2p/go-relaydht/pkg/types"
)

var log = logger.Logger("relay")

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Self       types.PeerAddress
	Transport  pkgif.Transport
	Table      *routing.Table
	Metrics    *metrics.Metrics `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Manager  *Manager
	Identity routing.IdentityFunc
}

// ProvideManager 提供中继集合管理器及本地身份读取函数
func ProvideManager(in ModuleInput) ModuleOutput {
	m := NewManager(ConfigFromUnified(in.UnifiedCfg), in.Self, in.Transport, in.Table, in.Metrics)
	return ModuleOutput{Manager: m, Identity: m.Identity}
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("relay",
		fx.Provide(ProvideManager),
		fx.Invoke(registerLifecycle),
	)
}

func registerLifecycle(lc fx.Lifecycle, m *Manager, tr pkgif.Transport) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// TCP 监听 :0 时端点在 Listen 后才确定
			if ep := tr.Endpoint(); len(m.Identity().Endpoints()) == 0 || m.Identity().Endpoints()[0] != ep {
				m.SetEndpoints(ep)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return m.Close()
		},
	})
}
