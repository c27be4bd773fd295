package liveness

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-relaydht/config"
	"github.com/dep2p/go-relaydht/internal/core/routing"
	"github.com/dep2p/go-relaydht/internal/util/logger"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
)

// 包级别日志实例
var log = logger.Logger("liveness")

// ============================================================================
//                              模块输入依赖
// ============================================================================

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Config    *config.Config `optional:"true"`
	Transport pkgif.Transport
	Table     *routing.Table
	Identity  routing.IdentityFunc
	Clock     clock.Clock `optional:"true"`
}

// ModuleOutput 定义模块输出服务
type ModuleOutput struct {
	fx.Out

	Service *Service
	Pinger  routing.Pinger
}

// ProvideServices 提供模块服务
func ProvideServices(input ModuleInput) ModuleOutput {
	timeout := config.DefaultRelayConfig().PingTimeout.Duration()
	if input.Config != nil {
		timeout = input.Config.Relay.PingTimeout.Duration()
	}
	svc := NewService(input.Transport, input.Table, input.Identity, timeout, input.Clock)
	return ModuleOutput{Service: svc, Pinger: svc}
}

// ============================================================================
//                              模块定义
// ============================================================================

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("liveness",
		fx.Provide(ProvideServices),
		fx.Invoke(registerLifecycle),
	)
}

func registerLifecycle(lc fx.Lifecycle, svc *Service, tr pkgif.Transport) error {
	if err := svc.Register(tr.Registry()); err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			log.Debug("存活检测服务已停止")
			return svc.Close()
		},
	})
	return nil
}
