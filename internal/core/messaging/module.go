// Package messaging 提供直接消息服务
package messaging

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-relaydht/internal/core/routing"
	"github.com/dep2p/go-relaydht/internal/util/logger"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
)

// 包级别日志实例
var log = logger.Logger("messaging")

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Transport pkgif.Transport
	Table     *routing.Table `optional:"true"`
	Identity  routing.IdentityFunc
}

// ProvideService 提供消息服务
func ProvideService(input ModuleInput) *Service {
	return NewService(input.Transport, input.Table, input.Identity)
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("messaging",
		fx.Provide(ProvideService),
		fx.Invoke(registerLifecycle),
	)
}

func registerLifecycle(lc fx.Lifecycle, svc *Service, tr pkgif.Transport) error {
	if err := svc.Register(tr.Registry()); err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return svc.Close()
		},
	})
	return nil
}
