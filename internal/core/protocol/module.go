package protocol

import (
	"go.uber.org/fx"

	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
)

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("protocol",
		fx.Provide(
			NewRegistry,
			ProvideRegistry,
		),
	)
}

// ProvideRegistry 以接口形式提供注册表
func ProvideRegistry(r *Registry) pkgif.ProtocolRegistry {
	return r
}
