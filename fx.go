package relaydht

import (
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/dep2p/go-relaydht/config"
	"github.com/dep2p/go-relaydht/internal/core/liveness"
	"github.com/dep2p/go-relaydht/internal/core/messaging"
	"github.com/dep2p/go-relaydht/internal/core/metrics"
	"github.com/dep2p/go-relaydht/internal/core/protocol"
	"github.com/dep2p/go-relaydht/internal/core/relay"
	"github.com/dep2p/go-relaydht/internal/core/relay/client"
	"github.com/dep2p/go-relaydht/internal/core/relay/server"
	"github.com/dep2p/go-relaydht/internal/core/routing"
	"github.com/dep2p/go-relaydht/internal/core/storage"
	"github.com/dep2p/go-relaydht/internal/core/transport"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
	"github.com/dep2p/go-relaydht/pkg/types"
)

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. 协议注册表 → 传输层（OnStart 监听）
//  2. 指标 → 路由表 → 路由表持久化 → 中继集合管理器（提供本地身份）
//  3. 存活检测 → Announcer → 中继服务端 / 维护循环 → 消息服务
func buildFxApp(cfg *config.Config, self types.PeerAddress, o *options, node *Node) *fx.App {
	modules := []fx.Option{
		// 配置注入
		fx.Supply(cfg),
		fx.Supply(self),

		protocol.Module(),
		transport.Module(),
		metrics.Module(),
		routing.Module(),
		storage.Module(),
		relay.Module(),
		liveness.Module(),
		server.Module(),
		client.Module(),
		messaging.Module(),
	}

	if o.network != nil {
		modules = append(modules, fx.Supply(o.network))
	}
	if o.registerer != nil {
		reg := o.registerer
		modules = append(modules, fx.Provide(func() prometheus.Registerer { return reg }))
	}
	if o.clock != nil {
		clk := o.clock
		modules = append(modules, fx.Provide(func() clock.Clock { return clk }))
	}

	modules = append(modules, o.fxOptions...)
	modules = append(modules,
		fx.Invoke(injectNodeComponents(node)),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	)
	return fx.New(modules...)
}

// nodeInjectParams 注入到 Node 的组件
type nodeInjectParams struct {
	fx.In

	Transport  pkgif.Transport
	Metrics    *metrics.Metrics
	Table      *routing.Table
	Announcer  *routing.Announcer
	Manager    *relay.Manager
	Liveness   *liveness.Service
	Forwarder  *server.Forwarder
	Maintainer *client.Maintainer
	Messaging  *messaging.Service
}

// injectNodeComponents 将 Fx 构建的组件注入到 Node
func injectNodeComponents(node *Node) any {
	return func(p nodeInjectParams) {
		node.transport = p.Transport
		node.metrics = p.Metrics
		node.table = p.Table
		node.announcer = p.Announcer
		node.manager = p.Manager
		node.liveness = p.Liveness
		node.forwarder = p.Forwarder
		node.maintainer = p.Maintainer
		node.messaging = p.Messaging
	}
}
