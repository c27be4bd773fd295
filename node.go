package relaydht

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/dep2p/go-relaydht/config"
	"github.com/dep2p/go-relaydht/internal/core/liveness"
	"github.com/dep2p/go-relaydht/internal/core/messaging"
	"github.com/dep2p/go-relaydht/internal/core/metrics"
	"github.com/dep2p/go-relaydht/internal/core/relay"
	"github.com/dep2p/go-relaydht/internal/core/relay/client"
	"github.com/dep2p/go-relaydht/internal/core/relay/server"
	"github.com/dep2p/go-relaydht/internal/core/routing"
	"github.com/dep2p/go-relaydht/internal/util/logger"
	"github.com/dep2p/go-relaydht/pkg/future"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
	"github.com/dep2p/go-relaydht/pkg/types"
)

var log = logger.Logger("relaydht")

// stopTimeout 关闭 Fx 应用的超时
const stopTimeout = 15 * time.Second

// ════════════════════════════════════════════════════════════════════════════
//                              Node
// ════════════════════════════════════════════════════════════════════════════

// Node relaydht 节点
//
// 组合传输、路由表、中继集合管理器、中继服务端、维护循环与消息服务。
// 所有组件由 Fx 构建，Node 只持有引用并对外提供操作。
type Node struct {
	cfg *config.Config
	app *fx.App

	transport  pkgif.Transport
	metrics    *metrics.Metrics
	table      *routing.Table
	announcer  *routing.Announcer
	manager    *relay.Manager
	liveness   *liveness.Service
	forwarder  *server.Forwarder
	maintainer *client.Maintainer
	messaging  *messaging.Service

	mu      sync.Mutex
	started bool
	closed  bool
}

// New 创建节点（不启动）
//
// cfg 为 nil 时使用默认配置。身份的防火墙标记取自 cfg.NAT。
func New(cfg *config.Config, opts ...Option) (*Node, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	cfg.Log.Apply()

	o := &options{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	id, err := cfg.Identity.Resolve()
	if err != nil {
		return nil, err
	}
	self := types.NewPeerAddress(id, cfg.Transport.ListenAddr).
		WithFirewalled(cfg.NAT.FirewalledTCP, cfg.NAT.FirewalledUDP)

	n := &Node{cfg: cfg}
	n.app = buildFxApp(cfg, self, o, n)
	if err := n.app.Err(); err != nil {
		return nil, fmt.Errorf("build node: %w", err)
	}
	return n, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期
// ════════════════════════════════════════════════════════════════════════════

// Start 启动节点：开始监听并安装协议处理器
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if n.started {
		return ErrAlreadyStarted
	}
	if err := n.app.Start(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	n.started = true

	log.Info("节点已启动",
		"id", n.manager.Identity().ID().ShortString(),
		"endpoint", n.transport.Endpoint(),
		"firewalled", n.cfg.NAT.Firewalled(),
		"relay_server", n.cfg.Relay.EnableServer)
	return nil
}

// Close 关闭节点
//
// 停止维护循环，向中继发送 TEARDOWN，关闭传输。重复调用无副作用。
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	started := n.started
	n.mu.Unlock()

	if !started {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	var errs error
	errs = multierr.Append(errs, n.maintainer.Stop())
	errs = multierr.Append(errs, n.app.Stop(ctx))
	log.Info("节点已关闭", "id", n.manager.Identity().ID().ShortString())
	return errs
}

func (n *Node) checkRunning() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNodeClosed
	}
	if !n.started {
		return ErrNotStarted
	}
	return nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              路由与中继
// ════════════════════════════════════════════════════════════════════════════

// Bootstrap 向配置的引导端点通告本地身份并学习邻居
func (n *Node) Bootstrap(ctx context.Context) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	return n.announcer.Bootstrap(ctx, n.cfg.Bootstrap.Peers)
}

// QueryNeighbours 向节点查询其邻居；节点经由中继时由其中继代为应答
func (n *Node) QueryNeighbours(ctx context.Context, dest types.PeerAddress) ([]types.PeerAddress, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.announcer.QueryNeighbours(ctx, dest)
}

// SetupRelays 从已验证集合中建立中继，使路由集合达到 k 条（k <= 0 使用配置）
func (n *Node) SetupRelays(ctx context.Context, k int) *future.Future[[]*relay.Route] {
	if err := n.checkRunning(); err != nil {
		return future.Failed[[]*relay.Route](err)
	}
	return n.manager.SetupRelays(ctx, n.table.AllVerified(), k)
}

// StartRelay 引导、建立中继并启动维护循环
//
// 有引导端点时先引导，否则只验证已有的候选节点。中继建立后立即通告新身份并向中继发布邻居，
// 然后启动维护循环；中继建立失败时不启动维护循环。
func (n *Node) StartRelay(ctx context.Context) *future.Future[[]*relay.Route] {
	if err := n.checkRunning(); err != nil {
		return future.Failed[[]*relay.Route](err)
	}
	return future.Go(ctx, func(ctx context.Context) ([]*relay.Route, error) {
		if len(n.cfg.Bootstrap.Peers) > 0 {
			if err := n.announcer.Bootstrap(ctx, n.cfg.Bootstrap.Peers); err != nil {
				return nil, err
			}
		} else {
			// 只验证上次保存的候选节点
			n.announcer.VerifyCandidates(ctx)
		}

		f := n.SetupRelays(ctx, n.cfg.Relay.Relays)
		if err := f.Wait(ctx); err != nil {
			f.Cancel()
			return nil, err
		}
		routes, err := f.Result()
		if err != nil {
			return nil, err
		}
		n.maintainer.Publish(ctx)
		if err := n.maintainer.Start(ctx); err != nil {
			return nil, err
		}
		return routes, nil
	})
}

// StartMaintenance 启动中继维护循环
func (n *Node) StartMaintenance(ctx context.Context) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	return n.maintainer.Start(ctx)
}

// StopMaintenance 停止中继维护循环（幂等）
func (n *Node) StopMaintenance() error {
	return n.maintainer.Stop()
}

// ════════════════════════════════════════════════════════════════════════════
//                              消息
// ════════════════════════════════════════════════════════════════════════════

// SendDirect 向目标发送直接消息；目标经由中继时通过其中继转发
func (n *Node) SendDirect(ctx context.Context, dest types.PeerAddress, payload []byte) *future.Future[*relaypb.Message] {
	if err := n.checkRunning(); err != nil {
		return future.Failed[*relaypb.Message](err)
	}
	return n.messaging.SendDirect(ctx, dest, payload)
}

// SetDataHandler 设置应用层数据处理器
func (n *Node) SetDataHandler(h messaging.DataHandler) {
	n.messaging.SetHandler(h)
}

// ════════════════════════════════════════════════════════════════════════════
//                              查询
// ════════════════════════════════════════════════════════════════════════════

// Identity 返回当前通告的网络身份
func (n *Node) Identity() types.PeerAddress {
	return n.manager.Identity()
}

// ID 返回节点标识
func (n *Node) ID() types.ID {
	return n.Identity().ID()
}

// Endpoint 返回本地监听端点
func (n *Node) Endpoint() string {
	return n.transport.Endpoint()
}

// Served 返回本节点作为中继正在服务的节点
func (n *Node) Served() []types.PeerAddress {
	return n.forwarder.All()
}

// Routes 返回当前中继路由
func (n *Node) Routes() []*relay.Route {
	return n.manager.Routes()
}

// Table 返回路由表
func (n *Node) Table() *routing.Table {
	return n.table
}

// Maintainer 返回中继维护循环
func (n *Node) Maintainer() *client.Maintainer {
	return n.maintainer
}

// Metrics 返回指标
func (n *Node) Metrics() *metrics.Metrics {
	return n.metrics
}

// Config 返回节点配置
func (n *Node) Config() *config.Config {
	return n.cfg
}
