package client

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-relaydht/internal/core/relay"
	"github.com/dep2p/go-relaydht/internal/core/routing"
	"github.com/dep2p/go-relaydht/pkg/future"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
)

// ============================================================================
//                              配置
// ============================================================================

// Config 维护循环配置
type Config struct {
	// Interval 维护周期
	Interval time.Duration

	// PingTimeout 探测单条路由的超时
	PingTimeout time.Duration

	// Relays 目标中继数 K
	Relays int

	// Bootstrap 每轮重新通告身份的引导端点
	Bootstrap []string

	// AnnouncePeers 每轮向多少个已验证邻居通告身份
	AnnouncePeers int

	// Neighbours 每轮向中继发布的邻居数
	Neighbours int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Interval:      30 * time.Second,
		PingTimeout:   5 * time.Second,
		Relays:        2,
		AnnouncePeers: 8,
		Neighbours:    32,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = def.PingTimeout
	}
	if c.Relays <= 0 {
		c.Relays = def.Relays
	}
	if c.AnnouncePeers <= 0 {
		c.AnnouncePeers = def.AnnouncePeers
	}
	if c.Neighbours <= 0 {
		c.Neighbours = def.Neighbours
	}
	return c
}

// RoutePinger 在已有连接上探测远端
type RoutePinger interface {
	Ping(ctx context.Context, conn pkgif.Connection) *future.Future[time.Duration]
}

// Round 一轮维护的结果
type Round struct {
	// Checked 探测的路由数
	Checked int

	// Failed 探测失败或已丢失的路由数
	Failed int

	// Replaced 成功替换的路由数
	Replaced int

	// Added 补足集合时新建的路由数
	Added int

	// Unreachable 未回应存活检查的已验证邻居数
	Unreachable int

	// Routes 本轮结束时的路由数
	Routes int
}

// ============================================================================
//                              Maintainer 维护循环
// ============================================================================

// Maintainer 中继维护循环
//
// 绑定一个节点的 Manager：周期性探测路由、替换失败的中继、补足到 K 条，
// 检查已验证邻居，向邻居与引导节点重新通告当前身份，并向每个中继发布邻居集合。
type Maintainer struct {
	cfg       Config
	mgr       *relay.Manager
	pinger    RoutePinger
	announcer *routing.Announcer
	table     *routing.Table
	clock     clock.Clock

	mu      sync.Mutex // 保护 running 的切换与 cancel、done
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	roundMu sync.Mutex
	trigger chan struct{}
	rounds  atomic.Uint64
}

// NewMaintainer 创建维护循环
//
// announcer 为 nil 时不通告身份；clk 为 nil 时使用系统时钟。
func NewMaintainer(cfg Config, mgr *relay.Manager, pinger RoutePinger, table *routing.Table, announcer *routing.Announcer, clk clock.Clock) *Maintainer {
	if clk == nil {
		clk = clock.New()
	}
	return &Maintainer{
		cfg:       cfg.normalize(),
		mgr:       mgr,
		pinger:    pinger,
		announcer: announcer,
		table:     table,
		clock:     clk,
		trigger:   make(chan struct{}, 1),
	}
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 启动维护循环
//
// 重复调用无副作用。循环不随 ctx 取消，由 Stop 结束。
func (m *Maintainer) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running.Load() {
		return nil
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ticker := m.clock.Ticker(m.cfg.Interval)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	m.running.Store(true)

	go m.loop(ctx, ticker, done)

	log.Info("中继维护已启动", "interval", m.cfg.Interval, "relays", m.cfg.Relays)
	return nil
}

// Stop 停止维护循环并等待当前一轮结束
//
// 重复调用无副作用；已建立的路由保持不变。
func (m *Maintainer) Stop() error {
	m.mu.Lock()
	if !m.running.Load() {
		m.mu.Unlock()
		return nil
	}
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.running.Store(false)
	m.mu.Unlock()

	cancel()
	<-done
	log.Info("中继维护已停止", "rounds", m.rounds.Load())
	return nil
}

// IsRunning 是否正在运行
func (m *Maintainer) IsRunning() bool {
	return m.running.Load()
}

// Trigger 请求尽快执行一轮维护
//
// 已有待执行的请求时合并。
func (m *Maintainer) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Rounds 返回已完成的轮数
func (m *Maintainer) Rounds() uint64 {
	return m.rounds.Load()
}

func (m *Maintainer) loop(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.trigger:
		}
		m.RunOnce(ctx)
	}
}

// ============================================================================
//                              单轮维护
// ============================================================================

// RunOnce 执行一轮维护
func (m *Maintainer) RunOnce(ctx context.Context) Round {
	m.roundMu.Lock()
	defer m.roundMu.Unlock()
	defer m.rounds.Add(1)

	var round Round
	failed := m.checkRoutes(ctx, &round)

	for _, r := range failed {
		if ctx.Err() != nil {
			return round
		}
		f := m.mgr.ReplaceFailedRoute(ctx, r)
		if err := f.Wait(ctx); err != nil {
			f.Cancel()
			return round
		}
		if f.IsSuccess() {
			round.Replaced++
		}
	}

	m.topUp(ctx, &round)
	if m.announcer != nil && ctx.Err() == nil {
		round.Unreachable = m.announcer.CheckVerified(ctx)
	}
	m.Publish(ctx)

	round.Routes = len(m.mgr.Routes())
	log.Debug("中继维护完成",
		"checked", round.Checked,
		"failed", round.Failed,
		"replaced", round.Replaced,
		"added", round.Added,
		"unreachable", round.Unreachable,
		"routes", round.Routes)
	return round
}

// Publish 通告当前身份并向每个中继发布邻居集合
//
// 每轮维护结束时执行；建立中继后也应立即调用一次，使其他节点不必等到第一轮。
func (m *Maintainer) Publish(ctx context.Context) {
	m.announce(ctx)
	m.publishNeighbours(ctx)
}

// checkRoutes 并行探测所有路由，返回失败或已丢失的路由
func (m *Maintainer) checkRoutes(ctx context.Context, round *Round) []*relay.Route {
	routes := m.mgr.Routes()
	round.Checked = len(routes)
	bad := make([]bool, len(routes))

	var g errgroup.Group
	for i, r := range routes {
		if r.IsLost() {
			bad[i] = true
			continue
		}
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, m.cfg.PingTimeout)
			defer cancel()
			f := m.pinger.Ping(pctx, r.Conn())
			if err := f.Wait(pctx); err != nil {
				f.Cancel()
				bad[i] = true
				return nil
			}
			if !f.IsSuccess() {
				log.Debug("中继探测失败", "relay", r.Remote().ID().ShortString(), "err", f.Err())
				bad[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	var failed []*relay.Route
	for i, r := range routes {
		if bad[i] {
			failed = append(failed, r)
		}
	}
	round.Failed = len(failed)
	return failed
}

// topUp 从已验证集合补足到 K 条路由
func (m *Maintainer) topUp(ctx context.Context, round *Round) {
	before := len(m.mgr.Routes())
	if before >= m.cfg.Relays || ctx.Err() != nil {
		return
	}

	f := m.mgr.SetupRelays(ctx, m.table.AllVerified(), m.cfg.Relays)
	if err := f.Wait(ctx); err != nil {
		f.Cancel()
		return
	}
	if err := f.Err(); err != nil {
		if !errors.Is(err, relay.ErrNoRelaysAvailable) {
			log.Warn("补足中继失败", "err", err)
		}
		return
	}
	round.Added = len(f.Value()) - before
}

// publishNeighbours 在每条路由上发布离本节点最近的已验证邻居
func (m *Maintainer) publishNeighbours(ctx context.Context) {
	routes := m.mgr.Routes()
	if len(routes) == 0 || ctx.Err() != nil {
		return
	}
	identity := m.mgr.Identity()
	peers := m.table.Closest(identity.ID(), m.cfg.Neighbours)

	var g errgroup.Group
	for _, r := range routes {
		if r.IsLost() {
			continue
		}
		g.Go(func() error {
			msg := relaypb.NewRequest(relaypb.KindNeighbours, identity)
			msg.Peers = peers

			pctx, cancel := context.WithTimeout(ctx, m.cfg.PingTimeout)
			defer cancel()
			f := r.Conn().Request(pctx, msg)
			if err := f.Wait(pctx); err != nil {
				f.Cancel()
				return nil
			}
			if err := f.Err(); err != nil {
				log.Debug("发布邻居失败", "relay", r.Remote().ID().ShortString(), "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// announce 向邻居与引导节点通告当前身份
func (m *Maintainer) announce(ctx context.Context) {
	if m.announcer == nil || ctx.Err() != nil {
		return
	}

	endpoints := m.announcer.Neighbours(m.cfg.AnnouncePeers)
	for _, ep := range m.cfg.Bootstrap {
		if !slices.Contains(endpoints, ep) {
			endpoints = append(endpoints, ep)
		}
	}

	err := m.announcer.Announce(ctx, m.mgr.Identity(), endpoints)
	if err != nil && !errors.Is(err, routing.ErrNoPeers) {
		log.Debug("通告身份部分失败", "err", err)
	}
}
