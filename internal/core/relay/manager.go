package relay

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/dep2p/go-relaydht/internal/core/metrics"
	"github.com/dep2p/go-relaydht/internal/core/routing"
	"github.com/dep2p/go-relaydht/pkg/future"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
	"github.com/dep2p/go-relaydht/pkg/types"
)

// teardownTimeout 关闭时发送 TEARDOWN 的超时
const teardownTimeout = time.Second

// ════════════════════════════════════════════════════════════════════════════
// Manager - 中继集合管理器
// ════════════════════════════════════════════════════════════════════════════

// Manager 中继集合管理器
//
// 为本地不可达节点维护 K 条中继路由，并保持通告的网络身份与路由集合一致。
// 路由集合与身份只由 Manager 修改（单写者，mu 串行化）；读者通过原子发布的快照读取。
type Manager struct {
	cfg      Config
	tr       pkgif.Transport
	table    *routing.Table
	metrics  *metrics.Metrics
	selector *Selector

	mu      sync.Mutex
	base    types.PeerAddress // 不含中继信息的本地身份
	routes  []*Route          // 按 order 排序
	pending map[types.ID]struct{}
	order   uint64

	identity atomic.Pointer[types.PeerAddress]
	closed   atomic.Bool

	hooksMu          sync.Mutex
	identityHooks    []func(types.PeerAddress)
	routeLostHooks   []func(*Route)
	notifyIdentityMu sync.Mutex
}

// NewManager 创建中继集合管理器
//
// self 是本地节点的初始身份，其防火墙标记在没有中继时保持不变。
func NewManager(cfg Config, self types.PeerAddress, tr pkgif.Transport, table *routing.Table, m *metrics.Metrics) *Manager {
	cfg = cfg.normalize()
	mgr := &Manager{
		cfg:      cfg,
		tr:       tr,
		table:    table,
		metrics:  m,
		selector: NewSelector(cfg.Policy, self.ID(), cfg.StaticRelays),
		base:     self.WithoutRelays(),
		pending:  make(map[types.ID]struct{}),
	}
	mgr.identity.Store(&self)
	return mgr
}

// Config 返回配置
func (m *Manager) Config() Config {
	return m.cfg
}

// ============================================================================
//                              快照读取
// ============================================================================

// Identity 返回当前通告的网络身份
func (m *Manager) Identity() types.PeerAddress {
	return *m.identity.Load()
}

// RelayEndpoints 返回当前通告的中继端点
func (m *Manager) RelayEndpoints() []string {
	return m.Identity().Relays()
}

// Routes 返回路由集合快照（按选择顺序）
func (m *Manager) Routes() []*Route {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.routes)
}

// OnIdentityChanged 注册身份变更回调
//
// 回调收到的是调用时最新的身份；并发变更可能合并为一次回调。
func (m *Manager) OnIdentityChanged(fn func(types.PeerAddress)) {
	m.hooksMu.Lock()
	m.identityHooks = append(m.identityHooks, fn)
	m.hooksMu.Unlock()
}

// OnRouteLost 注册路由丢失回调
func (m *Manager) OnRouteLost(fn func(*Route)) {
	m.hooksMu.Lock()
	m.routeLostHooks = append(m.routeLostHooks, fn)
	m.hooksMu.Unlock()
}

// SetEndpoints 更新本地直连端点（例如监听后得到实际端口）
func (m *Manager) SetEndpoints(endpoints ...string) {
	m.mu.Lock()
	m.base = m.base.WithEndpoints(endpoints...)
	m.publishLocked()
	m.mu.Unlock()
	m.notifyIdentity()
}

// ============================================================================
//                              建立中继
// ============================================================================

// SetupRelays 从候选中建立中继，使路由集合达到 k 条
//
// 候选按选择顺序尝试，集合加上正在尝试的候选不超过 k；每个失败的尝试启动下一个候选，
// 集合达到 k 条或候选耗尽时结束。路由在集合和通告身份中按选择顺序排列。
// 成功时返回建立后的路由集合（可能少于 k）；只有一条都没建立时失败并返回
// ErrNoRelaysAvailable，此时身份不变。k <= 0 时使用配置的 Relays。
func (m *Manager) SetupRelays(ctx context.Context, candidates []types.PeerAddress, k int) *future.Future[[]*Route] {
	if m.closed.Load() {
		return future.Failed[[]*Route](ErrManagerClosed)
	}
	if k <= 0 {
		k = m.cfg.Relays
	}

	if len(m.Routes()) >= k {
		return future.Succeeded(m.Routes())
	}

	return future.Map(m.setup(ctx, candidates, k), func([]*Route) ([]*Route, error) {
		return m.Routes(), nil
	})
}

// setup 建立新路由直到集合达到 limit 条，返回新建立的路由
//
// 集合加上正在尝试的候选数在 mu 下检查，并发的 setup 不会让集合超过 limit。
func (m *Manager) setup(ctx context.Context, candidates []types.PeerAddress, limit int) *future.Future[[]*Route] {
	ranked := m.selector.Rank(candidates)
	result := future.New[[]*Route]()
	ctx, cancel := context.WithCancel(ctx)
	result.OnCancel(cancel)

	m.mu.Lock()
	base := m.order
	m.order += uint64(len(ranked))
	m.mu.Unlock()

	go func() {
		defer cancel()
		m.runSetup(ctx, ranked, base, limit, result)
	}()
	return result
}

type attemptResult struct {
	candidate types.PeerAddress
	order     uint64
	route     *Route
	err       error
}

func (m *Manager) runSetup(ctx context.Context, ranked []types.PeerAddress, base uint64, limit int, result *future.Future[[]*Route]) {
	results := make(chan attemptResult, len(ranked))
	var (
		next     int
		inflight int
		achieved []*Route
		errs     error
	)

	// launch 启动下一个候选；集合已满或候选耗尽时返回 false
	launch := func() bool {
		for next < len(ranked) {
			c := ranked[next]
			order := base + uint64(next)
			next++
			ok, full := m.claim(c.ID(), limit)
			if full {
				return false
			}
			if !ok {
				continue
			}
			inflight++
			m.attempt(ctx, c).OnComplete(func(f *future.Future[*Route]) {
				r, err := f.Result()
				results <- attemptResult{candidate: c, order: order, route: r, err: err}
			})
			return true
		}
		return false
	}

	for launch() {
	}

	for inflight > 0 {
		r := <-results
		inflight--

		if r.err == nil {
			r.route.order = r.order
			r.err = m.addRoute(r.route, limit)
		} else {
			m.unclaim(r.candidate.ID())
		}
		if errors.Is(r.err, ErrSetFull) {
			log.Debug("集合已满，放弃多余的路由", "candidate", r.candidate)
			continue
		}
		m.metrics.SetupAttempt(r.err == nil)

		if r.err != nil {
			log.Debug("中继候选失败", "candidate", r.candidate, "err", r.err)
			errs = multierr.Append(errs, r.err)
			if ctx.Err() == nil {
				launch()
			}
			continue
		}
		achieved = append(achieved, r.route)
		log.Info("中继已建立", "relay", r.route.Remote().ID().ShortString(), "endpoint", r.route.Endpoint())
	}

	if len(achieved) == 0 {
		switch {
		case errs == nil && len(m.Routes()) >= limit:
			// 并发的建立已经填满集合
			result.Complete(nil)
		case errs == nil:
			result.Fail(fmt.Errorf("%w: no usable candidates", ErrNoRelaysAvailable))
		default:
			result.Fail(fmt.Errorf("%w: %w", ErrNoRelaysAvailable, errs))
		}
		return
	}
	slices.SortFunc(achieved, func(a, b *Route) int { return cmp.Compare(a.order, b.order) })
	if !result.Complete(achieved) {
		log.Debug("建立已被取消，保留已建立的路由", "routes", len(achieved))
	}
}

// attempt 对单个候选执行：预留通道 → 建立连接 → SETUP 注册
func (m *Manager) attempt(ctx context.Context, c types.PeerAddress) *future.Future[*Route] {
	endpoint := c.Endpoints()[0]
	ctx, cancel := context.WithTimeout(ctx, m.cfg.SetupTimeout)

	reserve := m.tr.Reserve(1)
	open := future.Then(reserve, func(res pkgif.Reservation) *future.Future[pkgif.Connection] {
		f := m.tr.Open(ctx, endpoint, res)
		f.OnComplete(func(*future.Future[pkgif.Connection]) { res.Release() })
		return f
	})
	registered := future.Then(open, func(conn pkgif.Connection) *future.Future[*Route] {
		req := relaypb.NewRequest(relaypb.KindSetupRequest, m.Identity())
		route := future.Map(conn.Request(ctx, req), func(reply *relaypb.Message) (*Route, error) {
			remote := c
			if reply.Sender != nil {
				if reply.Sender.ID() != c.ID() {
					return nil, fmt.Errorf("unexpected relay identity %s", reply.Sender.ID().ShortString())
				}
				remote = *reply.Sender
			}
			conn.SetRemote(remote)
			return newRoute(remote, conn), nil
		})
		route.OnComplete(func(f *future.Future[*Route]) {
			if !f.IsSuccess() {
				_ = conn.Close()
			}
		})
		return route
	})

	stop := context.AfterFunc(ctx, func() { registered.Cancel() })
	out := future.New[*Route]()
	registered.OnComplete(func(f *future.Future[*Route]) {
		stop()
		// 先取 ctx 的状态再 cancel，否则对端的拒绝会被记成 context.Canceled
		ctxErr := ctx.Err()
		cancel()
		route, err := f.Result()
		if err != nil {
			if ctxErr != nil && errors.Is(err, future.ErrCancelled) {
				err = ctxErr
			}
			out.Fail(fmt.Errorf("%w: %s: %w", ErrConnectionFailed, endpoint, err))
			return
		}
		out.Complete(route)
	})
	out.OnCancel(func() { registered.Cancel() })
	return out
}

// claim 标记候选正在尝试
//
// 已在集合中或正在尝试时 ok 为 false；集合加上正在尝试的候选已达 limit 时 full 为 true。
func (m *Manager) claim(id types.ID, limit int) (ok, full bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.routes)+len(m.pending) >= limit {
		return false, true
	}
	if _, busy := m.pending[id]; busy {
		return false, false
	}
	if m.indexOfPeerLocked(id) >= 0 {
		return false, false
	}
	m.pending[id] = struct{}{}
	return true, false
}

func (m *Manager) unclaim(id types.ID) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// addRoute 将成功的路由按选择顺序加入集合并发布新身份，同时释放候选的占位
func (m *Manager) addRoute(route *Route, limit int) error {
	id := route.Remote().ID()
	m.mu.Lock()
	delete(m.pending, id)
	if m.closed.Load() {
		m.mu.Unlock()
		_ = route.conn.Close()
		return ErrManagerClosed
	}
	if len(m.routes) >= limit {
		m.mu.Unlock()
		_ = route.conn.Close()
		return ErrSetFull
	}
	at := slices.IndexFunc(m.routes, func(r *Route) bool { return r.order > route.order })
	if at < 0 {
		m.routes = append(m.routes, route)
	} else {
		m.routes = slices.Insert(m.routes, at, route)
	}
	m.publishLocked()
	n := len(m.routes)
	m.mu.Unlock()

	m.metrics.SetRoutes(n)
	route.conn.OnClose(func(err error) { m.routeClosed(route, err) })
	m.table.PeerSucceeded(route.Remote())
	m.notifyIdentity()
	return nil
}

// routeClosed 连接关闭时标记路由丢失并通知维护循环
func (m *Manager) routeClosed(route *Route, err error) {
	if m.closed.Load() || !route.markLost() {
		return
	}
	log.Info("中继连接已关闭", "relay", route.Remote().ID().ShortString(), "err", err)

	m.hooksMu.Lock()
	hooks := slices.Clone(m.routeLostHooks)
	m.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(route)
	}
}

// ============================================================================
//                              替换中继
// ============================================================================

// ReplaceFailedRoute 移除失败的路由并尝试一次替换
//
// 候选取自已验证集合，排除当前中继、失败的节点和本地节点。移除后立即发布新身份，
// 替换成功后再次发布。route 已不在集合中时不做任何事，返回以 ErrRouteNotFound 失败的 Future。
func (m *Manager) ReplaceFailedRoute(ctx context.Context, route *Route) *future.Future[*Route] {
	m.mu.Lock()
	idx := slices.Index(m.routes, route)
	if idx < 0 {
		m.mu.Unlock()
		return future.Failed[*Route](ErrRouteNotFound)
	}
	m.routes = slices.Delete(m.routes, idx, idx+1)
	m.publishLocked()
	n := len(m.routes)
	limit := n + len(m.pending) + 1
	m.mu.Unlock()

	route.markLost()
	_ = route.conn.Close()
	m.metrics.SetRoutes(n)
	m.notifyIdentity()

	failed := route.Remote().ID()
	m.table.PeerFailed(failed)
	log.Info("移除失败的中继", "relay", failed.ShortString(), "remaining", n)

	if m.closed.Load() {
		return future.Failed[*Route](ErrManagerClosed)
	}

	var candidates []types.PeerAddress
	for _, p := range m.table.AllVerified() {
		if p.ID() != failed {
			candidates = append(candidates, p)
		}
	}

	replaced := future.Map(m.setup(ctx, candidates, limit), func(routes []*Route) (*Route, error) {
		if len(routes) == 0 {
			return nil, fmt.Errorf("%w: relay set already full", ErrNoRelaysAvailable)
		}
		return routes[0], nil
	})
	replaced.OnComplete(func(f *future.Future[*Route]) {
		m.metrics.Replacement(f.IsSuccess())
		if f.IsSuccess() {
			log.Info("中继已替换", "old", failed.ShortString(), "new", f.Value().Remote().ID().ShortString())
		} else {
			log.Warn("中继替换失败，集合暂时缩小", "old", failed.ShortString(), "err", f.Err())
		}
	})
	return replaced
}

// ============================================================================
//                              身份发布
// ============================================================================

// publishLocked 按当前路由重建身份，调用方持有 mu
func (m *Manager) publishLocked() {
	id := m.base
	if len(m.routes) > 0 {
		endpoints := make([]string, 0, len(m.routes))
		for _, r := range m.routes {
			endpoints = append(endpoints, r.Endpoint())
		}
		if len(endpoints) > m.cfg.MaxRelays {
			endpoints = endpoints[:m.cfg.MaxRelays]
		}
		id = m.base.WithRelays(endpoints)
	}
	m.identity.Store(&id)
}

func (m *Manager) notifyIdentity() {
	m.hooksMu.Lock()
	hooks := slices.Clone(m.identityHooks)
	m.hooksMu.Unlock()
	if len(hooks) == 0 {
		return
	}

	m.notifyIdentityMu.Lock()
	defer m.notifyIdentityMu.Unlock()
	id := m.Identity()
	for _, fn := range hooks {
		fn(id)
	}
}

func (m *Manager) indexOfPeerLocked(id types.ID) int {
	return slices.IndexFunc(m.routes, func(r *Route) bool { return r.Remote().ID() == id })
}

// ============================================================================
//                              关闭
// ============================================================================

// Close 向所有中继发送 TEARDOWN 并关闭路由
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.mu.Lock()
	routes := m.routes
	m.routes = nil
	m.mu.Unlock()
	m.metrics.SetRoutes(0)

	var errs error
	identity := m.Identity()
	for _, r := range routes {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		f := r.conn.Request(ctx, relaypb.NewRequest(relaypb.KindTeardown, identity))
		_ = f.Wait(ctx)
		cancel()
		r.markLost()
		errs = multierr.Append(errs, r.conn.Close())
	}
	log.Debug("中继管理器已关闭", "routes", len(routes))
	return errs
}
