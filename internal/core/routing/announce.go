package routing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-relaydht/pkg/future"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
	"github.com/dep2p/go-relaydht/pkg/types"
)

// announceParallelism 同时进行的通告或探测数
const announceParallelism = 8

// Pinger 探测节点
type Pinger interface {
	// PingEndpoint 建立一次性连接直接探测端点
	PingEndpoint(ctx context.Context, endpoint string) *future.Future[time.Duration]

	// PingRelayed 经节点通告的中继探测节点
	PingRelayed(ctx context.Context, addr types.PeerAddress) *future.Future[time.Duration]
}

// IdentityFunc 返回本地节点当前的网络身份
type IdentityFunc func() types.PeerAddress

// ============================================================================
//                              Announcer 路由交换
// ============================================================================

// Announcer 通过 ANNOUNCE 交换网络身份
//
// 收到通告时发送方进入候选集合；发送方回应了存活检查后才提升为已验证。
// 可直连的节点直接探测，中继可达的节点经其通告的中继探测。
type Announcer struct {
	table        *Table
	tr           pkgif.Transport
	self         IdentityFunc
	pinger       Pinger
	checkTimeout time.Duration
}

// NewAnnouncer 创建 Announcer
//
// pinger 为 nil 时不做直接检查，发送方总是留在候选集合。
func NewAnnouncer(table *Table, tr pkgif.Transport, self IdentityFunc, pinger Pinger, checkTimeout time.Duration) *Announcer {
	if checkTimeout <= 0 {
		checkTimeout = 5 * time.Second
	}
	return &Announcer{
		table:        table,
		tr:           tr,
		self:         self,
		pinger:       pinger,
		checkTimeout: checkTimeout,
	}
}

// Register 在注册表中安装 ANNOUNCE 处理器
func (a *Announcer) Register(registry pkgif.ProtocolRegistry) error {
	return registry.Register(relaypb.KindAnnounce, a.handleAnnounce)
}

func (a *Announcer) handleAnnounce(ctx context.Context, _ pkgif.Connection, req *relaypb.Message) (*relaypb.Message, error) {
	if req.Sender == nil {
		return nil, fmt.Errorf("%w: announce without sender", relaypb.ErrMalformed)
	}
	sender := *req.Sender

	a.table.AddCandidate(sender)
	if checkable(sender) && !a.table.ContainsVerified(sender) {
		a.check(ctx, sender)
	}

	reply := relaypb.Reply(req, a.self())
	limit := a.table.Config().AnnouncePeers
	for _, p := range a.table.Closest(sender.ID(), limit+1) {
		if p.ID() == sender.ID() || len(reply.Peers) >= limit {
			continue
		}
		reply.Peers = append(reply.Peers, p)
	}
	return reply, nil
}

// check 探测节点，成功时提升为已验证，失败计入统计
func (a *Announcer) check(ctx context.Context, addr types.PeerAddress) bool {
	if a.pinger == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, a.checkTimeout)
	defer cancel()

	if a.reach(ctx, addr) {
		if err := a.table.Promote(addr.ID()); errors.Is(err, ErrNotFound) {
			_ = a.table.Verify(addr)
		}
		return true
	}
	a.table.PeerFailed(addr.ID())
	return false
}

// reach 直连节点探测其端点，中继节点经其中继探测
func (a *Announcer) reach(ctx context.Context, addr types.PeerAddress) bool {
	if addr.IsRelayed() {
		return succeeded(ctx, a.pinger.PingRelayed(ctx, addr))
	}
	for _, ep := range addr.Endpoints() {
		if succeeded(ctx, a.pinger.PingEndpoint(ctx, ep)) {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return false
}

func succeeded(ctx context.Context, f *future.Future[time.Duration]) bool {
	if err := f.Wait(ctx); err != nil {
		f.Cancel()
		return false
	}
	return f.IsSuccess()
}

// checkable 节点可直连或经由中继可达
func checkable(addr types.PeerAddress) bool {
	return addr.Reachable() || addr.IsRelayed()
}

// Announce 向每个端点通告 identity，并学习对方返回的邻居
//
// 至少一个端点成功时返回 nil，否则返回所有错误的合并。
func (a *Announcer) Announce(ctx context.Context, identity types.PeerAddress, endpoints []string) error {
	endpoints = a.filterEndpoints(identity, endpoints)
	if len(endpoints) == 0 {
		return ErrNoPeers
	}

	var (
		mu   sync.Mutex
		errs error
		ok   atomic.Int32
	)
	var g errgroup.Group
	g.SetLimit(announceParallelism)
	for _, ep := range endpoints {
		g.Go(func() error {
			if err := a.announceTo(ctx, identity, ep); err != nil {
				log.Debug("通告失败", "endpoint", ep, "err", err)
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", ep, err))
				mu.Unlock()
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if ok.Load() == 0 {
		return errs
	}
	log.Debug("通告完成", "identity", identity, "succeeded", ok.Load(), "total", len(endpoints))
	return nil
}

func (a *Announcer) announceTo(ctx context.Context, identity types.PeerAddress, endpoint string) error {
	reply, err := a.request(ctx, endpoint, relaypb.NewRequest(relaypb.KindAnnounce, identity))
	if err != nil {
		return err
	}

	// 对方应答了我们主动建立的连接，说明它可直连
	if reply.Sender != nil {
		_ = a.table.Verify(*reply.Sender)
	}
	for _, p := range reply.Peers {
		if p.ID() != identity.ID() {
			a.table.AddCandidate(p)
		}
	}
	return nil
}

func (a *Announcer) request(ctx context.Context, endpoint string, msg *relaypb.Message) (*relaypb.Message, error) {
	f := a.tr.Request(ctx, endpoint, msg)
	if err := f.Wait(ctx); err != nil {
		f.Cancel()
		return nil, err
	}
	return f.Result()
}

// VerifyCandidates 探测候选集合中可直连或经由中继可达的节点，返回提升的数量
func (a *Announcer) VerifyCandidates(ctx context.Context) int {
	var promoted atomic.Int32
	var g errgroup.Group
	g.SetLimit(announceParallelism)
	for _, addr := range a.table.AllOverflow() {
		if !checkable(addr) {
			continue
		}
		g.Go(func() error {
			if a.check(ctx, addr) {
				promoted.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(promoted.Load())
}

// CheckVerified 探测已验证集合中的节点，返回未回应的数量
//
// 未回应计入失败统计，连续失败达到上限的节点被移除。
func (a *Announcer) CheckVerified(ctx context.Context) int {
	if a.pinger == nil {
		return 0
	}
	var failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(announceParallelism)
	for _, addr := range a.table.AllVerified() {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, a.checkTimeout)
			defer cancel()
			if a.reach(pctx, addr) || ctx.Err() != nil {
				return nil
			}
			failed.Add(1)
			if a.table.PeerFailed(addr.ID()) >= a.table.Config().MaxFailures {
				log.Info("邻居不再可达", "peer", addr.ID().ShortString())
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(failed.Load())
}

// QueryNeighbours 向节点查询其邻居，返回的节点加入候选集合
//
// 节点经由中继时，查询封装在 FORWARD 信封中依次发给其中继，由中继按节点发布的邻居集合应答。
func (a *Announcer) QueryNeighbours(ctx context.Context, dest types.PeerAddress) ([]types.PeerAddress, error) {
	req := relaypb.NewRequest(relaypb.KindAnnounce, a.self())

	var (
		reply *relaypb.Message
		err   error
	)
	switch {
	case dest.IsRelayed():
		reply, err = a.queryRelayed(ctx, dest, req)
	case len(dest.Endpoints()) > 0:
		reply, err = a.request(ctx, dest.Endpoints()[0], req)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoEndpoint, dest.ID().ShortString())
	}
	if err != nil {
		return nil, err
	}

	out := make([]types.PeerAddress, 0, len(reply.Peers))
	for _, p := range reply.Peers {
		if p.ID() == a.table.Self() {
			continue
		}
		a.table.AddCandidate(p)
		out = append(out, p)
	}
	return out, nil
}

func (a *Announcer) queryRelayed(ctx context.Context, dest types.PeerAddress, req *relaypb.Message) (*relaypb.Message, error) {
	env, err := relaypb.Envelope(req, a.self(), dest.ID())
	if err != nil {
		return nil, err
	}
	var errs error
	for _, ep := range dest.Relays() {
		outer, err := a.request(ctx, ep, env)
		if err == nil {
			var reply *relaypb.Message
			if reply, err = relaypb.OpenEnvelope(outer); err == nil {
				return reply, nil
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", ep, err))
	}
	return nil, errs
}

// Bootstrap 向引导端点通告本地身份，然后验证学到的候选节点
func (a *Announcer) Bootstrap(ctx context.Context, endpoints []string) error {
	if err := a.Announce(ctx, a.self(), endpoints); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	n := a.VerifyCandidates(ctx)
	log.Info("引导完成", "verified", a.table.VerifiedLen(), "promoted", n, "overflow", a.table.OverflowLen())
	return nil
}

// Neighbours 返回至多 n 个可直连的已验证节点的第一个端点（n <= 0 表示全部）
func (a *Announcer) Neighbours(n int) []string {
	var out []string
	for _, p := range a.table.AllVerified() {
		if !p.Reachable() {
			continue
		}
		eps := p.Endpoints()
		out = append(out, eps[0])
		if n > 0 && len(out) >= n {
			break
		}
	}
	return out
}

// filterEndpoints 去重并去掉本地端点
func (a *Announcer) filterEndpoints(identity types.PeerAddress, endpoints []string) []string {
	own := append(identity.Endpoints(), a.tr.Endpoint())
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep == "" || slices.Contains(own, ep) || slices.Contains(out, ep) {
			continue
		}
		out = append(out, ep)
	}
	return out
}
