package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/dep2p/go-relaydht/internal/core/metrics"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
	"github.com/dep2p/go-relaydht/pkg/types"
)

// ============================================================================
//                              配置
// ============================================================================

// Config 中继服务端配置
type Config struct {
	// MaxPeers 最多服务的节点数
	MaxPeers int

	// ForwardTimeout 单次转发超时
	ForwardTimeout time.Duration

	// ForwardRate 每个被服务节点每秒可转发的消息数（0 不限速）
	ForwardRate float64

	// ForwardBurst 转发突发上限
	ForwardBurst int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxPeers:       16,
		ForwardTimeout: 10 * time.Second,
		ForwardRate:    50,
		ForwardBurst:   100,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.MaxPeers <= 0 {
		c.MaxPeers = def.MaxPeers
	}
	if c.ForwardTimeout <= 0 {
		c.ForwardTimeout = def.ForwardTimeout
	}
	if c.ForwardBurst <= 0 {
		c.ForwardBurst = def.ForwardBurst
	}
	return c
}

func (c Config) newLimiter() *rate.Limiter {
	if c.ForwardRate <= 0 {
		return rate.NewLimiter(rate.Inf, c.ForwardBurst)
	}
	return rate.NewLimiter(rate.Limit(c.ForwardRate), c.ForwardBurst)
}

// ============================================================================
//                              Forwarder 转发表
// ============================================================================

// registrant 一个被服务的节点
type registrant struct {
	addr       types.PeerAddress
	conn       pkgif.Connection
	limiter    *rate.Limiter
	neighbours []types.PeerAddress // 节点发布的邻居集合，nil 表示尚未发布
}

// Forwarder 中继转发表
//
// 维护 被服务节点 → 回连连接 的映射，容量受 MaxPeers 限制。被服务节点发布邻居集合后，
// 发给它的 ANNOUNCE 由中继按该集合直接应答，不再转发。
type Forwarder struct {
	cfg     Config
	metrics *metrics.Metrics

	mu    sync.RWMutex
	peers map[types.ID]*registrant

	forwarded atomic.Uint64
	answered  atomic.Uint64
	closed    atomic.Bool
}

// NewForwarder 创建转发表
func NewForwarder(cfg Config, m *metrics.Metrics) *Forwarder {
	return &Forwarder{
		cfg:     cfg.normalize(),
		metrics: m,
		peers:   make(map[types.ID]*registrant),
	}
}

// Config 返回配置
func (f *Forwarder) Config() Config {
	return f.cfg
}

// Register 注册被服务节点及其连接
//
// 同一标识重复注册时替换旧的连接；容量已满时返回 ErrCapacityExceeded。
func (f *Forwarder) Register(addr types.PeerAddress, conn pkgif.Connection) error {
	if f.closed.Load() {
		return ErrForwarderClosed
	}
	id := addr.ID()

	f.mu.Lock()
	if existing, ok := f.peers[id]; ok {
		existing.addr = addr
		existing.conn = conn
		existing.neighbours = nil
		f.mu.Unlock()
		log.Debug("被服务节点重新注册", "peer", id.ShortString())
		return nil
	}
	if len(f.peers) >= f.cfg.MaxPeers {
		f.mu.Unlock()
		f.metrics.Forward(metrics.ResultRejected)
		return fmt.Errorf("%w: serving %d peers", ErrCapacityExceeded, f.cfg.MaxPeers)
	}
	f.peers[id] = &registrant{
		addr:    addr,
		conn:    conn,
		limiter: f.cfg.newLimiter(),
	}
	n := len(f.peers)
	f.mu.Unlock()

	f.metrics.SetServedPeers(n)
	log.Info("开始为节点中继", "peer", id.ShortString(), "served", n)
	return nil
}

// Unregister 注销被服务节点
func (f *Forwarder) Unregister(id types.ID) bool {
	return f.unregister(id, nil)
}

// unregister 注销节点；conn 非空时只在当前连接匹配时注销
func (f *Forwarder) unregister(id types.ID, conn pkgif.Connection) bool {
	f.mu.Lock()
	r, ok := f.peers[id]
	if !ok || (conn != nil && r.conn != conn) {
		f.mu.Unlock()
		return false
	}
	delete(f.peers, id)
	n := len(f.peers)
	f.mu.Unlock()

	f.metrics.SetServedPeers(n)
	log.Info("停止为节点中继", "peer", id.ShortString(), "served", n)
	return true
}

// Forward 将 FORWARD 信封中的内层消息经注册的连接转发给目标，并返回封装后的应答
func (f *Forwarder) Forward(ctx context.Context, env *relaypb.Message) (*relaypb.Message, error) {
	f.mu.RLock()
	r, ok := f.peers[env.Destination]
	var (
		conn       pkgif.Connection
		addr       types.PeerAddress
		neighbours []types.PeerAddress
	)
	if ok {
		conn, addr, neighbours = r.conn, r.addr, r.neighbours
	}
	f.mu.RUnlock()
	if !ok {
		f.metrics.Forward(metrics.ResultRejected)
		return nil, fmt.Errorf("%w: %s", ErrDestinationNotRelayedHere, env.Destination.ShortString())
	}
	if !r.limiter.Allow() {
		f.metrics.Forward(metrics.ResultRejected)
		return nil, ErrRateLimited
	}

	inner, err := relaypb.Unmarshal(env.Payload)
	if err != nil {
		f.metrics.Forward(metrics.ResultFailure)
		return nil, err
	}
	if inner.Sender == nil {
		inner.Sender = env.Sender
	}
	if inner.Kind == relaypb.KindAnnounce && neighbours != nil {
		return f.answer(env, inner, addr, neighbours)
	}
	f.forwarded.Add(1)

	ctx, cancel := context.WithTimeout(ctx, f.cfg.ForwardTimeout)
	defer cancel()

	req := conn.Request(ctx, inner)
	if err := req.Wait(ctx); err != nil {
		req.Cancel()
		f.metrics.Forward(metrics.ResultTimeout)
		return nil, err
	}
	reply, err := req.Result()
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			f.metrics.Forward(metrics.ResultTimeout)
		case relaypb.StatusOf(err) == relaypb.StatusInternal && !errors.Is(err, relaypb.ErrRemote):
			// 回连连接已失效，不是目标的应答
			f.metrics.Forward(metrics.ResultFailure)
			f.unregister(env.Destination, conn)
			return nil, fmt.Errorf("%w: %w", ErrDestinationNotRelayedHere, err)
		default:
			f.metrics.Forward(metrics.ResultFailure)
		}
		return nil, err
	}

	payload, err := relaypb.Marshal(reply)
	if err != nil {
		f.metrics.Forward(metrics.ResultFailure)
		return nil, err
	}
	f.metrics.Forward(metrics.ResultSuccess)
	f.metrics.ForwardBytes(len(env.Payload), len(payload))

	out := relaypb.Reply(env, types.PeerAddress{})
	out.Destination = env.Destination
	out.Payload = payload
	return out, nil
}

// answer 代替被服务节点应答路由查询
func (f *Forwarder) answer(env, inner *relaypb.Message, addr types.PeerAddress, neighbours []types.PeerAddress) (*relaypb.Message, error) {
	requester := inner.SenderID()
	peers := make([]types.PeerAddress, 0, len(neighbours))
	for _, p := range neighbours {
		if p.ID() != requester {
			peers = append(peers, p)
		}
	}
	if !requester.IsEmpty() {
		slices.SortFunc(peers, func(a, b types.PeerAddress) int {
			return types.Distance(a.ID(), requester).Cmp(types.Distance(b.ID(), requester))
		})
	}

	reply := relaypb.Reply(inner, addr)
	reply.Peers = peers
	payload, err := relaypb.Marshal(reply)
	if err != nil {
		return nil, err
	}
	f.answered.Add(1)

	out := relaypb.Reply(env, types.PeerAddress{})
	out.Destination = env.Destination
	out.Payload = payload
	return out, nil
}

// SetNeighbours 更新被服务节点发布的邻居集合
//
// 只接受节点注册连接上的发布，否则返回 ErrDestinationNotRelayedHere。集合中节点自身被去掉。
func (f *Forwarder) SetNeighbours(addr types.PeerAddress, conn pkgif.Connection, peers []types.PeerAddress) error {
	id := addr.ID()
	f.mu.Lock()
	r, ok := f.peers[id]
	if !ok || r.conn != conn {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDestinationNotRelayedHere, id.ShortString())
	}
	set := make([]types.PeerAddress, 0, len(peers))
	for _, p := range peers {
		if p.ID() != id {
			set = append(set, p)
		}
	}
	r.addr = addr
	r.neighbours = set
	f.mu.Unlock()

	log.Debug("被服务节点发布邻居", "peer", id.ShortString(), "neighbours", len(set))
	return nil
}

// Neighbours 返回被服务节点发布的邻居集合；未注册或尚未发布时返回 nil
func (f *Forwarder) Neighbours(id types.ID) []types.PeerAddress {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.peers[id]
	if !ok || r.neighbours == nil {
		return nil
	}
	return slices.Clone(r.neighbours)
}

// Answered 返回代替被服务节点应答的路由查询数
func (f *Forwarder) Answered() uint64 {
	return f.answered.Load()
}

// All 返回当前服务的节点（按标识排序）
func (f *Forwarder) All() []types.PeerAddress {
	f.mu.RLock()
	out := make([]types.PeerAddress, 0, len(f.peers))
	for _, r := range f.peers {
		out = append(out, r.addr)
	}
	f.mu.RUnlock()

	slices.SortFunc(out, func(a, b types.PeerAddress) int { return a.ID().Cmp(b.ID()) })
	return out
}

// Contains 检查节点是否被服务
func (f *Forwarder) Contains(id types.ID) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.peers[id]
	return ok
}

// Len 返回服务的节点数
func (f *Forwarder) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.peers)
}

// Forwarded 返回已开始转发的消息数
func (f *Forwarder) Forwarded() uint64 {
	return f.forwarded.Load()
}

// Close 清空转发表，不关闭连接
func (f *Forwarder) Close() error {
	f.closed.Store(true)
	f.mu.Lock()
	f.peers = make(map[types.ID]*registrant)
	f.mu.Unlock()
	f.metrics.SetServedPeers(0)
	return nil
}
