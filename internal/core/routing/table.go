package routing

import (
	"slices"
	"sync"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-relaydht/internal/core/metrics"
	"github.com/dep2p/go-relaydht/pkg/types"
)

// ============================================================================
//                              配置
// ============================================================================

// Config 路由表配置
type Config struct {
	// MaxVerified 已验证集合容量
	MaxVerified int

	// MaxOverflow 候选集合容量
	MaxOverflow int

	// MaxFailures 连续失败达到该值时移除
	MaxFailures int

	// AnnouncePeers 应答 ANNOUNCE 时携带的邻居数
	AnnouncePeers int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxVerified:   160,
		MaxOverflow:   160,
		MaxFailures:   3,
		AnnouncePeers: 8,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.MaxVerified <= 0 {
		c.MaxVerified = def.MaxVerified
	}
	if c.MaxOverflow <= 0 {
		c.MaxOverflow = def.MaxOverflow
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = def.MaxFailures
	}
	if c.AnnouncePeers < 0 {
		c.AnnouncePeers = def.AnnouncePeers
	}
	return c
}

// ============================================================================
//                              Table 两集合路由表
// ============================================================================

// Table 路由表成员管理
//
// 维护两个互不相交的集合：
//   - verified: 经直接交互确认可达的节点
//   - overflow: 候选节点（包括等待确认的中继节点），满时淘汰最久未见的条目
//
// verified 由 mu 保护；overflow 使用 LRU 自身的锁。AddCandidate 持读锁、
// Promote 持写锁，因此同一节点不会同时出现在两个集合中。
type Table struct {
	self    types.ID
	cfg     Config
	clock   clock.Clock
	metrics *metrics.Metrics

	mu       sync.RWMutex
	verified map[types.ID]*Statistic
	overflow *lru.Cache[types.ID, *Statistic]
}

// NewTable 创建路由表
func NewTable(self types.ID, cfg Config, clk clock.Clock, m *metrics.Metrics) (*Table, error) {
	cfg = cfg.normalize()
	if clk == nil {
		clk = clock.New()
	}
	overflow, err := lru.New[types.ID, *Statistic](cfg.MaxOverflow)
	if err != nil {
		return nil, err
	}
	return &Table{
		self:     self,
		cfg:      cfg,
		clock:    clk,
		metrics:  m,
		verified: make(map[types.ID]*Statistic),
		overflow: overflow,
	}, nil
}

// Self 返回本地节点标识
func (t *Table) Self() types.ID {
	return t.self
}

// Config 返回路由表配置
func (t *Table) Config() Config {
	return t.cfg
}

// AddCandidate 将节点加入候选集合
//
// 本地节点被忽略。已验证的节点只刷新其网络身份并返回 false。
// 候选集合已满时淘汰最久未见的条目。
func (t *Table) AddCandidate(addr types.PeerAddress) bool {
	id := addr.ID()
	if id.IsEmpty() || id == t.self {
		return false
	}

	t.mu.RLock()
	if stat, ok := t.verified[id]; ok {
		_, _ = stat.SetAddress(addr)
		t.mu.RUnlock()
		return false
	}
	stat, ok := t.overflow.Peek(id)
	if ok {
		_, _ = stat.SetAddress(addr)
	} else {
		stat = NewStatistic(addr, t.clock)
	}
	evicted := t.overflow.Add(id, stat)
	t.mu.RUnlock()

	if evicted {
		log.Debug("候选集合已满，淘汰最久未见的节点")
	}
	t.report()
	return true
}

// Promote 将节点从候选集合移入已验证集合
//
// 已在已验证集合中时返回 nil。
func (t *Table) Promote(id types.ID) error {
	t.mu.Lock()
	if _, ok := t.verified[id]; ok {
		t.mu.Unlock()
		return nil
	}
	stat, ok := t.overflow.Peek(id)
	if !ok {
		t.mu.Unlock()
		return ErrNotFound
	}
	if len(t.verified) >= t.cfg.MaxVerified {
		t.mu.Unlock()
		return ErrVerifiedFull
	}
	t.overflow.Remove(id)
	t.verified[id] = stat
	t.mu.Unlock()

	log.Debug("节点已确认可达", "peer", id.ShortString())
	t.report()
	return nil
}

// Verify 在一次成功的直接交互后加入或提升节点，并记录一次成功
//
// 已验证集合已满时节点留在候选集合并返回 ErrVerifiedFull。
func (t *Table) Verify(addr types.PeerAddress) error {
	id := addr.ID()
	if id.IsEmpty() || id == t.self {
		return ErrSelf
	}

	t.mu.Lock()
	stat, ok := t.verified[id]
	if !ok {
		if stat, ok = t.overflow.Peek(id); !ok {
			stat = NewStatistic(addr, t.clock)
		}
		if len(t.verified) >= t.cfg.MaxVerified {
			t.overflow.Add(id, stat)
			t.mu.Unlock()
			_, _ = stat.SetAddress(addr)
			stat.RecordSuccess()
			t.report()
			return ErrVerifiedFull
		}
		t.overflow.Remove(id)
		t.verified[id] = stat
	}
	t.mu.Unlock()

	_, _ = stat.SetAddress(addr)
	stat.RecordSuccess()
	t.report()
	return nil
}

// Remove 从两个集合中移除节点并销毁其统计
func (t *Table) Remove(id types.ID) bool {
	t.mu.Lock()
	_, inVerified := t.verified[id]
	delete(t.verified, id)
	inOverflow := t.overflow.Remove(id)
	t.mu.Unlock()

	if inVerified || inOverflow {
		t.report()
		return true
	}
	return false
}

// PeerSucceeded 记录一次成功交互并刷新网络身份，返回成功计数
//
// 未知节点返回 0。
func (t *Table) PeerSucceeded(addr types.PeerAddress) int {
	stat := t.lookup(addr.ID(), true)
	if stat == nil {
		return 0
	}
	_, _ = stat.SetAddress(addr)
	return stat.RecordSuccess()
}

// PeerFailed 记录一次失败交互，返回失败计数
//
// 连续失败达到 MaxFailures 时移除该节点。未知节点返回 0。
func (t *Table) PeerFailed(id types.ID) int {
	stat := t.lookup(id, false)
	if stat == nil {
		return 0
	}
	n := stat.RecordFailure()
	if n >= t.cfg.MaxFailures {
		if t.Remove(id) {
			log.Debug("节点连续失败，已移除", "peer", id.ShortString(), "failures", n)
		}
	}
	return n
}

// Statistic 返回节点统计
func (t *Table) Statistic(id types.ID) (*Statistic, bool) {
	stat := t.lookup(id, false)
	return stat, stat != nil
}

// lookup 查找统计；touch 为 true 时刷新候选集合中的最近使用位置
func (t *Table) lookup(id types.ID, touch bool) *Statistic {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if stat, ok := t.verified[id]; ok {
		return stat
	}
	var (
		stat *Statistic
		ok   bool
	)
	if touch {
		stat, ok = t.overflow.Get(id)
	} else {
		stat, ok = t.overflow.Peek(id)
	}
	if !ok {
		return nil
	}
	return stat
}

// ============================================================================
//                              查询
// ============================================================================

// ContainsVerified 检查节点是否在已验证集合中
func (t *Table) ContainsVerified(addr types.PeerAddress) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.verified[addr.ID()]
	return ok
}

// ContainsOverflow 检查节点是否在候选集合中
func (t *Table) ContainsOverflow(addr types.PeerAddress) bool {
	return t.overflow.Contains(addr.ID())
}

// AllVerified 返回已验证集合的快照
func (t *Table) AllVerified() []types.PeerAddress {
	t.mu.RLock()
	out := make([]types.PeerAddress, 0, len(t.verified))
	for _, stat := range t.verified {
		out = append(out, stat.Address())
	}
	t.mu.RUnlock()

	sortByID(out)
	return out
}

// AllOverflow 返回候选集合的快照（最久未见的在前）
func (t *Table) AllOverflow() []types.PeerAddress {
	stats := t.overflow.Values()
	out := make([]types.PeerAddress, 0, len(stats))
	for _, stat := range stats {
		out = append(out, stat.Address())
	}
	return out
}

// Closest 返回按 XOR 距离排序的至多 n 个已验证节点
func (t *Table) Closest(target types.ID, n int) []types.PeerAddress {
	all := t.AllVerified()
	slices.SortFunc(all, func(a, b types.PeerAddress) int {
		return types.Distance(a.ID(), target).Cmp(types.Distance(b.ID(), target))
	})
	if n >= 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// VerifiedLen 返回已验证集合大小
func (t *Table) VerifiedLen() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.verified)
}

// OverflowLen 返回候选集合大小
func (t *Table) OverflowLen() int {
	return t.overflow.Len()
}

// Len 返回两个集合的总大小
func (t *Table) Len() int {
	return t.VerifiedLen() + t.OverflowLen()
}

func (t *Table) report() {
	t.metrics.SetRoutingPeers(t.VerifiedLen(), t.OverflowLen())
}

func sortByID(addrs []types.PeerAddress) {
	slices.SortFunc(addrs, func(a, b types.PeerAddress) int {
		return a.ID().Cmp(b.ID())
	})
}
