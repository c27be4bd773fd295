package routing

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-relaydht/pkg/types"
)

// Statistic 单个节点的存活统计
//
// 每个计数器独立原子更新；多个字段之间不保证一致的快照，
// 读者可能看到成功计数与最后在线时间以任意顺序更新。
type Statistic struct {
	clock   clock.Clock
	created time.Time

	lastSeen  atomic.Int64 // Unix 纳秒，0 表示从未在线
	successes atomic.Int32
	failures  atomic.Int32

	addr atomic.Pointer[types.PeerAddress]
}

// NewStatistic 创建节点统计
func NewStatistic(addr types.PeerAddress, clk clock.Clock) *Statistic {
	if clk == nil {
		clk = clock.New()
	}
	s := &Statistic{
		clock:   clk,
		created: clk.Now(),
	}
	s.addr.Store(&addr)
	return s
}

// RecordSuccess 记录一次成功交互
//
// 失败计数清零，更新最后在线时间，返回新的成功计数。
func (s *Statistic) RecordSuccess() int {
	s.lastSeen.Store(s.clock.Now().UnixNano())
	s.failures.Store(0)
	return int(s.successes.Add(1))
}

// RecordFailure 记录一次失败交互，返回新的失败计数
func (s *Statistic) RecordFailure() int {
	return int(s.failures.Add(1))
}

// Created 返回创建时间
func (s *Statistic) Created() time.Time {
	return s.created
}

// LastSeen 返回最后在线时间，从未成功交互时为零值
func (s *Statistic) LastSeen() time.Time {
	ns := s.lastSeen.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// OnlineDuration 返回最后在线时间与创建时间之差
func (s *Statistic) OnlineDuration() time.Duration {
	last := s.LastSeen()
	if last.IsZero() {
		return 0
	}
	return last.Sub(s.created)
}

// Successes 返回成功计数
func (s *Statistic) Successes() int {
	return int(s.successes.Load())
}

// Failures 返回当前连续失败计数
func (s *Statistic) Failures() int {
	return int(s.failures.Load())
}

// Address 返回最新的网络身份
func (s *Statistic) Address() types.PeerAddress {
	return *s.addr.Load()
}

// SetAddress 更新网络身份，返回旧值
//
// 只接受相同标识的地址。
func (s *Statistic) SetAddress(addr types.PeerAddress) (types.PeerAddress, error) {
	for {
		old := s.addr.Load()
		if old.ID() != addr.ID() {
			return types.PeerAddress{}, ErrIDMismatch
		}
		if s.addr.CompareAndSwap(old, &addr) {
			return *old, nil
		}
	}
}
