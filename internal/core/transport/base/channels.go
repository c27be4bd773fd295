package base

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/dep2p/go-relaydht/pkg/future"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
)

// Channels 出站通道池
//
// 每条出站连接占用一个通道，连接关闭时归还。
type Channels struct {
	sem *semaphore.Weighted
	max int
}

// NewChannels 创建容量为 max 的通道池
func NewChannels(max int) *Channels {
	if max <= 0 {
		max = 1
	}
	return &Channels{
		sem: semaphore.NewWeighted(int64(max)),
		max: max,
	}
}

// Max 返回容量
func (c *Channels) Max() int {
	return c.max
}

// Reserve 预留 n 个通道
//
// 通道不足时 Future 保持 pending；取消 Future 放弃等待。
func (c *Channels) Reserve(n int) *future.Future[pkgif.Reservation] {
	if n <= 0 || n > c.max {
		return future.Failed[pkgif.Reservation](ErrInvalidReservation)
	}

	if c.sem.TryAcquire(int64(n)) {
		return future.Succeeded[pkgif.Reservation](newReservation(c, n))
	}

	f := future.New[pkgif.Reservation]()
	ctx, cancel := context.WithCancel(context.Background())
	f.OnCancel(cancel)

	go func() {
		defer cancel()
		if err := c.sem.Acquire(ctx, int64(n)); err != nil {
			f.Fail(err)
			return
		}
		if !f.Complete(newReservation(c, n)) {
			c.sem.Release(int64(n))
		}
	}()
	return f
}

// AcquireOne 为连接获取一个通道
//
// res 非空时从预留中取走一个；否则阻塞预留一个。
func (c *Channels) AcquireOne(ctx context.Context, res pkgif.Reservation) error {
	if res != nil {
		if !res.Take() {
			return ErrReservationExhausted
		}
		return nil
	}
	return c.sem.Acquire(ctx, 1)
}

// ReleaseOne 归还连接占用的通道
func (c *Channels) ReleaseOne() {
	c.sem.Release(1)
}

// reservation 预留的通道
type reservation struct {
	mu   sync.Mutex
	pool *Channels
	size int
	left int
}

var _ pkgif.Reservation = (*reservation)(nil)

func newReservation(pool *Channels, n int) *reservation {
	return &reservation{pool: pool, size: n, left: n}
}

// Channels 返回预留的通道数
func (r *reservation) Channels() int {
	return r.size
}

// Take 取走一个通道
func (r *reservation) Take() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.left == 0 {
		return false
	}
	r.left--
	return true
}

// Release 归还未取走的通道
func (r *reservation) Release() {
	r.mu.Lock()
	left := r.left
	r.left = 0
	r.mu.Unlock()

	if left > 0 {
		r.pool.sem.Release(int64(left))
	}
}
