package base

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dep2p/go-relaydht/pkg/future"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
	"github.com/dep2p/go-relaydht/pkg/types"
)

// Conn 连接的公共部分
//
// 具体传输嵌入 Conn 并实现 Request 与 Close。
type Conn struct {
	id     string
	local  string
	remote string

	peer atomic.Pointer[types.PeerAddress]

	closing atomic.Bool
	closed  chan struct{}

	mu       sync.Mutex
	closeErr error
	onClose  []func(error)
}

// NewConn 创建连接公共部分
func NewConn(local, remote string) *Conn {
	return &Conn{
		id:     uuid.NewString(),
		local:  local,
		remote: remote,
		closed: make(chan struct{}),
	}
}

// ID 返回连接标识
func (c *Conn) ID() string { return c.id }

// LocalEndpoint 返回本地端点
func (c *Conn) LocalEndpoint() string { return c.local }

// RemoteEndpoint 返回远端端点
func (c *Conn) RemoteEndpoint() string { return c.remote }

// Remote 返回远端身份
func (c *Conn) Remote() types.PeerAddress {
	if p := c.peer.Load(); p != nil {
		return *p
	}
	return types.PeerAddress{}
}

// SetRemote 记录远端身份
func (c *Conn) SetRemote(addr types.PeerAddress) {
	c.peer.Store(&addr)
}

// Closed 返回在连接关闭时关闭的通道
func (c *Conn) Closed() <-chan struct{} { return c.closed }

// IsClosed 是否已关闭
func (c *Conn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// OnClose 注册关闭回调
func (c *Conn) OnClose(fn func(error)) {
	c.mu.Lock()
	if !c.IsClosed() {
		c.onClose = append(c.onClose, fn)
		c.mu.Unlock()
		return
	}
	err := c.closeErr
	c.mu.Unlock()
	fn(err)
}

// Shutdown 标记连接关闭并执行回调，仅第一次调用生效
//
// 回调中可以再次调用 Shutdown（例如关闭配对的另一端），重入的调用直接返回 false。
func (c *Conn) Shutdown(err error) bool {
	if !c.closing.CompareAndSwap(false, true) {
		return false
	}
	c.mu.Lock()
	c.closeErr = err
	close(c.closed)
	callbacks := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(err)
	}
	return true
}

// CloseErr 返回关闭原因
func (c *Conn) CloseErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// CompleteReply 以应答完成请求 Future
//
// 非成功状态的应答映射为对应的哨兵错误。
func CompleteReply(f *future.Future[*relaypb.Message], reply *relaypb.Message) {
	if err := reply.Err(); err != nil {
		f.Fail(err)
		return
	}
	f.Complete(reply)
}

// WithDefaultTimeout 为没有截止时间的 ctx 加上默认超时
func WithDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// OneShot 建立连接、发送一次请求后关闭连接
func OneShot(ctx context.Context, open *future.Future[pkgif.Connection], msg *relaypb.Message) *future.Future[*relaypb.Message] {
	return future.Then(open, func(c pkgif.Connection) *future.Future[*relaypb.Message] {
		reply := c.Request(ctx, msg)
		reply.OnComplete(func(*future.Future[*relaypb.Message]) {
			_ = c.Close()
		})
		return reply
	})
}
