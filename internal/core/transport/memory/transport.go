package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-relaydht/internal/core/protocol"
	"github.com/dep2p/go-relaydht/internal/core/transport/base"
	"github.com/dep2p/go-relaydht/pkg/future"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
)

// ErrEndpointInUse 端点已被其他传输占用
var ErrEndpointInUse = errors.New("memory: endpoint in use")

// ============================================================================
//                              Transport 实现
// ============================================================================

// Transport 进程内传输
type Transport struct {
	net      *Network
	endpoint string
	opts     base.Options
	channels *base.Channels
	registry pkgif.ProtocolRegistry

	connsMu sync.Mutex
	conns   map[string]*conn

	closed atomic.Bool
}

var _ pkgif.Transport = (*Transport)(nil)

// NewTransport 在网络上创建传输
//
// registry 为空时使用独立的注册表。调用 Listen 之后才接受入站连接。
func (n *Network) NewTransport(endpoint string, registry pkgif.ProtocolRegistry, opts base.Options) *Transport {
	if registry == nil {
		registry = protocol.NewRegistry()
	}
	opts = opts.Normalize()
	return &Transport{
		net:      n,
		endpoint: endpoint,
		opts:     opts,
		channels: base.NewChannels(opts.MaxChannels),
		registry: registry,
		conns:    make(map[string]*conn),
	}
}

// Endpoint 返回本地端点
func (t *Transport) Endpoint() string { return t.endpoint }

// Registry 返回处理器注册表
func (t *Transport) Registry() pkgif.ProtocolRegistry { return t.registry }

// Reserve 预留出站通道
func (t *Transport) Reserve(n int) *future.Future[pkgif.Reservation] {
	if t.closed.Load() {
		return future.Failed[pkgif.Reservation](base.ErrTransportClosed)
	}
	return t.channels.Reserve(n)
}

// Listen 开始接受入站连接
func (t *Transport) Listen(_ context.Context) error {
	if t.closed.Load() {
		return base.ErrTransportClosed
	}
	return t.net.listen(t)
}

// Open 建立到 endpoint 的连接
func (t *Transport) Open(ctx context.Context, endpoint string, res pkgif.Reservation) *future.Future[pkgif.Connection] {
	if t.closed.Load() {
		return future.Failed[pkgif.Connection](base.ErrTransportClosed)
	}

	f := future.New[pkgif.Connection]()
	ctx, cancel := context.WithTimeout(ctx, t.opts.DialTimeout)
	f.OnCancel(cancel)

	go func() {
		defer cancel()

		if err := t.channels.AcquireOne(ctx, res); err != nil {
			f.Fail(fmt.Errorf("acquire channel: %w", err))
			return
		}

		remote, err := t.net.lookup(endpoint)
		if err != nil {
			t.channels.ReleaseOne()
			f.Fail(fmt.Errorf("dial %s: %w", endpoint, err))
			return
		}

		local, err := t.connect(remote)
		if err != nil {
			t.channels.ReleaseOne()
			f.Fail(fmt.Errorf("dial %s: %w", endpoint, err))
			return
		}
		local.OnClose(func(error) { t.channels.ReleaseOne() })

		log.Debug("连接已建立", "local", t.endpoint, "remote", endpoint)
		if !f.Complete(local) {
			_ = local.Close()
		}
	}()
	return f
}

// Request 发送一次性请求
func (t *Transport) Request(ctx context.Context, endpoint string, msg *relaypb.Message) *future.Future[*relaypb.Message] {
	return base.OneShot(ctx, t.Open(ctx, endpoint, nil), msg)
}

// Close 关闭传输和所有连接
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.net.remove(t)

	t.connsMu.Lock()
	conns := make([]*conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[string]*conn)
	t.connsMu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}

// ConnCount 返回连接数量
func (t *Transport) ConnCount() int {
	t.connsMu.Lock()
	defer t.connsMu.Unlock()
	return len(t.conns)
}

// connect 建立一对相连的连接端
func (t *Transport) connect(remote *Transport) (*conn, error) {
	local := &conn{Conn: base.NewConn(t.endpoint, remote.endpoint), tr: t}
	peer := &conn{Conn: base.NewConn(remote.endpoint, t.endpoint), tr: remote}
	local.peer, peer.peer = peer, local

	if !t.track(local) {
		return nil, base.ErrTransportClosed
	}
	if !remote.track(peer) {
		t.untrack(local)
		return nil, base.ErrConnectionRefused
	}

	local.OnClose(func(err error) {
		t.untrack(local)
		peer.Shutdown(err)
	})
	peer.OnClose(func(err error) {
		remote.untrack(peer)
		local.Shutdown(err)
	})
	return local, nil
}

func (t *Transport) track(c *conn) bool {
	t.connsMu.Lock()
	defer t.connsMu.Unlock()

	if t.closed.Load() {
		return false
	}
	t.conns[c.ID()] = c
	return true
}

func (t *Transport) untrack(c *conn) {
	t.connsMu.Lock()
	delete(t.conns, c.ID())
	t.connsMu.Unlock()
}

// ============================================================================
//                              连接
// ============================================================================

// conn 进程内连接的一端
type conn struct {
	*base.Conn
	tr   *Transport
	peer *conn
}

var _ pkgif.Connection = (*conn)(nil)

// Request 在连接上发送请求
//
// 请求与应答都经过完整编解码；对端在自己的注册表中分发。
func (c *conn) Request(ctx context.Context, msg *relaypb.Message) *future.Future[*relaypb.Message] {
	if c.IsClosed() {
		return future.Failed[*relaypb.Message](base.ErrConnectionClosed)
	}
	data, err := relaypb.Marshal(msg)
	if err != nil {
		return future.Failed[*relaypb.Message](err)
	}

	f := future.New[*relaypb.Message]()
	ctx, cancel := base.WithDefaultTimeout(ctx, c.tr.opts.RequestTimeout)
	f.OnCancel(cancel)

	go func() {
		defer cancel()

		req, err := relaypb.Unmarshal(data)
		if err != nil {
			f.Fail(err)
			return
		}

		replies := make(chan []byte, 1)
		go func() {
			reply := c.peer.tr.registry.Dispatch(ctx, c.peer, req)
			b, err := relaypb.Marshal(reply)
			if err != nil {
				b, _ = relaypb.Marshal(relaypb.ErrorReply(req, err))
			}
			replies <- b
		}()

		select {
		case b := <-replies:
			reply, err := relaypb.Unmarshal(b)
			if err != nil {
				f.Fail(err)
				return
			}
			base.CompleteReply(f, reply)
		case <-ctx.Done():
			f.Fail(ctx.Err())
		case <-c.Closed():
			f.Fail(base.ErrConnectionClosed)
		}
	}()
	return f
}

// Close 关闭连接（两端同时关闭）
func (c *conn) Close() error {
	c.Shutdown(base.ErrConnectionClosed)
	return nil
}
