// Package tcp 提供基于 TCP 的传输层实现
//
// 每条 TCP 连接之上运行一个 yamux 会话，每个请求占用一个流：
// 请求方写入一帧，对端在注册表中分发后写回一帧应答，然后关闭流。
// 帧格式为 varint 长度前缀 + protobuf 编码的消息。
package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-yamux/v5"
	"go.uber.org/multierr"

	"github.com/dep2p/go-relaydht/internal/core/protocol"
	"github.com/dep2p/go-relaydht/internal/core/transport/base"
	"github.com/dep2p/go-relaydht/internal/util/logger"
	"github.com/dep2p/go-relaydht/pkg/future"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
)

var log = logger.Logger("transport.tcp")

// ============================================================================
//                              Transport 实现
// ============================================================================

// Transport TCP 传输层实现
type Transport struct {
	listenAddr string
	opts       base.Options
	channels   *base.Channels
	registry   pkgif.ProtocolRegistry
	yamuxCfg   *yamux.Config

	mu       sync.RWMutex
	listener net.Listener
	endpoint string

	connsMu sync.Mutex
	conns   map[string]*conn

	closed atomic.Bool
}

// 确保实现接口
var _ pkgif.Transport = (*Transport)(nil)

// NewTransport 创建 TCP 传输层
func NewTransport(listenAddr string, registry pkgif.ProtocolRegistry, opts base.Options) *Transport {
	if registry == nil {
		registry = protocol.NewRegistry()
	}
	opts = opts.Normalize()

	cfg := yamux.DefaultConfig()
	cfg.LogOutput = io.Discard

	return &Transport{
		listenAddr: listenAddr,
		opts:       opts,
		channels:   base.NewChannels(opts.MaxChannels),
		registry:   registry,
		yamuxCfg:   cfg,
		endpoint:   listenAddr,
		conns:      make(map[string]*conn),
	}
}

// Endpoint 返回监听端点（Listen 之后为实际地址）
func (t *Transport) Endpoint() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.endpoint
}

// Registry 返回处理器注册表
func (t *Transport) Registry() pkgif.ProtocolRegistry { return t.registry }

// Reserve 预留出站通道
func (t *Transport) Reserve(n int) *future.Future[pkgif.Reservation] {
	if t.closed.Load() {
		return future.Failed[pkgif.Reservation](base.ErrTransportClosed)
	}
	return t.channels.Reserve(n)
}

// Listen 开始监听入站连接
func (t *Transport) Listen(ctx context.Context) error {
	if t.closed.Load() {
		return base.ErrTransportClosed
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", t.listenAddr, err)
	}

	t.mu.Lock()
	t.listener = ln
	t.endpoint = ln.Addr().String()
	t.mu.Unlock()

	log.Info("TCP 传输开始监听", "endpoint", ln.Addr().String())
	go t.acceptLoop(ln)
	return nil
}

func (t *Transport) acceptLoop(ln net.Listener) {
	for {
		raw, err := ln.Accept()
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn("接受连接失败", "err", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		sess, err := yamux.Server(raw, t.yamuxCfg, nil)
		if err != nil {
			log.Debug("yamux 握手失败", "remote", raw.RemoteAddr().String(), "err", err)
			_ = raw.Close()
			continue
		}

		c := t.newConn(sess, raw)
		if !t.track(c) {
			_ = c.Close()
			return
		}
		log.Debug("接受入站连接", "remote", c.RemoteEndpoint())
	}
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

		c, err := t.dial(ctx, endpoint)
		if err != nil {
			t.channels.ReleaseOne()
			f.Fail(fmt.Errorf("dial %s: %w: %v", endpoint, base.ErrConnectionRefused, err))
			return
		}
		c.OnClose(func(error) { t.channels.ReleaseOne() })

		if !f.Complete(c) {
			_ = c.Close()
		}
	}()
	return f
}

func (t *Transport) dial(ctx context.Context, endpoint string) (*conn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, err
	}

	sess, err := yamux.Client(raw, t.yamuxCfg, nil)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}

	c := t.newConn(sess, raw)
	if !t.track(c) {
		_ = c.Close()
		return nil, base.ErrTransportClosed
	}
	return c, nil
}

// Request 发送一次性请求
func (t *Transport) Request(ctx context.Context, endpoint string, msg *relaypb.Message) *future.Future[*relaypb.Message] {
	return base.OneShot(ctx, t.Open(ctx, endpoint, nil), msg)
}

// Close 关闭传输层
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error

	t.mu.Lock()
	if t.listener != nil {
		err = multierr.Append(err, t.listener.Close())
		t.listener = nil
	}
	t.mu.Unlock()

	t.connsMu.Lock()
	conns := make([]*conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[string]*conn)
	t.connsMu.Unlock()

	for _, c := range conns {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// ConnCount 返回连接数量
func (t *Transport) ConnCount() int {
	t.connsMu.Lock()
	defer t.connsMu.Unlock()
	return len(t.conns)
}

// IsClosed 检查是否已关闭
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}

func (t *Transport) track(c *conn) bool {
	t.connsMu.Lock()
	if t.closed.Load() {
		t.connsMu.Unlock()
		return false
	}
	t.conns[c.ID()] = c
	t.connsMu.Unlock()

	c.OnClose(func(error) {
		t.connsMu.Lock()
		delete(t.conns, c.ID())
		t.connsMu.Unlock()
	})
	go c.serve()
	return true
}
