package tcp

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/libp2p/go-yamux/v5"

	"github.com/dep2p/go-relaydht/internal/core/transport/base"
	"github.com/dep2p/go-relaydht/pkg/future"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
)

// 确保实现了接口
var _ pkgif.Connection = (*conn)(nil)

// conn 一条 TCP 连接及其 yamux 会话
type conn struct {
	*base.Conn
	tr   *Transport
	sess *yamux.Session
}

func (t *Transport) newConn(sess *yamux.Session, raw net.Conn) *conn {
	return &conn{
		Conn: base.NewConn(t.Endpoint(), raw.RemoteAddr().String()),
		tr:   t,
		sess: sess,
	}
}

// serve 接受对端发起的流，直到会话关闭
func (c *conn) serve() {
	for {
		st, err := c.sess.AcceptStream()
		if err != nil {
			_ = c.sess.Close()
			c.Shutdown(base.ErrConnectionClosed)
			return
		}
		go c.handleStream(st)
	}
}

func (c *conn) handleStream(st *yamux.Stream) {
	defer st.Close()

	_ = st.SetDeadline(time.Now().Add(c.tr.opts.RequestTimeout))

	req, err := base.ReadMessage(bufio.NewReader(st))
	if err != nil {
		log.Debug("读取请求失败", "remote", c.RemoteEndpoint(), "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.tr.opts.RequestTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = st.Reset() })
	defer stop()

	reply := c.tr.registry.Dispatch(ctx, c, req)
	if err := base.WriteMessage(st, reply); err != nil {
		log.Debug("写入应答失败", "remote", c.RemoteEndpoint(), "kind", req.Kind, "err", err)
	}
}

// Request 在新流上发送请求并等待应答
func (c *conn) Request(ctx context.Context, msg *relaypb.Message) *future.Future[*relaypb.Message] {
	if c.IsClosed() {
		return future.Failed[*relaypb.Message](base.ErrConnectionClosed)
	}

	f := future.New[*relaypb.Message]()
	ctx, cancel := base.WithDefaultTimeout(ctx, c.tr.opts.RequestTimeout)
	f.OnCancel(cancel)

	go func() {
		defer cancel()

		st, err := c.sess.OpenStream(ctx)
		if err != nil {
			f.Fail(c.streamErr(ctx, err))
			return
		}
		defer st.Close()

		stop := context.AfterFunc(ctx, func() { _ = st.Reset() })
		defer stop()

		if err := base.WriteMessage(st, msg); err != nil {
			f.Fail(c.streamErr(ctx, err))
			return
		}
		reply, err := base.ReadMessage(bufio.NewReader(st))
		if err != nil {
			f.Fail(c.streamErr(ctx, err))
			return
		}
		base.CompleteReply(f, reply)
	}()
	return f
}

// streamErr 将流错误归类为超时或连接关闭
func (c *conn) streamErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if c.sess.IsClosed() {
		return base.ErrConnectionClosed
	}
	return err
}

// Close 关闭连接
func (c *conn) Close() error {
	err := c.sess.Close()
	c.Shutdown(base.ErrConnectionClosed)
	return err
}
