package tcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-relaydht/internal/core/transport/base"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
)

func newListening(t *testing.T) *Transport {
	t.Helper()
	tr := NewTransport("127.0.0.1:0", nil, base.Options{MaxChannels: 4})
	require.NoError(t, tr.Listen(context.Background()))
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestNewTransport(t *testing.T) {
	tr := NewTransport("127.0.0.1:0", nil, base.Options{})
	defer tr.Close()

	assert.False(t, tr.IsClosed())
	assert.Equal(t, "127.0.0.1:0", tr.Endpoint())
	assert.NotNil(t, tr.Registry())
}

func TestTransport_ListenAndRequest(t *testing.T) {
	server := newListening(t)
	client := newListening(t)
	assert.NotEqual(t, "127.0.0.1:0", server.Endpoint())

	require.NoError(t, server.Registry().Register(relaypb.KindDirect, func(_ context.Context, _ pkgif.Connection, req *relaypb.Message) (*relaypb.Message, error) {
		return &relaypb.Message{Payload: append([]byte("echo:"), req.Payload...)}, nil
	}))

	f := client.Open(context.Background(), server.Endpoint(), nil).Await()
	require.True(t, f.IsSuccess(), f.Reason())
	c := f.Value()
	defer c.Close()

	for i := 0; i < 3; i++ {
		reply := c.Request(context.Background(), &relaypb.Message{Kind: relaypb.KindDirect, RequestID: "r", Payload: []byte("hi")}).Await()
		require.True(t, reply.IsSuccess(), reply.Reason())
		assert.Equal(t, relaypb.KindDirectReply, reply.Value().Kind)
		assert.Equal(t, []byte("echo:hi"), reply.Value().Payload)
	}

	unknown := c.Request(context.Background(), &relaypb.Message{Kind: relaypb.KindAnnounce}).Await()
	assert.ErrorIs(t, unknown.Err(), relaypb.ErrUnknownKind)

	t.Log("✅ TCP 请求应答正常")
}

func TestTransport_ReverseRequest(t *testing.T) {
	server := newListening(t)
	client := newListening(t)

	accepted := make(chan pkgif.Connection, 1)
	require.NoError(t, server.Registry().Register(relaypb.KindSetupRequest, func(_ context.Context, c pkgif.Connection, _ *relaypb.Message) (*relaypb.Message, error) {
		accepted <- c
		return nil, nil
	}))
	require.NoError(t, client.Registry().Register(relaypb.KindPing, func(context.Context, pkgif.Connection, *relaypb.Message) (*relaypb.Message, error) {
		return nil, nil
	}))

	c := client.Open(context.Background(), server.Endpoint(), nil).Await().Value()
	defer c.Close()
	require.True(t, c.Request(context.Background(), &relaypb.Message{Kind: relaypb.KindSetupRequest}).Await().IsSuccess())

	inbound := <-accepted
	pong := inbound.Request(context.Background(), &relaypb.Message{Kind: relaypb.KindPing}).Await()
	require.True(t, pong.IsSuccess(), pong.Reason())
	assert.Equal(t, relaypb.KindPong, pong.Value().Kind)
}

func TestTransport_CloseNotifiesPeer(t *testing.T) {
	server := newListening(t)
	client := newListening(t)

	c := client.Open(context.Background(), server.Endpoint(), nil).Await().Value()
	lost := make(chan struct{})
	c.OnClose(func(error) { close(lost) })

	require.NoError(t, server.Close())

	select {
	case <-lost:
	case <-time.After(5 * time.Second):
		t.Fatal("连接未关闭")
	}
	assert.ErrorIs(t, c.Request(context.Background(), &relaypb.Message{Kind: relaypb.KindPing}).Await().Err(), base.ErrConnectionClosed)
}

func TestTransport_DialRefused(t *testing.T) {
	client := newListening(t)

	server := NewTransport("127.0.0.1:0", nil, base.Options{})
	require.NoError(t, server.Listen(context.Background()))
	endpoint := server.Endpoint()
	require.NoError(t, server.Close())

	f := client.Open(context.Background(), endpoint, nil).Await()
	assert.ErrorIs(t, f.Err(), base.ErrConnectionRefused)
}

func TestTransport_ClosedRejects(t *testing.T) {
	tr := NewTransport("127.0.0.1:0", nil, base.Options{})
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	assert.ErrorIs(t, tr.Listen(context.Background()), ErrTransportClosed)
	assert.ErrorIs(t, tr.Reserve(1).Err(), ErrTransportClosed)
	assert.ErrorIs(t, tr.Open(context.Background(), "127.0.0.1:1", nil).Err(), ErrTransportClosed)
}
