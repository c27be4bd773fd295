package liveness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-relaydht/internal/core/relay/server"
	"github.com/dep2p/go-relaydht/internal/core/routing"
	"github.com/dep2p/go-relaydht/internal/core/transport/base"
	"github.com/dep2p/go-relaydht/internal/core/transport/memory"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
	"github.com/dep2p/go-relaydht/pkg/types"
)

type testNode struct {
	addr  types.PeerAddress
	tr    pkgif.Transport
	table *routing.Table
	svc   *Service
}

func newTestNode(t *testing.T, n *memory.Network, endpoint string) *testNode {
	t.Helper()
	tr := n.NewTransport(endpoint, nil, base.Options{})
	require.NoError(t, tr.Listen(context.Background()))
	t.Cleanup(func() { _ = tr.Close() })

	addr := types.NewPeerAddress(types.RandomID(), endpoint)
	table, err := routing.NewTable(addr.ID(), routing.Config{MaxFailures: 2}, nil, nil)
	require.NoError(t, err)

	svc := NewService(tr, table, func() types.PeerAddress { return addr }, time.Second, nil)
	require.NoError(t, svc.Register(tr.Registry()))
	return &testNode{addr: addr, tr: tr, table: table, svc: svc}
}

func TestService_PingEndpoint(t *testing.T) {
	n := memory.NewNetwork()
	a := newTestNode(t, n, "a")
	b := newTestNode(t, n, "b")
	a.table.AddCandidate(b.addr)

	f := a.svc.PingEndpoint(context.Background(), "b").Await()
	require.True(t, f.IsSuccess(), f.Reason())
	assert.GreaterOrEqual(t, f.Value(), time.Duration(0))

	stat, ok := a.table.Statistic(b.addr.ID())
	require.True(t, ok)
	assert.Equal(t, 1, stat.Successes())

	t.Log("✅ PingEndpoint 正常")
}

func TestService_PingConnection(t *testing.T) {
	n := memory.NewNetwork()
	a := newTestNode(t, n, "a")
	b := newTestNode(t, n, "b")
	require.NoError(t, a.table.Verify(b.addr))

	c := a.tr.Open(context.Background(), "b", nil).Await().Value()
	c.SetRemote(b.addr)

	require.True(t, a.svc.Ping(context.Background(), c).Await().IsSuccess())

	// 对端崩溃后探测失败并计入统计
	n.Kill("b")
	f := a.svc.Ping(context.Background(), c).Await()
	assert.True(t, f.IsFailed())
	stat, ok := a.table.Statistic(b.addr.ID())
	require.True(t, ok)
	assert.Equal(t, 1, stat.Failures())
}

func TestService_PingRefused(t *testing.T) {
	n := memory.NewNetwork()
	a := newTestNode(t, n, "a")
	newTestNode(t, n, "b")
	n.Block("b")

	f := a.svc.PingEndpoint(context.Background(), "b").Await()
	assert.ErrorIs(t, f.Err(), base.ErrConnectionRefused)
}

func TestService_PayloadMismatch(t *testing.T) {
	n := memory.NewNetwork()
	a := newTestNode(t, n, "a")
	tr := n.NewTransport("liar", nil, base.Options{})
	require.NoError(t, tr.Listen(context.Background()))
	t.Cleanup(func() { _ = tr.Close() })
	require.NoError(t, tr.Registry().Register(relaypb.KindPing, func(context.Context, pkgif.Connection, *relaypb.Message) (*relaypb.Message, error) {
		return &relaypb.Message{Payload: []byte("nope")}, nil
	}))

	f := a.svc.PingEndpoint(context.Background(), "liar").Await()
	assert.ErrorIs(t, f.Err(), ErrPingFailed)
}

func TestService_Closed(t *testing.T) {
	n := memory.NewNetwork()
	a := newTestNode(t, n, "a")
	b := newTestNode(t, n, "b")

	require.NoError(t, a.svc.Close())
	assert.ErrorIs(t, a.svc.PingEndpoint(context.Background(), "b").Err(), ErrServiceClosed)

	require.NoError(t, b.svc.Close())
	f := newTestNode(t, n, "c").svc.PingEndpoint(context.Background(), "b").Await()
	assert.ErrorIs(t, f.Err(), relaypb.ErrRemote)
}

// registerAt 让 u 在 relay 上注册，返回 u 的中继身份
func registerAt(t *testing.T, u *testNode, relay string) types.PeerAddress {
	t.Helper()
	c := u.tr.Open(context.Background(), relay, nil).Await()
	require.True(t, c.IsSuccess(), c.Reason())
	t.Cleanup(func() { _ = c.Value().Close() })

	reply := c.Value().Request(context.Background(), relaypb.NewRequest(relaypb.KindSetupRequest, u.addr)).Await()
	require.True(t, reply.IsSuccess(), reply.Reason())
	return u.addr.WithRelays([]string{relay})
}

func TestService_PingRelayed(t *testing.T) {
	n := memory.NewNetwork()
	a := newTestNode(t, n, "a")
	r := newTestNode(t, n, "r")
	fwd := server.NewForwarder(server.Config{}, nil)
	require.NoError(t, server.NewServer(fwd, nil, func() types.PeerAddress { return r.addr }).Register(r.tr.Registry()))

	u := newTestNode(t, n, "u")
	n.Block("u")
	relayed := registerAt(t, u, "r")
	require.True(t, fwd.Contains(u.addr.ID()))

	// 直连不可达
	assert.True(t, a.svc.PingEndpoint(context.Background(), "u").Await().IsFailed())

	a.table.AddCandidate(relayed)
	f := a.svc.PingRelayed(context.Background(), relayed).Await()
	require.True(t, f.IsSuccess(), f.Reason())
	stat, ok := a.table.Statistic(u.addr.ID())
	require.True(t, ok)
	assert.Equal(t, 1, stat.Successes())

	// 失效的中继被跳过
	f = a.svc.PingRelayed(context.Background(), u.addr.WithRelays([]string{"gone", "r"})).Await()
	require.True(t, f.IsSuccess(), f.Reason())

	t.Log("✅ 经中继探测")
}

func TestService_PingRelayed_Failures(t *testing.T) {
	n := memory.NewNetwork()
	a := newTestNode(t, n, "a")
	r := newTestNode(t, n, "r")
	fwd := server.NewForwarder(server.Config{}, nil)
	require.NoError(t, server.NewServer(fwd, nil, func() types.PeerAddress { return r.addr }).Register(r.tr.Registry()))

	ghost := types.NewPeerAddress(types.RandomID(), "ghost")
	assert.ErrorIs(t, a.svc.PingRelayed(context.Background(), ghost).Err(), ErrNotRelayed)

	// r 没有为 ghost 中继
	a.table.AddCandidate(ghost.WithRelays([]string{"r"}))
	f := a.svc.PingRelayed(context.Background(), ghost.WithRelays([]string{"r"})).Await()
	assert.ErrorIs(t, f.Err(), relaypb.ErrDestinationNotRelayedHere)

	stat, ok := a.table.Statistic(ghost.ID())
	require.True(t, ok)
	assert.Zero(t, stat.Failures(), "失败由调用方记录")
}
