package messaging

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-relaydht/internal/core/relay/server"
	"github.com/dep2p/go-relaydht/internal/core/routing"
	"github.com/dep2p/go-relaydht/internal/core/transport/base"
	"github.com/dep2p/go-relaydht/internal/core/transport/memory"
	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
	"github.com/dep2p/go-relaydht/pkg/types"
)

type msgNode struct {
	addr  types.PeerAddress
	tr    *memory.Transport
	table *routing.Table
	svc   *Service
}

func newMsgNode(t *testing.T, n *memory.Network, endpoint string) *msgNode {
	t.Helper()
	tr := n.NewTransport(endpoint, nil, base.Options{})
	require.NoError(t, tr.Listen(context.Background()))
	t.Cleanup(func() { _ = tr.Close() })

	node := &msgNode{addr: types.NewPeerAddress(types.RandomID(), endpoint), tr: tr}
	table, err := routing.NewTable(node.addr.ID(), routing.Config{}, nil, nil)
	require.NoError(t, err)
	node.table = table
	node.svc = NewService(tr, table, func() types.PeerAddress { return node.addr })
	require.NoError(t, node.svc.Register(tr.Registry()))
	return node
}

// attachRelay 在节点上安装中继服务端
func attachRelay(t *testing.T, node *msgNode) *server.Forwarder {
	t.Helper()
	fwd := server.NewForwarder(server.Config{MaxPeers: 4}, nil)
	srv := server.NewServer(fwd, nil, func() types.PeerAddress { return node.addr })
	require.NoError(t, srv.Register(node.tr.Registry()))
	return fwd
}

// registerAt 让 u 向中继注册并把身份改为经由这些中继
func registerAt(t *testing.T, n *memory.Network, u *msgNode, relays ...*msgNode) {
	t.Helper()
	n.Block(u.addr.Endpoints()[0])
	var endpoints []string
	for _, r := range relays {
		ep := r.addr.Endpoints()[0]
		conn := u.tr.Open(context.Background(), ep, nil).Await()
		require.True(t, conn.IsSuccess(), conn.Reason())
		reply := conn.Value().Request(context.Background(), relaypb.NewRequest(relaypb.KindSetupRequest, u.addr)).Await()
		require.True(t, reply.IsSuccess(), reply.Reason())
		endpoints = append(endpoints, ep)
	}
	u.addr = u.addr.WithRelays(endpoints)
}

func echo(_ context.Context, sender types.PeerAddress, payload []byte) ([]byte, error) {
	return append([]byte(sender.ID().ShortString()+":"), payload...), nil
}

func TestService_SendDirect(t *testing.T) {
	n := memory.NewNetwork()
	a := newMsgNode(t, n, "a")
	b := newMsgNode(t, n, "b")
	b.svc.SetHandler(echo)
	require.NoError(t, a.table.Verify(b.addr))

	f := a.svc.SendDirect(context.Background(), b.addr, []byte("hi")).Await()
	require.True(t, f.IsSuccess(), f.Reason())
	assert.Equal(t, relaypb.KindDirectReply, f.Value().Kind)
	assert.Equal(t, []byte(a.addr.ID().ShortString()+":hi"), f.Value().Payload)
	assert.Equal(t, b.addr.ID(), f.Value().SenderID())

	stat, ok := a.table.Statistic(b.addr.ID())
	require.True(t, ok)
	assert.Equal(t, 2, stat.Successes())

	t.Log("✅ 直连发送")
}

func TestService_SendDirect_NoHandler(t *testing.T) {
	n := memory.NewNetwork()
	a := newMsgNode(t, n, "a")
	b := newMsgNode(t, n, "b")

	f := a.svc.SendDirect(context.Background(), b.addr, []byte("hi")).Await()
	assert.ErrorIs(t, f.Err(), relaypb.ErrRejected)

	b.svc.SetHandler(func(context.Context, types.PeerAddress, []byte) ([]byte, error) {
		return nil, errors.New("boom")
	})
	f = a.svc.SendDirect(context.Background(), b.addr, []byte("hi")).Await()
	assert.ErrorIs(t, f.Err(), relaypb.ErrRemote)

	none := a.svc.SendDirect(context.Background(), types.NewPeerAddress(types.RandomID()), nil)
	assert.ErrorIs(t, none.Err(), ErrNoEndpoint)
}

func TestService_SendThroughRelay(t *testing.T) {
	n := memory.NewNetwork()
	r := newMsgNode(t, n, "r")
	fwd := attachRelay(t, r)
	u := newMsgNode(t, n, "u")
	s := newMsgNode(t, n, "s")

	var seenAtRelay atomic.Uint64
	u.svc.SetHandler(func(ctx context.Context, sender types.PeerAddress, payload []byte) ([]byte, error) {
		seenAtRelay.Store(fwd.Forwarded())
		return echo(ctx, sender, payload)
	})
	registerAt(t, n, u, r)

	// 目标被阻挡，直连必然失败
	direct := s.svc.SendDirect(context.Background(), u.addr.WithoutRelays(), []byte("hi")).Await()
	require.True(t, direct.IsFailed())

	f := s.svc.SendDirect(context.Background(), u.addr, []byte("hi")).Await()
	require.True(t, f.IsSuccess(), f.Reason())
	assert.Equal(t, []byte(s.addr.ID().ShortString()+":hi"), f.Value().Payload)
	assert.Equal(t, u.addr.ID(), f.Value().SenderID())
	assert.Equal(t, uint64(1), seenAtRelay.Load(), "消息先经过中继的转发")

	t.Log("✅ 经中继发送")
}

func TestService_RelayFallThrough(t *testing.T) {
	n := memory.NewNetwork()
	r1 := newMsgNode(t, n, "r1")
	attachRelay(t, r1)
	r2 := newMsgNode(t, n, "r2")
	fwd2 := attachRelay(t, r2)
	u := newMsgNode(t, n, "u")
	s := newMsgNode(t, n, "s")
	u.svc.SetHandler(echo)

	registerAt(t, n, u, r2)
	// 通告的第一个中继并未服务 u，第二个有效
	dest := u.addr.WithRelays([]string{"r1", "gone", "r2"})

	f := s.svc.SendDirect(context.Background(), dest, []byte("hi")).Await()
	require.True(t, f.IsSuccess(), f.Reason())
	assert.Equal(t, uint64(1), fwd2.Forwarded())

	t.Log("✅ 失败的中继被跳过")
}

func TestService_RouteLost(t *testing.T) {
	n := memory.NewNetwork()
	r := newMsgNode(t, n, "r")
	attachRelay(t, r)
	u := newMsgNode(t, n, "u")
	s := newMsgNode(t, n, "s")
	u.svc.SetHandler(echo)
	registerAt(t, n, u, r)

	n.Kill("r")
	f := s.svc.SendDirect(context.Background(), u.addr, []byte("hi")).Await()
	assert.ErrorIs(t, f.Err(), ErrRouteLost)

	other := types.NewPeerAddress(types.RandomID(), "x").WithRelays([]string{"nowhere"})
	f = s.svc.SendDirect(context.Background(), other, nil).Await()
	assert.ErrorIs(t, f.Err(), ErrRouteLost)
}

func TestService_RelayedApplicationError(t *testing.T) {
	n := memory.NewNetwork()
	r1 := newMsgNode(t, n, "r1")
	fwd1 := attachRelay(t, r1)
	r2 := newMsgNode(t, n, "r2")
	fwd2 := attachRelay(t, r2)
	u := newMsgNode(t, n, "u")
	s := newMsgNode(t, n, "s")
	registerAt(t, n, u, r1, r2)

	// 目标拒绝时不换中继重试
	f := s.svc.SendDirect(context.Background(), u.addr, []byte("hi")).Await()
	assert.ErrorIs(t, f.Err(), relaypb.ErrRejected)
	assert.Equal(t, uint64(1), fwd1.Forwarded())
	assert.Zero(t, fwd2.Forwarded())
}

func TestService_CancelRelayed(t *testing.T) {
	n := memory.NewNetwork()
	s := newMsgNode(t, n, "s")
	dest := types.NewPeerAddress(types.RandomID(), "x").WithRelays([]string{"nowhere"})

	f := s.svc.SendDirect(context.Background(), dest, nil)
	f.Cancel()
	<-f.Done()
	assert.True(t, f.IsCancelled() || f.IsFailed())

	require.NoError(t, s.svc.Close())
	assert.ErrorIs(t, s.svc.SendDirect(context.Background(), dest, nil).Err(), ErrServiceClosed)
}
