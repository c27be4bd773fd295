package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-relaydht/internal/core/routing"
	"github.com/dep2p/go-relaydht/internal/core/transport/base"
	"github.com/dep2p/go-relaydht/internal/core/transport/memory"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
	"github.com/dep2p/go-relaydht/pkg/types"
)

type testNode struct {
	addr types.PeerAddress
	tr   *memory.Transport
}

func newTestNode(t *testing.T, n *memory.Network, endpoint string) *testNode {
	t.Helper()
	tr := n.NewTransport(endpoint, nil, base.Options{})
	require.NoError(t, tr.Listen(context.Background()))
	t.Cleanup(func() { _ = tr.Close() })
	return &testNode{addr: types.NewPeerAddress(types.RandomID(), endpoint), tr: tr}
}

type relayFixture struct {
	*testNode
	fwd   *Forwarder
	table *routing.Table
}

func newRelayFixture(t *testing.T, n *memory.Network, cfg Config) *relayFixture {
	t.Helper()
	node := newTestNode(t, n, "relay")
	table, err := routing.NewTable(node.addr.ID(), routing.Config{}, nil, nil)
	require.NoError(t, err)

	r := &relayFixture{testNode: node, fwd: NewForwarder(cfg, nil), table: table}
	srv := NewServer(r.fwd, table, func() types.PeerAddress { return node.addr })
	require.NoError(t, srv.Register(node.tr.Registry()))
	return r
}

// register 以不可达节点身份向中继发送 SETUP，返回保持的连接
func register(t *testing.T, u *testNode, relay *relayFixture) (pkgif.Connection, error) {
	t.Helper()
	conn := u.tr.Open(context.Background(), relay.addr.Endpoints()[0], nil).Await()
	require.True(t, conn.IsSuccess(), conn.Reason())

	id := u.addr.WithFirewalled(true, false)
	reply := conn.Value().Request(context.Background(), relaypb.NewRequest(relaypb.KindSetupRequest, id)).Await()
	if err := reply.Err(); err != nil {
		_ = conn.Value().Close()
		return nil, err
	}
	assert.Equal(t, relay.addr.ID(), reply.Value().SenderID())
	return conn.Value(), nil
}

func echoHandler(_ context.Context, _ pkgif.Connection, req *relaypb.Message) (*relaypb.Message, error) {
	return &relaypb.Message{Payload: append([]byte("echo:"), req.Payload...)}, nil
}

func forward(t *testing.T, from *testNode, relay *relayFixture, dest types.ID, payload []byte) (*relaypb.Message, error) {
	t.Helper()
	inner := relaypb.NewRequest(relaypb.KindDirect, from.addr)
	inner.Payload = payload
	b, err := relaypb.Marshal(inner)
	require.NoError(t, err)

	env := relaypb.NewRequest(relaypb.KindForward, from.addr)
	env.Destination = dest
	env.Payload = b

	reply, err := from.tr.Request(context.Background(), relay.addr.Endpoints()[0], env).Await().Result()
	if err != nil {
		return nil, err
	}
	return relaypb.Unmarshal(reply.Payload)
}

func TestServer_SetupAndForward(t *testing.T) {
	n := memory.NewNetwork()
	relay := newRelayFixture(t, n, Config{MaxPeers: 4})
	u := newTestNode(t, n, "u")
	s := newTestNode(t, n, "s")
	n.Block("u")
	require.NoError(t, u.tr.Registry().Register(relaypb.KindDirect, echoHandler))

	_, err := register(t, u, relay)
	require.NoError(t, err)
	assert.True(t, relay.fwd.Contains(u.addr.ID()))
	assert.True(t, relay.table.ContainsOverflow(u.addr), "被服务节点只是候选")
	assert.False(t, relay.table.ContainsVerified(u.addr))

	inner, err := forward(t, s, relay, u.addr.ID(), []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, relaypb.KindDirectReply, inner.Kind)
	assert.Equal(t, []byte("echo:hi"), inner.Payload)
	assert.Equal(t, uint64(1), relay.fwd.Forwarded())

	t.Log("✅ 经中继转发到不可达节点")
}

func TestServer_ForwardUnknownDestination(t *testing.T) {
	n := memory.NewNetwork()
	relay := newRelayFixture(t, n, Config{MaxPeers: 4})
	s := newTestNode(t, n, "s")

	_, err := forward(t, s, relay, types.RandomID(), []byte("hi"))
	assert.ErrorIs(t, err, ErrDestinationNotRelayedHere)
	assert.Zero(t, relay.fwd.Forwarded())
}

func TestServer_InnerErrorPreserved(t *testing.T) {
	n := memory.NewNetwork()
	relay := newRelayFixture(t, n, Config{MaxPeers: 4})
	u := newTestNode(t, n, "u")
	s := newTestNode(t, n, "s")

	_, err := register(t, u, relay)
	require.NoError(t, err)

	// u 没有 DIRECT 处理器
	_, err = forward(t, s, relay, u.addr.ID(), []byte("hi"))
	assert.ErrorIs(t, err, relaypb.ErrUnknownKind)
}

func TestServer_Capacity(t *testing.T) {
	n := memory.NewNetwork()
	relay := newRelayFixture(t, n, Config{MaxPeers: 1})
	u1 := newTestNode(t, n, "u1")
	u2 := newTestNode(t, n, "u2")

	c1, err := register(t, u1, relay)
	require.NoError(t, err)

	_, err = register(t, u2, relay)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 1, relay.fwd.Len())

	// 同一节点重新注册替换旧连接
	c1b, err := register(t, u1, relay)
	require.NoError(t, err)
	assert.Equal(t, 1, relay.fwd.Len())

	// 旧连接关闭不影响新的注册
	require.NoError(t, c1.Close())
	time.Sleep(50 * time.Millisecond)
	assert.True(t, relay.fwd.Contains(u1.addr.ID()))

	require.NoError(t, c1b.Close())
	assert.Eventually(t, func() bool { return relay.fwd.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	_, err = register(t, u2, relay)
	require.NoError(t, err)
	assert.Equal(t, []types.PeerAddress{u2.addr.WithFirewalled(true, false)}, relay.fwd.All())

	t.Log("✅ 容量为 1 的中继")
}

func TestServer_Teardown(t *testing.T) {
	n := memory.NewNetwork()
	relay := newRelayFixture(t, n, Config{MaxPeers: 4})
	u := newTestNode(t, n, "u")

	conn, err := register(t, u, relay)
	require.NoError(t, err)

	reply := conn.Request(context.Background(), relaypb.NewRequest(relaypb.KindTeardown, u.addr)).Await()
	require.True(t, reply.IsSuccess(), reply.Reason())
	assert.False(t, relay.fwd.Contains(u.addr.ID()))
}

func TestServer_SetupWithoutSender(t *testing.T) {
	n := memory.NewNetwork()
	relay := newRelayFixture(t, n, Config{MaxPeers: 4})
	u := newTestNode(t, n, "u")

	reply := u.tr.Request(context.Background(), "relay", &relaypb.Message{Kind: relaypb.KindSetupRequest}).Await()
	assert.ErrorIs(t, reply.Err(), relaypb.ErrMalformed)

	self := relaypb.NewRequest(relaypb.KindSetupRequest, relay.addr)
	reply = u.tr.Request(context.Background(), "relay", self).Await()
	assert.ErrorIs(t, reply.Err(), relaypb.ErrRejected)
}

func TestForwarder_RateLimited(t *testing.T) {
	n := memory.NewNetwork()
	relay := newRelayFixture(t, n, Config{MaxPeers: 4, ForwardRate: 0.001, ForwardBurst: 1})
	u := newTestNode(t, n, "u")
	s := newTestNode(t, n, "s")
	require.NoError(t, u.tr.Registry().Register(relaypb.KindDirect, echoHandler))

	_, err := register(t, u, relay)
	require.NoError(t, err)

	_, err = forward(t, s, relay, u.addr.ID(), []byte("1"))
	require.NoError(t, err)
	_, err = forward(t, s, relay, u.addr.ID(), []byte("2"))
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestForwarder_Closed(t *testing.T) {
	fwd := NewForwarder(Config{}, nil)
	assert.Equal(t, DefaultConfig().MaxPeers, fwd.Config().MaxPeers)

	require.NoError(t, fwd.Close())
	assert.ErrorIs(t, fwd.Register(types.NewPeerAddress(types.RandomID(), "x"), nil), ErrForwarderClosed)
	assert.False(t, fwd.Unregister(types.RandomID()))
}

// publish 在注册连接上发布邻居集合
func publish(t *testing.T, conn pkgif.Connection, sender types.PeerAddress, peers ...types.PeerAddress) error {
	t.Helper()
	msg := relaypb.NewRequest(relaypb.KindNeighbours, sender)
	msg.Peers = peers
	return conn.Request(context.Background(), msg).Await().Err()
}

// query 经中继向 dest 发送 ANNOUNCE 查询
func query(t *testing.T, from *testNode, relay *relayFixture, dest types.ID) (*relaypb.Message, error) {
	t.Helper()
	env, err := relaypb.Envelope(relaypb.NewRequest(relaypb.KindAnnounce, from.addr), from.addr, dest)
	require.NoError(t, err)
	outer, err := from.tr.Request(context.Background(), relay.addr.Endpoints()[0], env).Await().Result()
	if err != nil {
		return nil, err
	}
	return relaypb.OpenEnvelope(outer)
}

func TestServer_AnswersForServedPeer(t *testing.T) {
	n := memory.NewNetwork()
	relay := newRelayFixture(t, n, Config{MaxPeers: 4})
	u := newTestNode(t, n, "u")
	s := newTestNode(t, n, "s")
	n.Block("u")

	conn, err := register(t, u, relay)
	require.NoError(t, err)

	p1 := types.NewPeerAddress(types.RandomID(), "p1")
	p2 := types.NewPeerAddress(types.RandomID(), "p2")
	relayed := u.addr.WithRelays([]string{"relay"})
	require.NoError(t, publish(t, conn, relayed, p1, p2, s.addr, relayed))
	require.Len(t, relay.fwd.Neighbours(u.addr.ID()), 3, "去掉节点自身")

	reply, err := query(t, s, relay, u.addr.ID())
	require.NoError(t, err)
	assert.Equal(t, relaypb.KindAnnounceReply, reply.Kind)
	require.NotNil(t, reply.Sender)
	assert.True(t, reply.Sender.Equal(relayed), "以节点发布时的身份应答")
	require.Len(t, reply.Peers, 2, "不包含查询方")
	assert.ElementsMatch(t, []types.ID{p1.ID(), p2.ID()}, []types.ID{reply.Peers[0].ID(), reply.Peers[1].ID()})
	assert.Equal(t, uint64(1), relay.fwd.Answered())
	assert.Zero(t, relay.fwd.Forwarded(), "查询不转发给节点")

	// 邻居集合随发布缩小
	require.NoError(t, publish(t, conn, relayed, p1))
	reply, err = query(t, s, relay, u.addr.ID())
	require.NoError(t, err)
	require.Len(t, reply.Peers, 1)
	assert.Equal(t, p1.ID(), reply.Peers[0].ID())

	t.Log("✅ 中继代替被服务节点应答路由查询")
}

func TestServer_NeighboursRequireRegistration(t *testing.T) {
	n := memory.NewNetwork()
	relay := newRelayFixture(t, n, Config{MaxPeers: 4})
	u := newTestNode(t, n, "u")
	x := newTestNode(t, n, "x")

	_, err := register(t, u, relay)
	require.NoError(t, err)

	// 其他连接不能替 u 发布
	other := x.tr.Open(context.Background(), "relay", nil).Await()
	require.True(t, other.IsSuccess())
	t.Cleanup(func() { _ = other.Value().Close() })
	err = publish(t, other.Value(), u.addr, x.addr)
	assert.ErrorIs(t, err, ErrDestinationNotRelayedHere)
	assert.Nil(t, relay.fwd.Neighbours(u.addr.ID()))

	// 未发布时查询转发给节点；u 没有 ANNOUNCE 处理器
	_, err = query(t, x, relay, u.addr.ID())
	assert.ErrorIs(t, err, relaypb.ErrUnknownKind)
	assert.Zero(t, relay.fwd.Answered())

	bad := relaypb.NewRequest(relaypb.KindNeighbours, types.PeerAddress{})
	assert.ErrorIs(t, other.Value().Request(context.Background(), bad).Await().Err(), relaypb.ErrMalformed)
}
