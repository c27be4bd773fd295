package relay

import (
	"context"
	"slices"
	"sync"
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

// relayHost 一个运行中继服务端的节点
type relayHost struct {
	addr types.PeerAddress
	fwd  *server.Forwarder
	tr   *memory.Transport
}

func newRelayHost(t *testing.T, n *memory.Network, endpoint string, maxPeers int) *relayHost {
	t.Helper()
	tr := n.NewTransport(endpoint, nil, base.Options{})
	require.NoError(t, tr.Listen(context.Background()))
	t.Cleanup(func() { _ = tr.Close() })

	h := &relayHost{
		addr: types.NewPeerAddress(types.RandomID(), endpoint),
		fwd:  server.NewForwarder(server.Config{MaxPeers: maxPeers}, nil),
		tr:   tr,
	}
	srv := server.NewServer(h.fwd, nil, func() types.PeerAddress { return h.addr })
	require.NoError(t, srv.Register(tr.Registry()))
	return h
}

type managerFixture struct {
	self  types.PeerAddress
	table *routing.Table
	mgr   *Manager
}

func newManagerFixture(t *testing.T, n *memory.Network, endpoint string, relays int) *managerFixture {
	t.Helper()
	tr := n.NewTransport(endpoint, nil, base.Options{})
	require.NoError(t, tr.Listen(context.Background()))
	t.Cleanup(func() { _ = tr.Close() })

	self := types.NewPeerAddress(types.RandomID(), endpoint).WithFirewalled(true, false)
	table, err := routing.NewTable(self.ID(), routing.Config{}, nil, nil)
	require.NoError(t, err)

	mgr := NewManager(Config{Relays: relays, SetupTimeout: 2 * time.Second}, self, tr, table, nil)
	t.Cleanup(func() { _ = mgr.Close() })
	return &managerFixture{self: self, table: table, mgr: mgr}
}

func TestManager_SetupRelays(t *testing.T) {
	n := memory.NewNetwork()
	a := newRelayHost(t, n, "a", 4)
	b := newRelayHost(t, n, "b", 4)
	c := newRelayHost(t, n, "c", 4)
	u := newManagerFixture(t, n, "u", 2)

	var published []types.PeerAddress
	u.mgr.OnIdentityChanged(func(id types.PeerAddress) { published = append(published, id) })

	f := u.mgr.SetupRelays(context.Background(), []types.PeerAddress{a.addr, b.addr, c.addr}, 0).Await()
	require.True(t, f.IsSuccess(), f.Reason())
	assert.Len(t, f.Value(), 2)

	id := u.mgr.Identity()
	assert.True(t, id.IsRelayed())
	assert.False(t, id.FirewalledTCP(), "中继身份清除防火墙标记")
	assert.Equal(t, []string{"a", "b"}, id.Relays())
	assert.NotEmpty(t, published)

	assert.True(t, a.fwd.Contains(u.self.ID()))
	assert.True(t, b.fwd.Contains(u.self.ID()))
	assert.False(t, c.fwd.Contains(u.self.ID()))

	again := u.mgr.SetupRelays(context.Background(), []types.PeerAddress{c.addr}, 2).Await()
	require.True(t, again.IsSuccess())
	assert.Len(t, again.Value(), 2, "已达到 K 时不再建立")
	assert.False(t, c.fwd.Contains(u.self.ID()))

	t.Log("✅ 建立 K 条中继")
}

func TestManager_SetupRelays_AllFail(t *testing.T) {
	n := memory.NewNetwork()
	u := newManagerFixture(t, n, "u", 2)

	ghosts := []types.PeerAddress{
		types.NewPeerAddress(types.RandomID(), "gone-1"),
		types.NewPeerAddress(types.RandomID(), "gone-2"),
	}
	f := u.mgr.SetupRelays(context.Background(), ghosts, 2).Await()
	require.True(t, f.IsFailed())
	assert.ErrorIs(t, f.Err(), ErrNoRelaysAvailable)
	assert.ErrorIs(t, f.Err(), ErrConnectionFailed)

	assert.True(t, u.mgr.Identity().Equal(u.self), "全部失败时身份不变")
	assert.Empty(t, u.mgr.Routes())

	empty := u.mgr.SetupRelays(context.Background(), nil, 2).Await()
	assert.ErrorIs(t, empty.Err(), ErrNoRelaysAvailable)

	t.Log("✅ 全部候选失败")
}

func TestManager_SetupRelays_Fallback(t *testing.T) {
	n := memory.NewNetwork()
	a := newRelayHost(t, n, "a", 4)
	b := newRelayHost(t, n, "b", 4)
	c := newRelayHost(t, n, "c", 4)
	n.Block("a")
	u := newManagerFixture(t, n, "u", 2)

	f := u.mgr.SetupRelays(context.Background(), []types.PeerAddress{a.addr, b.addr, c.addr}, 2).Await()
	require.True(t, f.IsSuccess(), f.Reason())
	assert.ElementsMatch(t, []string{"b", "c"}, u.mgr.RelayEndpoints())

	t.Log("✅ 失败的候选由下一个候选补上")
}

// delaySetup 让中继延迟应答 SETUP
func delaySetup(t *testing.T, h *relayHost, d time.Duration) {
	t.Helper()
	registry := h.tr.Registry()
	orig, ok := registry.Handler(relaypb.KindSetupRequest)
	require.True(t, ok)
	require.NoError(t, registry.Unregister(relaypb.KindSetupRequest))
	require.NoError(t, registry.Register(relaypb.KindSetupRequest, func(ctx context.Context, conn pkgif.Connection, req *relaypb.Message) (*relaypb.Message, error) {
		time.Sleep(d)
		return orig(ctx, conn, req)
	}))
}

func TestManager_SetupRelays_RankOrder(t *testing.T) {
	n := memory.NewNetwork()
	a := newRelayHost(t, n, "a", 4)
	b := newRelayHost(t, n, "b", 4)
	delaySetup(t, a, 200*time.Millisecond)
	u := newManagerFixture(t, n, "u", 2)

	f := u.mgr.SetupRelays(context.Background(), []types.PeerAddress{a.addr, b.addr}, 2).Await()
	require.True(t, f.IsSuccess(), f.Reason())
	assert.Equal(t, []string{"a", "b"}, u.mgr.RelayEndpoints(), "慢的第一候选仍排在前面")
	assert.Equal(t, a.addr.ID(), f.Value()[0].Remote().ID())

	t.Log("✅ 路由按选择顺序排列")
}

func TestManager_SetupRelays_ConcurrentBound(t *testing.T) {
	n := memory.NewNetwork()
	var hosts []types.PeerAddress
	for _, ep := range []string{"a", "b", "c", "d", "e", "f"} {
		h := newRelayHost(t, n, ep, 4)
		delaySetup(t, h, 50*time.Millisecond)
		hosts = append(hosts, h.addr)
	}
	u := newManagerFixture(t, n, "u", 2)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// 每次调用看到的候选顺序不同
			cands := append(slices.Clone(hosts[i*2:]), hosts[:i*2]...)
			u.mgr.SetupRelays(context.Background(), cands, 2).Await()
		}(i)
	}
	wg.Wait()

	assert.Len(t, u.mgr.Routes(), 2, "并发建立不超过 K")
	assert.Len(t, u.mgr.Identity().Relays(), 2)

	t.Log("✅ 并发建立受 K 约束")
}

func TestManager_SetupRelays_CapacityExceeded(t *testing.T) {
	n := memory.NewNetwork()
	full := newRelayHost(t, n, "full", 1)
	spare := newRelayHost(t, n, "spare", 4)

	first := newManagerFixture(t, n, "u1", 1)
	require.True(t, first.mgr.SetupRelays(context.Background(), []types.PeerAddress{full.addr}, 1).Await().IsSuccess())

	second := newManagerFixture(t, n, "u2", 1)
	only := second.mgr.SetupRelays(context.Background(), []types.PeerAddress{full.addr}, 1).Await()
	assert.ErrorIs(t, only.Err(), ErrCapacityExceeded)
	assert.NotErrorIs(t, only.Err(), context.Canceled, "拒绝原因不应被取消覆盖")

	f := second.mgr.SetupRelays(context.Background(), []types.PeerAddress{full.addr, spare.addr}, 1).Await()
	require.True(t, f.IsSuccess(), f.Reason())
	assert.Equal(t, []string{"spare"}, second.mgr.RelayEndpoints())
	assert.Equal(t, 1, full.fwd.Len())
}

func TestManager_ReplaceFailedRoute(t *testing.T) {
	n := memory.NewNetwork()
	b := newRelayHost(t, n, "b", 4)
	c := newRelayHost(t, n, "c", 4)
	d := newRelayHost(t, n, "d", 4)
	u := newManagerFixture(t, n, "u", 2)
	for _, h := range []*relayHost{b, c, d} {
		require.NoError(t, u.table.Verify(h.addr))
	}

	lost := make(chan *Route, 1)
	u.mgr.OnRouteLost(func(r *Route) { lost <- r })

	require.True(t, u.mgr.SetupRelays(context.Background(), []types.PeerAddress{b.addr, c.addr}, 2).Await().IsSuccess())
	require.Equal(t, []string{"b", "c"}, u.mgr.RelayEndpoints())

	n.Kill("b")
	var route *Route
	select {
	case route = <-lost:
	case <-time.After(5 * time.Second):
		t.Fatal("未收到路由丢失通知")
	}
	assert.True(t, route.IsLost())
	assert.Equal(t, b.addr.ID(), route.Remote().ID())

	f := u.mgr.ReplaceFailedRoute(context.Background(), route).Await()
	require.True(t, f.IsSuccess(), f.Reason())
	assert.Equal(t, d.addr.ID(), f.Value().Remote().ID())
	assert.Equal(t, []string{"c", "d"}, u.mgr.RelayEndpoints())

	stat, ok := u.table.Statistic(b.addr.ID())
	require.True(t, ok)
	assert.Equal(t, 1, stat.Failures())

	// 同一条路由第二次替换不做任何事
	twice := u.mgr.ReplaceFailedRoute(context.Background(), route).Await()
	assert.ErrorIs(t, twice.Err(), ErrRouteNotFound)
	assert.Len(t, u.mgr.Routes(), 2)

	t.Log("✅ 失败的中继被替换")
}

func TestManager_ReplaceWithoutCandidates(t *testing.T) {
	n := memory.NewNetwork()
	b := newRelayHost(t, n, "b", 4)
	u := newManagerFixture(t, n, "u", 1)

	require.True(t, u.mgr.SetupRelays(context.Background(), []types.PeerAddress{b.addr}, 1).Await().IsSuccess())
	route := u.mgr.Routes()[0]

	f := u.mgr.ReplaceFailedRoute(context.Background(), route).Await()
	assert.ErrorIs(t, f.Err(), ErrNoRelaysAvailable)
	assert.Empty(t, u.mgr.Routes())
	assert.True(t, u.mgr.Identity().Equal(u.self), "没有中继时恢复初始身份")
}

func TestManager_Close(t *testing.T) {
	n := memory.NewNetwork()
	b := newRelayHost(t, n, "b", 4)
	u := newManagerFixture(t, n, "u", 1)

	require.True(t, u.mgr.SetupRelays(context.Background(), []types.PeerAddress{b.addr}, 1).Await().IsSuccess())
	require.Equal(t, 1, b.fwd.Len())

	require.NoError(t, u.mgr.Close())
	require.NoError(t, u.mgr.Close())

	assert.Eventually(t, func() bool { return b.fwd.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, u.mgr.SetupRelays(context.Background(), []types.PeerAddress{b.addr}, 1).Err(), ErrManagerClosed)
}

func TestManager_SetEndpoints(t *testing.T) {
	n := memory.NewNetwork()
	u := newManagerFixture(t, n, "u", 1)

	u.mgr.SetEndpoints("u", "u-alt")
	assert.Equal(t, []string{"u", "u-alt"}, u.mgr.Identity().Endpoints())
	assert.True(t, u.mgr.Identity().FirewalledTCP())
}
