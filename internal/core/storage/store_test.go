package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-relaydht/config"
	"github.com/dep2p/go-relaydht/internal/core/routing"
	"github.com/dep2p/go-relaydht/pkg/types"
)

func openMemory(t *testing.T) *PeerStore {
	t.Helper()
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestPeerStore_PutGetDelete 测试单条读写
func TestPeerStore_PutGetDelete(t *testing.T) {
	s := openMemory(t)
	addr := types.NewPeerAddress(types.RandomID(), "10.0.0.1:4001").WithFirewalled(true, false)

	require.NoError(t, s.Put(addr))
	got, ok, err := s.Get(addr.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(addr))
	assert.True(t, got.FirewalledTCP())

	require.NoError(t, s.Delete(addr.ID()))
	_, ok, err = s.Get(addr.ID())
	require.NoError(t, err)
	assert.False(t, ok)

	t.Log("✅ PeerStore 读写测试通过")
}

// TestPeerStore_Replace 测试整体替换
func TestPeerStore_Replace(t *testing.T) {
	s := openMemory(t)
	old := types.NewPeerAddress(types.RandomID(), "old")
	require.NoError(t, s.Put(old))

	a := types.NewPeerAddress(types.RandomID(), "a")
	b := types.NewPeerAddress(types.RandomID(), "b")
	require.NoError(t, s.Replace([]types.PeerAddress{a, b}))

	addrs, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, addrs, 2)
	_, ok, _ := s.Get(old.ID())
	assert.False(t, ok, "旧条目应被清除")
}

// TestPeerStore_Reopen 测试持久化到磁盘
func TestPeerStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	addr := types.NewPeerAddress(types.RandomID(), "10.0.0.2:4001")

	s, err := Open(Config{Path: dir, TTL: time.Hour})
	require.NoError(t, err)
	require.NoError(t, s.Put(addr))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Put(addr), ErrStoreClosed)

	s, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 1, s.Len())
}

// TestOpen_NoPath 测试未配置路径
func TestOpen_NoPath(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, ErrNoPath)
}

// TestPersistRestore 测试路由表的保存与恢复
func TestPersistRestore(t *testing.T) {
	s := openMemory(t)

	src, err := routing.NewTable(types.RandomID(), routing.Config{}, nil, nil)
	require.NoError(t, err)
	a := types.NewPeerAddress(types.RandomID(), "a")
	b := types.NewPeerAddress(types.RandomID(), "b")
	require.NoError(t, src.Verify(a))
	require.NoError(t, src.Verify(b))
	src.AddCandidate(types.NewPeerAddress(types.RandomID(), "candidate"))

	require.NoError(t, Persist(s, src))
	assert.Equal(t, 2, s.Len(), "只保存已验证节点")

	dst, err := routing.NewTable(a.ID(), routing.Config{}, nil, nil)
	require.NoError(t, err)
	n, err := Restore(s, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "本地节点不会被恢复")
	assert.True(t, dst.ContainsOverflow(b))
	assert.Zero(t, dst.VerifiedLen(), "恢复的节点需重新验证")
}

// TestModule 测试 Fx 模块
func TestModule(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.Routing.StorePath = dir

	self := types.NewPeerAddress(types.RandomID(), "self")
	peer := types.NewPeerAddress(types.RandomID(), "peer")

	var table *routing.Table
	app := fxtest.New(t,
		fx.Supply(cfg),
		fx.Provide(func() (*routing.Table, error) {
			return routing.NewTable(self.ID(), routing.Config{}, nil, nil)
		}),
		Module(),
		fx.Populate(&table),
	)
	app.RequireStart()
	require.NoError(t, table.Verify(peer))
	app.RequireStop()

	s, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()
	got, ok, err := s.Get(peer.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(peer))

	t.Log("✅ storage 模块测试通过")
}

// TestModule_Disabled 测试未配置路径时模块不生效
func TestModule_Disabled(t *testing.T) {
	var store *PeerStore
	app := fxtest.New(t,
		fx.Supply(config.NewConfig()),
		fx.Provide(func() (*routing.Table, error) {
			return routing.NewTable(types.RandomID(), routing.Config{}, nil, nil)
		}),
		Module(),
		fx.Populate(&store),
	)
	require.NoError(t, app.Start(context.Background()))
	assert.Nil(t, store)
	require.NoError(t, app.Stop(context.Background()))
}
