package storage

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-relaydht/config"
	"github.com/dep2p/go-relaydht/internal/core/routing"
	"github.com/dep2p/go-relaydht/internal/util/logger"
)

var log = logger.Logger("storage")

// ConfigFromUnified 从统一配置创建 PeerStore 配置
func ConfigFromUnified(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	c.Path = cfg.Routing.StorePath
	if cfg.Routing.StoreTTL > 0 {
		c.TTL = cfg.Routing.StoreTTL.Duration()
	}
	return c
}

// Params 模块依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Module 返回 Fx 模块
//
// 未配置 routing.store_path 时提供的 *PeerStore 为 nil，生命周期钩子不做任何事。
//
// 生命周期:
//   - OnStart: 把存储的节点作为候选恢复到路由表
//   - OnStop: 保存已验证节点并关闭存储
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(ProvidePeerStore),
		fx.Invoke(registerLifecycle),
	)
}

// ProvidePeerStore 提供节点存储
func ProvidePeerStore(p Params) (*PeerStore, error) {
	cfg := ConfigFromUnified(p.UnifiedCfg)
	if cfg.Path == "" && !cfg.InMemory {
		return nil, nil
	}
	return Open(cfg)
}

func registerLifecycle(lc fx.Lifecycle, store *PeerStore, table *routing.Table) {
	if store == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			store.Start()
			n, err := Restore(store, table)
			if err != nil {
				log.Warn("恢复路由表失败", "err", err)
				return nil
			}
			log.Info("已恢复路由表候选节点", "peers", n)
			return nil
		},
		OnStop: func(_ context.Context) error {
			if err := Persist(store, table); err != nil {
				log.Warn("保存路由表失败", "err", err)
			}
			return store.Close()
		},
	})
}

// Restore 把存储中的节点加入路由表的候选集合，返回加入的数量
func Restore(store *PeerStore, table *routing.Table) (int, error) {
	addrs, err := store.Load()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, addr := range addrs {
		if table.AddCandidate(addr) {
			n++
		}
	}
	return n, nil
}

// Persist 用路由表当前的已验证节点替换存储内容
func Persist(store *PeerStore, table *routing.Table) error {
	verified := table.AllVerified()
	if err := store.Replace(verified); err != nil {
		return err
	}
	log.Debug("已保存路由表", "peers", len(verified))
	return nil
}
