package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
	"github.com/dep2p/go-relaydht/pkg/types"
)

// peerPrefix 节点条目的键前缀
var peerPrefix = []byte("peer/")

// ============================================================================
//                              配置
// ============================================================================

// Config PeerStore 配置
type Config struct {
	// Path 数据库目录
	Path string

	// InMemory 只保存在内存中（测试使用，忽略 Path）
	InMemory bool

	// TTL 条目有效期
	TTL time.Duration

	// GCInterval 值日志垃圾回收间隔（0 不回收）
	GCInterval time.Duration

	// GCDiscardRatio 垃圾回收丢弃比例
	GCDiscardRatio float64
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		TTL:            24 * time.Hour,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// ============================================================================
//                              PeerStore
// ============================================================================

// PeerStore 基于 BadgerDB 的节点存储
type PeerStore struct {
	db     *badger.DB
	cfg    Config
	closed atomic.Bool

	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
}

// Open 打开（或创建）节点存储
func Open(cfg Config) (*PeerStore, error) {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.GCDiscardRatio <= 0 || cfg.GCDiscardRatio >= 1 {
		cfg.GCDiscardRatio = def.GCDiscardRatio
	}

	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path != "":
		opts = badger.DefaultOptions(cfg.Path)
	default:
		return nil, ErrNoPath
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &PeerStore{db: db, cfg: cfg}, nil
}

// Start 启动后台垃圾回收
func (s *PeerStore) Start() {
	if s.cfg.GCInterval <= 0 || s.cfg.InMemory || s.gcCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.gcCancel = cancel

	s.gcWg.Add(1)
	go func() {
		defer s.gcWg.Done()
		ticker := time.NewTicker(s.cfg.GCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runGC()
			}
		}
	}()
}

func (s *PeerStore) runGC() {
	for !s.closed.Load() {
		err := s.db.RunValueLogGC(s.cfg.GCDiscardRatio)
		if err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) {
				log.Warn("值日志垃圾回收失败", "err", err)
			}
			return
		}
	}
}

func peerKey(id types.ID) []byte {
	return append(append([]byte{}, peerPrefix...), id[:]...)
}

// Put 保存一个节点
func (s *PeerStore) Put(addr types.PeerAddress) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return s.set(txn, addr)
	})
}

func (s *PeerStore) set(txn *badger.Txn, addr types.PeerAddress) error {
	e := badger.NewEntry(peerKey(addr.ID()), relaypb.MarshalPeerAddress(addr)).WithTTL(s.cfg.TTL)
	return txn.SetEntry(e)
}

// Replace 用 addrs 替换存储中的全部节点
func (s *PeerStore) Replace(addrs []types.PeerAddress) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := s.db.DropPrefix(peerPrefix); err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, addr := range addrs {
		e := badger.NewEntry(peerKey(addr.ID()), relaypb.MarshalPeerAddress(addr)).WithTTL(s.cfg.TTL)
		if err := wb.SetEntry(e); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Delete 删除一个节点
func (s *PeerStore) Delete(id types.ID) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(peerKey(id))
	})
}

// Get 读取一个节点
func (s *PeerStore) Get(id types.ID) (types.PeerAddress, bool, error) {
	if s.closed.Load() {
		return types.PeerAddress{}, false, ErrStoreClosed
	}
	var addr types.PeerAddress
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(peerKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			addr, err = relaypb.UnmarshalPeerAddress(v)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return types.PeerAddress{}, false, nil
	}
	if err != nil {
		return types.PeerAddress{}, false, err
	}
	return addr, true, nil
}

// Load 读取全部未过期的节点
//
// 无法解码的条目被跳过。
func (s *PeerStore) Load() ([]types.PeerAddress, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	var out []types.PeerAddress
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = peerPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(peerPrefix); it.ValidForPrefix(peerPrefix); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				addr, err := relaypb.UnmarshalPeerAddress(v)
				if err != nil {
					return err
				}
				out = append(out, addr)
				return nil
			})
			if err != nil {
				log.Debug("跳过损坏的节点条目", "err", err)
			}
		}
		return nil
	})
	return out, err
}

// Len 返回存储的节点数
func (s *PeerStore) Len() int {
	addrs, err := s.Load()
	if err != nil {
		return 0
	}
	return len(addrs)
}

// Close 关闭存储
func (s *PeerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.gcCancel != nil {
		s.gcCancel()
		s.gcWg.Wait()
	}
	return s.db.Close()
}
