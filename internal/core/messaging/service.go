package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dep2p/go-relaydht/internal/core/routing"
	"github.com/dep2p/go-relaydht/pkg/future"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
	"github.com/dep2p/go-relaydht/pkg/types"
)

// DataHandler 应用层数据处理函数，返回值作为应答负载
type DataHandler func(ctx context.Context, sender types.PeerAddress, payload []byte) ([]byte, error)

// Service 直接消息服务
//
// 目标可直连时向其端点发送 DIRECT 请求；目标经由中继时把 DIRECT 请求封装在
// FORWARD 信封中依次发给其通告的中继端点。
type Service struct {
	tr    pkgif.Transport
	table *routing.Table
	self  routing.IdentityFunc

	handler atomic.Pointer[DataHandler]
	closed  atomic.Bool
}

// NewService 创建消息服务
//
// table 可以为 nil，此时不记录统计。
func NewService(tr pkgif.Transport, table *routing.Table, self routing.IdentityFunc) *Service {
	return &Service{tr: tr, table: table, self: self}
}

// Register 在注册表中安装 DIRECT 处理器
func (s *Service) Register(registry pkgif.ProtocolRegistry) error {
	return registry.Register(relaypb.KindDirect, s.handleDirect)
}

// SetHandler 设置应用层数据处理器；nil 表示拒绝所有请求
func (s *Service) SetHandler(h DataHandler) {
	if h == nil {
		s.handler.Store(nil)
		return
	}
	s.handler.Store(&h)
}

func (s *Service) handleDirect(ctx context.Context, _ pkgif.Connection, req *relaypb.Message) (*relaypb.Message, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: %w", relaypb.ErrRejected, ErrServiceClosed)
	}
	if req.Sender == nil {
		return nil, fmt.Errorf("%w: direct message without sender", relaypb.ErrMalformed)
	}
	h := s.handler.Load()
	if h == nil {
		return nil, fmt.Errorf("%w: %w", relaypb.ErrRejected, ErrNoHandler)
	}

	payload, err := (*h)(ctx, *req.Sender, req.Payload)
	if err != nil {
		return nil, err
	}
	reply := relaypb.Reply(req, s.identity())
	reply.Payload = payload
	return reply, nil
}

// ============================================================================
//                              发送
// ============================================================================

// SendDirect 向目标发送一条直接消息，返回应答的 Future
//
// 目标经由中继时依次尝试其中继端点：中继拒绝或无法连接时换下一个，
// 全部失败时以 ErrRouteLost 失败。目标应用层返回的错误不会触发重试。
func (s *Service) SendDirect(ctx context.Context, dest types.PeerAddress, payload []byte) *future.Future[*relaypb.Message] {
	if s.closed.Load() {
		return future.Failed[*relaypb.Message](ErrServiceClosed)
	}

	req := relaypb.NewRequest(relaypb.KindDirect, s.identity())
	req.Destination = dest.ID()
	req.Payload = payload

	var f *future.Future[*relaypb.Message]
	switch {
	case dest.IsRelayed():
		f = s.sendRelayed(ctx, dest, req)
	case len(dest.Endpoints()) > 0:
		f = future.Wrap(s.tr.Request(ctx, dest.Endpoints()[0], req))
	default:
		return future.Failed[*relaypb.Message](fmt.Errorf("%w: %s", ErrNoEndpoint, dest.ID().ShortString()))
	}

	f.OnComplete(func(f *future.Future[*relaypb.Message]) {
		s.record(dest, f)
	})
	return f
}

// sendRelayed 经中继发送，逐个尝试通告的中继端点
func (s *Service) sendRelayed(ctx context.Context, dest types.PeerAddress, inner *relaypb.Message) *future.Future[*relaypb.Message] {
	env, err := relaypb.Envelope(inner, s.identity(), dest.ID())
	if err != nil {
		return future.Failed[*relaypb.Message](err)
	}
	relays := dest.Relays()

	return future.Go(ctx, func(ctx context.Context) (*relaypb.Message, error) {
		var lastErr error
		for _, ep := range relays {
			reply, err := s.exchange(ctx, ep, env)
			if err == nil {
				return reply, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !relayFailure(err) {
				return nil, err
			}
			log.Debug("中继无法转发，尝试下一个", "relay", ep, "dest", dest.ID().ShortString(), "err", err)
			lastErr = err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrRouteLost, dest.ID().ShortString(), lastErr)
	})
}

// exchange 发送一个 FORWARD 信封并解出内层应答
func (s *Service) exchange(ctx context.Context, endpoint string, env *relaypb.Message) (*relaypb.Message, error) {
	f := s.tr.Request(ctx, endpoint, env)
	if err := f.Wait(ctx); err != nil {
		f.Cancel()
		return nil, err
	}
	outer, err := f.Result()
	if err != nil {
		return nil, err
	}
	return relaypb.OpenEnvelope(outer)
}

// relayFailure 判断错误是否来自中继本身（而非目标的应用层）
func relayFailure(err error) bool {
	for _, target := range []error{
		relaypb.ErrRejected,
		relaypb.ErrRemote,
		relaypb.ErrUnknownKind,
		relaypb.ErrMalformed,
	} {
		if errors.Is(err, target) {
			return false
		}
	}
	return true
}

func (s *Service) record(dest types.PeerAddress, f *future.Future[*relaypb.Message]) {
	if s.table == nil || f.IsCancelled() {
		return
	}
	if f.IsSuccess() {
		s.table.PeerSucceeded(dest)
		return
	}
	s.table.PeerFailed(dest.ID())
}

func (s *Service) identity() types.PeerAddress {
	if s.self == nil {
		return types.PeerAddress{}
	}
	return s.self()
}

// Close 关闭服务
func (s *Service) Close() error {
	s.closed.Store(true)
	return nil
}
