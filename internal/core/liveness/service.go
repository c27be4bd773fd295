// Package liveness 提供节点存活检测服务
package liveness

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/dep2p/go-relaydht/internal/core/routing"
	"github.com/dep2p/go-relaydht/pkg/future"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
	"github.com/dep2p/go-relaydht/pkg/types"
)

// PingPayloadSize Ping 负载大小
const PingPayloadSize = 32

// ============================================================================
//                              Service 实现
// ============================================================================

// Service 存活检测服务
//
// 应答 PING，并通过连接、端点或中继探测远端；成功记入路由表统计。
type Service struct {
	tr      pkgif.Transport
	table   *routing.Table
	self    routing.IdentityFunc
	timeout time.Duration
	clock   clock.Clock

	closed atomic.Bool
}

var _ routing.Pinger = (*Service)(nil)

// NewService 创建存活检测服务
//
// table 可以为 nil，此时不记录统计。
func NewService(tr pkgif.Transport, table *routing.Table, self routing.IdentityFunc, timeout time.Duration, clk clock.Clock) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		tr:      tr,
		table:   table,
		self:    self,
		timeout: timeout,
		clock:   clk,
	}
}

// Register 在注册表中安装 PING 处理器
func (s *Service) Register(registry pkgif.ProtocolRegistry) error {
	return registry.Register(relaypb.KindPing, s.handlePing)
}

func (s *Service) handlePing(_ context.Context, _ pkgif.Connection, req *relaypb.Message) (*relaypb.Message, error) {
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}
	reply := relaypb.Reply(req, s.identity())
	reply.Payload = req.Payload
	return reply, nil
}

// Ping 在已有连接上探测远端，返回往返时间
func (s *Service) Ping(ctx context.Context, conn pkgif.Connection) *future.Future[time.Duration] {
	if s.closed.Load() {
		return future.Failed[time.Duration](ErrServiceClosed)
	}
	return s.ping(ctx, conn.Remote().ID(), func(ctx context.Context, msg *relaypb.Message) *future.Future[*relaypb.Message] {
		return conn.Request(ctx, msg)
	})
}

// PingEndpoint 建立一次性连接探测端点，返回往返时间
func (s *Service) PingEndpoint(ctx context.Context, endpoint string) *future.Future[time.Duration] {
	if s.closed.Load() {
		return future.Failed[time.Duration](ErrServiceClosed)
	}
	return s.ping(ctx, types.EmptyID, func(ctx context.Context, msg *relaypb.Message) *future.Future[*relaypb.Message] {
		return s.tr.Request(ctx, endpoint, msg)
	})
}

// PingRelayed 将 PING 封装在 FORWARD 信封中经 addr 通告的中继探测，依次尝试每个中继
//
// 失败不记入统计，由调用方决定如何处理。
func (s *Service) PingRelayed(ctx context.Context, addr types.PeerAddress) *future.Future[time.Duration] {
	if s.closed.Load() {
		return future.Failed[time.Duration](ErrServiceClosed)
	}
	if !addr.IsRelayed() {
		return future.Failed[time.Duration](fmt.Errorf("%w: %s", ErrNotRelayed, addr.ID().ShortString()))
	}
	relays := addr.Relays()
	return s.ping(ctx, types.EmptyID, func(ctx context.Context, msg *relaypb.Message) *future.Future[*relaypb.Message] {
		env, err := relaypb.Envelope(msg, s.identity(), addr.ID())
		if err != nil {
			return future.Failed[*relaypb.Message](err)
		}
		return future.Go(ctx, func(ctx context.Context) (*relaypb.Message, error) {
			var errs error
			for _, ep := range relays {
				reply, err := s.forward(ctx, ep, env)
				if err == nil {
					return reply, nil
				}
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", ep, err))
			}
			return nil, errs
		})
	})
}

func (s *Service) forward(ctx context.Context, endpoint string, env *relaypb.Message) (*relaypb.Message, error) {
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

func (s *Service) ping(ctx context.Context, remote types.ID, send func(context.Context, *relaypb.Message) *future.Future[*relaypb.Message]) *future.Future[time.Duration] {
	payload := make([]byte, PingPayloadSize)
	if _, err := crand.Read(payload); err != nil {
		return future.Failed[time.Duration](err)
	}
	msg := relaypb.NewRequest(relaypb.KindPing, s.identity())
	msg.Payload = payload

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	start := s.clock.Now()

	result := future.Map(send(ctx, msg), func(reply *relaypb.Message) (time.Duration, error) {
		if !bytes.Equal(reply.Payload, payload) {
			return 0, ErrPingFailed
		}
		rtt := s.clock.Since(start)
		if reply.Sender != nil {
			s.recordSuccess(*reply.Sender)
		}
		return rtt, nil
	})
	result.OnComplete(func(f *future.Future[time.Duration]) {
		cancel()
		if f.IsFailed() && !remote.IsEmpty() && s.table != nil {
			s.table.PeerFailed(remote)
		}
	})
	return result
}

func (s *Service) recordSuccess(addr types.PeerAddress) {
	if s.table != nil {
		s.table.PeerSucceeded(addr)
	}
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
