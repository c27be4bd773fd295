package server

import (
	"context"
	"fmt"

	"github.com/dep2p/go-relaydht/internal/core/routing"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
	"github.com/dep2p/go-relaydht/pkg/types"
)

// Server 中继服务端
//
// 在注册表中安装 SETUP / FORWARD / TEARDOWN / NEIGHBOURS 处理器。
type Server struct {
	fwd   *Forwarder
	table *routing.Table
	self  routing.IdentityFunc
}

// NewServer 创建中继服务端
//
// table 可以为 nil。
func NewServer(fwd *Forwarder, table *routing.Table, self routing.IdentityFunc) *Server {
	return &Server{fwd: fwd, table: table, self: self}
}

// Forwarder 返回转发表
func (s *Server) Forwarder() *Forwarder {
	return s.fwd
}

// Register 安装处理器
func (s *Server) Register(registry pkgif.ProtocolRegistry) error {
	for kind, h := range map[relaypb.Kind]pkgif.Handler{
		relaypb.KindSetupRequest: s.handleSetup,
		relaypb.KindForward:      s.handleForward,
		relaypb.KindTeardown:     s.handleTeardown,
		relaypb.KindNeighbours:   s.handleNeighbours,
	} {
		if err := registry.Register(kind, h); err != nil {
			return err
		}
	}
	return nil
}

// Unregister 卸载处理器
func (s *Server) Unregister(registry pkgif.ProtocolRegistry) {
	for _, kind := range []relaypb.Kind{relaypb.KindSetupRequest, relaypb.KindForward, relaypb.KindTeardown, relaypb.KindNeighbours} {
		_ = registry.Unregister(kind)
	}
}

func (s *Server) handleSetup(_ context.Context, conn pkgif.Connection, req *relaypb.Message) (*relaypb.Message, error) {
	if req.Sender == nil {
		return nil, fmt.Errorf("%w: %w", relaypb.ErrMalformed, ErrNoSender)
	}
	sender := *req.Sender
	if sender.ID() == s.identity().ID() {
		return nil, fmt.Errorf("%w: cannot relay for self", relaypb.ErrRejected)
	}

	if err := s.fwd.Register(sender, conn); err != nil {
		log.Debug("拒绝中继注册", "peer", sender.ID().ShortString(), "err", err)
		return nil, err
	}
	conn.SetRemote(sender)
	conn.OnClose(func(error) {
		s.fwd.unregister(sender.ID(), conn)
	})

	// 被服务节点不可直连，只作为候选
	if s.table != nil {
		s.table.AddCandidate(sender)
	}
	return relaypb.Reply(req, s.identity()), nil
}

func (s *Server) handleForward(ctx context.Context, _ pkgif.Connection, req *relaypb.Message) (*relaypb.Message, error) {
	return s.fwd.Forward(ctx, req)
}

func (s *Server) handleTeardown(_ context.Context, conn pkgif.Connection, req *relaypb.Message) (*relaypb.Message, error) {
	id := req.SenderID()
	if id.IsEmpty() {
		id = conn.Remote().ID()
	}
	if s.fwd.unregister(id, conn) {
		log.Debug("收到 TEARDOWN", "peer", id.ShortString())
	}
	return nil, nil
}

// handleNeighbours 记录被服务节点发布的邻居集合，只接受其注册连接上的发布
func (s *Server) handleNeighbours(_ context.Context, conn pkgif.Connection, req *relaypb.Message) (*relaypb.Message, error) {
	if req.Sender == nil {
		return nil, fmt.Errorf("%w: %w", relaypb.ErrMalformed, ErrNoSender)
	}
	if err := s.fwd.SetNeighbours(*req.Sender, conn, req.Peers); err != nil {
		return nil, err
	}
	return relaypb.Reply(req, s.identity()), nil
}

func (s *Server) identity() types.PeerAddress {
	if s.self == nil {
		return types.PeerAddress{}
	}
	return s.self()
}
