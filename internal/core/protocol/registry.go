package protocol

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dep2p/go-relaydht/internal/util/logger"
	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
	"github.com/dep2p/go-relaydht/pkg/types"
)

var log = logger.Logger("protocol")

// Registry 处理器注册表
//
// 按消息类型精确查找，不做类型扫描。
type Registry struct {
	mu       sync.RWMutex
	handlers map[relaypb.Kind]pkgif.Handler
}

var _ pkgif.ProtocolRegistry = (*Registry)(nil)

// NewRegistry 创建处理器注册表
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[relaypb.Kind]pkgif.Handler),
	}
}

// Register 注册处理器
func (r *Registry) Register(kind relaypb.Kind, handler pkgif.Handler) error {
	if kind == relaypb.KindUnknown || handler == nil {
		return ErrInvalidKind
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, kind)
	}
	r.handlers[kind] = handler
	return nil
}

// Unregister 注销处理器
func (r *Registry) Unregister(kind relaypb.Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[kind]; !exists {
		return fmt.Errorf("%w: %s", ErrKindNotRegistered, kind)
	}
	delete(r.handlers, kind)
	return nil
}

// Handler 获取处理器
func (r *Registry) Handler(kind relaypb.Kind) (pkgif.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds 返回所有已注册的类型（升序）
func (r *Registry) Kinds() []relaypb.Kind {
	r.mu.RLock()
	kinds := make([]relaypb.Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	r.mu.RUnlock()

	slices.Sort(kinds)
	return kinds
}

// Dispatch 分发请求
//
// 总是返回应答：没有处理器、处理器出错或 panic 时返回错误应答。
func (r *Registry) Dispatch(ctx context.Context, conn pkgif.Connection, req *relaypb.Message) (reply *relaypb.Message) {
	h, ok := r.Handler(req.Kind)
	if !ok {
		log.Debug("没有处理器", "kind", req.Kind)
		return relaypb.ErrorReply(req, fmt.Errorf("%w: %s", relaypb.ErrUnknownKind, req.Kind))
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error("处理器 panic", "kind", req.Kind, "panic", p)
			reply = relaypb.ErrorReply(req, fmt.Errorf("%w: handler panic", relaypb.ErrRemote))
		}
	}()

	resp, err := h(ctx, conn, req)
	if err != nil {
		log.Debug("处理器返回错误", "kind", req.Kind, "err", err)
		return relaypb.ErrorReply(req, err)
	}
	if resp == nil {
		resp = relaypb.Reply(req, types.PeerAddress{})
	}
	resp.RequestID = req.RequestID
	if resp.Kind == relaypb.KindUnknown {
		resp.Kind = req.Kind.ReplyKind()
	}
	return resp
}

// Clear 清空所有注册（用于测试）
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = make(map[relaypb.Kind]pkgif.Handler)
}
