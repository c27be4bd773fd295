package relay

import (
	"sync"
	"sync/atomic"
	"time"

	pkgif "github.com/dep2p/go-relaydht/pkg/interfaces"
	"github.com/dep2p/go-relaydht/pkg/types"
)

// RouteState 路由状态
type RouteState int32

const (
	// RouteActive 连接可用
	RouteActive RouteState = iota
	// RouteLost 连接已关闭，等待替换
	RouteLost
)

func (s RouteState) String() string {
	switch s {
	case RouteActive:
		return "Active"
	case RouteLost:
		return "Lost"
	default:
		return "Unknown"
	}
}

// Route 一条到中继的活动连接
//
// 由 Manager 独占；连接关闭或被替换时销毁。
type Route struct {
	remote      types.PeerAddress
	conn        pkgif.Connection
	established time.Time
	order       uint64 // 选择顺序，决定在集合与通告身份中的位置

	state    atomic.Int32
	lost     chan struct{}
	lostOnce sync.Once
}

func newRoute(remote types.PeerAddress, conn pkgif.Connection) *Route {
	return &Route{
		remote:      remote,
		conn:        conn,
		established: time.Now(),
		lost:        make(chan struct{}),
	}
}

// Remote 返回中继节点的网络身份
func (r *Route) Remote() types.PeerAddress { return r.remote }

// Conn 返回底层连接
func (r *Route) Conn() pkgif.Connection { return r.conn }

// Endpoint 返回通告给其他节点的中继端点
func (r *Route) Endpoint() string { return r.conn.RemoteEndpoint() }

// Established 返回建立时间
func (r *Route) Established() time.Time { return r.established }

// State 返回当前状态
func (r *Route) State() RouteState { return RouteState(r.state.Load()) }

// IsLost 连接是否已关闭
func (r *Route) IsLost() bool { return r.State() == RouteLost }

// Lost 返回在路由丢失时关闭的通道
func (r *Route) Lost() <-chan struct{} { return r.lost }

// markLost 标记为丢失，仅第一次返回 true
func (r *Route) markLost() bool {
	first := false
	r.lostOnce.Do(func() {
		r.state.Store(int32(RouteLost))
		close(r.lost)
		first = true
	})
	return first
}

func (r *Route) String() string {
	return r.remote.ID().ShortString() + "@" + r.Endpoint() + "(" + r.State().String() + ")"
}
