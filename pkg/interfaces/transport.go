// Package interfaces 定义 relaydht 公共接口
//
// 本文件定义 Transport 接口，抽象底层传输。
package interfaces

import (
	"context"

	"github.com/dep2p/go-relaydht/pkg/future"
	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
	"github.com/dep2p/go-relaydht/pkg/types"
)

// Transport 定义传输层接口
//
// 所有可能阻塞的操作都返回 Future。
type Transport interface {
	// Endpoint 返回本地监听端点
	Endpoint() string

	// Reserve 预留 n 个出站通道
	//
	// 通道不足时 Future 保持 pending，直到有通道被释放。
	Reserve(n int) *future.Future[Reservation]

	// Open 使用预留的通道建立到 endpoint 的连接
	//
	// res 为 nil 时自行预留一个通道。连接关闭时归还通道。
	Open(ctx context.Context, endpoint string, res Reservation) *future.Future[Connection]

	// Request 向 endpoint 发送一次性请求并等待应答
	Request(ctx context.Context, endpoint string, msg *relaypb.Message) *future.Future[*relaypb.Message]

	// Registry 返回入站请求的处理器注册表
	Registry() ProtocolRegistry

	// Listen 开始接受入站连接
	Listen(ctx context.Context) error

	// Close 关闭传输和所有连接
	Close() error
}

// Reservation 出站通道预留
type Reservation interface {
	// Channels 返回预留的通道数
	Channels() int

	// Take 取走一个通道，没有剩余时返回 false
	Take() bool

	// Release 归还所有未取走的通道，可重复调用
	Release()
}

// Connection 定义长连接接口
//
// 连接双向可用：任一端都可以在其上发起请求。
type Connection interface {
	// ID 返回连接标识
	ID() string

	// LocalEndpoint 返回本地端点
	LocalEndpoint() string

	// RemoteEndpoint 返回远端端点
	RemoteEndpoint() string

	// Remote 返回远端身份（握手或 SETUP 后才可用）
	Remote() types.PeerAddress

	// SetRemote 记录远端身份
	SetRemote(addr types.PeerAddress)

	// Request 在连接上发送请求并等待应答
	Request(ctx context.Context, msg *relaypb.Message) *future.Future[*relaypb.Message]

	// Closed 返回在连接关闭时关闭的通道
	Closed() <-chan struct{}

	// OnClose 注册关闭回调；已关闭时立即执行
	OnClose(fn func(error))

	// Close 关闭连接
	Close() error
}
