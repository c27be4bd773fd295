// Package memory 提供进程内传输实现
//
// Network 模拟一个共享网络：每个 Transport 以端点字符串注册，
// Block 模拟 NAT（拒绝入站连接，出站不受影响），Kill 模拟节点崩溃。
// 消息在两端之间经过完整的编解码，行为与线上一致。
package memory

import (
	"sync"

	"github.com/dep2p/go-relaydht/internal/core/transport/base"
	"github.com/dep2p/go-relaydht/internal/util/logger"
)

var log = logger.Logger("transport.memory")

// Network 进程内网络
type Network struct {
	mu         sync.RWMutex
	transports map[string]*Transport
	blocked    map[string]bool
}

// NewNetwork 创建进程内网络
func NewNetwork() *Network {
	return &Network{
		transports: make(map[string]*Transport),
		blocked:    make(map[string]bool),
	}
}

// Block 拒绝到 endpoint 的入站连接
func (n *Network) Block(endpoint string) {
	n.mu.Lock()
	n.blocked[endpoint] = true
	n.mu.Unlock()
	log.Debug("端点已阻挡入站", "endpoint", endpoint)
}

// Unblock 恢复到 endpoint 的入站连接
func (n *Network) Unblock(endpoint string) {
	n.mu.Lock()
	delete(n.blocked, endpoint)
	n.mu.Unlock()
}

// Kill 关闭 endpoint 上的传输及其全部连接
func (n *Network) Kill(endpoint string) {
	n.mu.RLock()
	t := n.transports[endpoint]
	n.mu.RUnlock()

	if t != nil {
		log.Debug("端点已终止", "endpoint", endpoint)
		_ = t.Close()
	}
}

// Endpoints 返回正在监听的端点
func (n *Network) Endpoints() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]string, 0, len(n.transports))
	for ep := range n.transports {
		out = append(out, ep)
	}
	return out
}

func (n *Network) listen(t *Transport) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if existing, ok := n.transports[t.endpoint]; ok && existing != t {
		return ErrEndpointInUse
	}
	n.transports[t.endpoint] = t
	return nil
}

func (n *Network) remove(t *Transport) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.transports[t.endpoint] == t {
		delete(n.transports, t.endpoint)
	}
}

// lookup 查找可接受入站连接的传输
func (n *Network) lookup(endpoint string) (*Transport, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.blocked[endpoint] {
		return nil, base.ErrConnectionRefused
	}
	t, ok := n.transports[endpoint]
	if !ok {
		return nil, base.ErrConnectionRefused
	}
	return t, nil
}
