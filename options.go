package relaydht

import (
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-relaydht/internal/core/transport/memory"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	network    *memory.Network
	registerer prometheus.Registerer
	clock      clock.Clock
	fxOptions  []fx.Option
}

// WithMemoryNetwork 使用进程内网络（传输类型为 memory 时必需）
func WithMemoryNetwork(n *memory.Network) Option {
	return func(o *options) error {
		o.network = n
		return nil
	}
}

// WithRegisterer 在给定的 Prometheus 注册器上注册指标
//
// 不设置时使用节点私有的注册表。
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.registerer = reg
		return nil
	}
}

// WithClock 替换时钟（测试中用于驱动维护周期）
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		o.clock = clk
		return nil
	}
}

// WithFxOptions 追加自定义 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.fxOptions = append(o.fxOptions, opts...)
		return nil
	}
}
