package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "relaydht"

// 结果标签取值
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
	ResultTimeout  = "timeout"
)

// 路由表集合标签取值
const (
	BagVerified = "verified"
	BagOverflow = "overflow"
)

// Metrics 节点指标集合
type Metrics struct {
	registry prometheus.Registerer
	gatherer prometheus.Gatherer

	routes        prometheus.Gauge
	setupAttempts *prometheus.CounterVec
	replacements  *prometheus.CounterVec
	forwards      *prometheus.CounterVec
	forwardBytes  *prometheus.CounterVec
	servedPeers   prometheus.Gauge
	routingPeers  *prometheus.GaugeVec
}

// New 创建并注册指标
//
// reg 为 nil 时使用新的私有注册表。
func New(reg prometheus.Registerer) (*Metrics, error) {
	var gatherer prometheus.Gatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		registry: reg,
		gatherer: gatherer,
		routes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_routes",
			Help:      "Number of live relay routes held by this node.",
		}),
		setupAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_setup_attempts_total",
			Help:      "Relay setup attempts by result.",
		}, []string{"result"}),
		replacements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_replacements_total",
			Help:      "Failed relay route replacements by result.",
		}, []string{"result"}),
		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_total",
			Help:      "Messages forwarded by the relay server by result.",
		}, []string{"result"}),
		forwardBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_bytes_total",
			Help:      "Payload bytes forwarded by the relay server.",
		}, []string{"direction"}),
		servedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "served_peers",
			Help:      "Number of peers served by the relay server.",
		}),
		routingPeers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "routing_peers",
			Help:      "Number of peers in each routing table bag.",
		}, []string{"bag"}),
	}

	for _, c := range []prometheus.Collector{
		m.routes, m.setupAttempts, m.replacements, m.forwards,
		m.forwardBytes, m.servedPeers, m.routingPeers,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Gatherer 返回可采集的注册表（外部 Registerer 不支持采集时为 nil）
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return nil
	}
	return m.gatherer
}

// ============================================================================
//                              中继客户端
// ============================================================================

// SetRoutes 设置当前中继路由数
func (m *Metrics) SetRoutes(n int) {
	if m == nil {
		return
	}
	m.routes.Set(float64(n))
}

// SetupAttempt 记录一次中继建立尝试
func (m *Metrics) SetupAttempt(ok bool) {
	if m == nil {
		return
	}
	m.setupAttempts.WithLabelValues(result(ok)).Inc()
}

// Replacement 记录一次中继替换
func (m *Metrics) Replacement(ok bool) {
	if m == nil {
		return
	}
	m.replacements.WithLabelValues(result(ok)).Inc()
}

// ============================================================================
//                              中继服务端
// ============================================================================

// Forward 记录一次转发
func (m *Metrics) Forward(res string) {
	if m == nil {
		return
	}
	m.forwards.WithLabelValues(res).Inc()
}

// ForwardBytes 记录转发的请求与应答负载字节数
func (m *Metrics) ForwardBytes(in, out int) {
	if m == nil {
		return
	}
	m.forwardBytes.WithLabelValues("in").Add(float64(in))
	m.forwardBytes.WithLabelValues("out").Add(float64(out))
}

// SetServedPeers 设置当前服务的节点数
func (m *Metrics) SetServedPeers(n int) {
	if m == nil {
		return
	}
	m.servedPeers.Set(float64(n))
}

// ============================================================================
//                              路由表
// ============================================================================

// SetRoutingPeers 设置路由表两个集合的大小
func (m *Metrics) SetRoutingPeers(verified, overflow int) {
	if m == nil {
		return
	}
	m.routingPeers.WithLabelValues(BagVerified).Set(float64(verified))
	m.routingPeers.WithLabelValues(BagOverflow).Set(float64(overflow))
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}
