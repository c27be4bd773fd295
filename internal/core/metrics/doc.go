// Package metrics 提供 Prometheus 监控指标
//
// 指标注册在调用方提供的 prometheus.Registerer 上，未提供时使用私有注册表，
// 因此同一进程内的多个节点互不冲突。
//
// nil *Metrics 是合法值，所有记录方法都是空操作：
//
//	var m *metrics.Metrics
//	m.SetRoutes(2) // 不记录
//
// # 指标
//
//   - relaydht_relay_routes: 当前中继路由数
//   - relaydht_relay_setup_attempts_total{result}: 中继建立尝试
//   - relaydht_relay_replacements_total{result}: 中继替换
//   - relaydht_forward_total{result}: 中继服务端转发
//   - relaydht_forward_bytes_total{direction}: 转发的负载字节数
//   - relaydht_served_peers: 中继服务端当前服务的节点数
//   - relaydht_routing_peers{bag}: 路由表两个集合的大小
package metrics
