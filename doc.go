// Package relaydht 提供 Kademlia 覆盖网络节点的中继可达性
//
// 位于 NAT 或防火墙后的节点无法被直接连接。relaydht 让这样的节点从路由表的
// 已验证节点中选出 K 个可直连的中继，向它们注册并保持长连接，然后通告经由
// 这些中继可达的网络身份。其他节点向它发送消息时，消息先到达中继，再经注册时
// 保持的连接转发给它。
//
// # 快速开始
//
//	cfg := config.NewConfig()
//	cfg.NAT.FirewalledTCP = true
//	cfg.Bootstrap.Peers = []string{"10.0.0.1:4001"}
//
//	node, err := relaydht.New(cfg)
//	if err != nil {
//	    return err
//	}
//	if err := node.Start(ctx); err != nil {
//	    return err
//	}
//	defer node.Close()
//
//	routes, err := node.StartRelay(ctx).Await().Result()
//
// # 组件
//
//   - 路由表: 已验证集合与候选集合（internal/core/routing）
//   - 中继集合管理器: 选择、注册与替换中继，发布网络身份（internal/core/relay）
//   - 中继服务端: 为不可达节点转发消息（internal/core/relay/server）
//   - 维护循环: 探测、替换、补足并重新通告（internal/core/relay/client）
//   - 消息服务: 直连或经中继发送（internal/core/messaging）
//
// 所有异步操作返回 pkg/future 中的 Future。
package relaydht
