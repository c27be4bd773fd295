// Package relay 实现中继集合管理
//
// 不可达节点（被防火墙阻挡）通过 Manager 选择若干可直连的节点作为中继，
// 在每个中继上注册转发路由，并把中继端点写入自己通告的网络身份。
//
// # 建立
//
//	f := mgr.SetupRelays(ctx, table.AllVerified(), 2)
//	routes, err := f.Await().Result()
//
// 每个候选依次执行 预留通道 → 建立连接 → SETUP，由 future.Then 串联；
// 单个候选失败被吸收并启动下一个候选，只有一条都没建立时整体失败（ErrNoRelaysAvailable）。
//
// # 身份
//
// 每条路由建立或移除后立即发布新身份：
//
//	relayed = true, firewalled = false, relays = 当前路由端点（至多 MaxRelays 个）
//
// 路由集合为空时恢复为不含中继信息的初始身份。
//
// # 替换
//
// 连接关闭时路由被标记为丢失并通知 OnRouteLost 回调；维护循环（relay/client）
// 随后调用 ReplaceFailedRoute，从已验证集合中选一个新中继。
//
// # 子包
//
//   - server: 中继服务端，注册表与转发
//   - client: 维护循环
package relay
