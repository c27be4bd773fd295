// Package routing 实现路由表成员管理与路由交换
//
// # 两集合模型
//
// Table 持有两个互不相交的集合：
//
//	overflow (候选) ──Promote/Verify──▶ verified (已验证)
//	       ▲                                  │
//	       └──────── AddCandidate ────────────┘ (已验证时只刷新身份)
//
// 节点只有在一次成功的交互（直连或经由其中继的 PING）后才进入已验证集合；连续失败达到
// MaxFailures 或被 Remove 时从两个集合中移除，其 Statistic 一并销毁。
//
// # 路由交换
//
// Announcer 处理 ANNOUNCE：发送方先进入候选集合，可直连或经中继可达时再经探测提升。
// 应答携带离发送方最近的若干已验证节点，供对方学习。
package routing
