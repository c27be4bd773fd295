package relay

import (
	"math/rand/v2"
	"slices"

	"github.com/dep2p/go-relaydht/config"
	"github.com/dep2p/go-relaydht/pkg/types"
)

// Policy 候选排序策略
type Policy string

const (
	// PolicyFirst 保持候选原有顺序
	PolicyFirst Policy = config.RelayPolicyFirst

	// PolicyClosest 按与本地节点的 XOR 距离升序
	PolicyClosest Policy = config.RelayPolicyClosest

	// PolicyRandom 随机顺序
	PolicyRandom Policy = config.RelayPolicyRandom
)

// Selector 中继候选排序
//
// 只保留可直连的候选；静态中继总是排在最前。
type Selector struct {
	policy Policy
	self   types.ID
	static []string
}

// NewSelector 创建选择器
func NewSelector(policy Policy, self types.ID, static []string) *Selector {
	return &Selector{
		policy: policy,
		self:   self,
		static: slices.Clone(static),
	}
}

// Policy 返回策略
func (s *Selector) Policy() Policy {
	return s.policy
}

// Rank 过滤并排序候选
func (s *Selector) Rank(candidates []types.PeerAddress) []types.PeerAddress {
	out := make([]types.PeerAddress, 0, len(candidates))
	seen := make(map[types.ID]struct{}, len(candidates))
	for _, c := range candidates {
		if c.ID() == s.self || !c.Reachable() {
			continue
		}
		if _, dup := seen[c.ID()]; dup {
			continue
		}
		seen[c.ID()] = struct{}{}
		out = append(out, c)
	}

	switch s.policy {
	case PolicyClosest:
		slices.SortStableFunc(out, func(a, b types.PeerAddress) int {
			return types.Distance(a.ID(), s.self).Cmp(types.Distance(b.ID(), s.self))
		})
	case PolicyRandom:
		rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}

	if len(s.static) > 0 {
		slices.SortStableFunc(out, func(a, b types.PeerAddress) int {
			return s.staticRank(a) - s.staticRank(b)
		})
	}
	return out
}

// staticRank 静态中继返回其配置位置，其余返回 len(static)
func (s *Selector) staticRank(addr types.PeerAddress) int {
	for _, ep := range addr.Endpoints() {
		if i := slices.Index(s.static, ep); i >= 0 {
			return i
		}
	}
	return len(s.static)
}
