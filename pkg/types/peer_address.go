package types

import (
	"fmt"
	"slices"
	"strings"
)

// MaxRelays 一个节点最多通告的中继端点数
const MaxRelays = 5

// PeerAddress 节点的网络身份
//
// 描述如何到达一个节点：直连端点、防火墙标记、以及当前的中继端点。
// PeerAddress 不可变，所有 With* 方法都返回新值。
//
// 不变量：relayed 为 true 时 relays 非空；len(relays) <= MaxRelays。
type PeerAddress struct {
	id            ID
	endpoints     []string
	firewalledTCP bool
	firewalledUDP bool
	relayed       bool
	relays        []string
}

// NewPeerAddress 创建直连可达的 PeerAddress
func NewPeerAddress(id ID, endpoints ...string) PeerAddress {
	return PeerAddress{
		id:        id,
		endpoints: slices.Clone(endpoints),
	}
}

// RestorePeerAddress 按字段还原 PeerAddress（供编解码使用）
//
// 结果需满足不变量，否则返回错误。
func RestorePeerAddress(id ID, endpoints []string, firewalledTCP, firewalledUDP, relayed bool, relays []string) (PeerAddress, error) {
	pa := PeerAddress{
		id:            id,
		endpoints:     slices.Clone(endpoints),
		firewalledTCP: firewalledTCP,
		firewalledUDP: firewalledUDP,
		relayed:       relayed,
		relays:        slices.Clone(relays),
	}
	if err := pa.Validate(); err != nil {
		return PeerAddress{}, err
	}
	return pa, nil
}

// ID 返回节点标识
func (pa PeerAddress) ID() ID { return pa.id }

// Endpoints 返回直连端点副本
func (pa PeerAddress) Endpoints() []string { return slices.Clone(pa.endpoints) }

// Relays 返回中继端点副本
func (pa PeerAddress) Relays() []string { return slices.Clone(pa.relays) }

// FirewalledTCP 是否在流式传输上被防火墙阻挡
func (pa PeerAddress) FirewalledTCP() bool { return pa.firewalledTCP }

// FirewalledUDP 是否在数据报传输上被防火墙阻挡
func (pa PeerAddress) FirewalledUDP() bool { return pa.firewalledUDP }

// IsRelayed 是否经由中继可达
func (pa PeerAddress) IsRelayed() bool { return pa.relayed }

// IsEmpty 是否为零值
func (pa PeerAddress) IsEmpty() bool { return pa.id.IsEmpty() }

// Reachable 是否可被直接连接
func (pa PeerAddress) Reachable() bool {
	return !pa.firewalledTCP && !pa.firewalledUDP && !pa.relayed && len(pa.endpoints) > 0
}

// WithFirewalled 返回设置了防火墙标记的新值
func (pa PeerAddress) WithFirewalled(tcp, udp bool) PeerAddress {
	out := pa.clone()
	out.firewalledTCP = tcp
	out.firewalledUDP = udp
	return out
}

// WithEndpoints 返回替换了直连端点的新值
func (pa PeerAddress) WithEndpoints(endpoints ...string) PeerAddress {
	out := pa.clone()
	out.endpoints = slices.Clone(endpoints)
	return out
}

// WithRelays 返回经由给定中继可达的新值
//
// 设置 relayed，清除两个防火墙标记，中继端点截断为 MaxRelays 个。
// 传入空列表等价于 WithoutRelays。
func (pa PeerAddress) WithRelays(relays []string) PeerAddress {
	if len(relays) == 0 {
		return pa.WithoutRelays()
	}
	out := pa.clone()
	out.relayed = true
	out.firewalledTCP = false
	out.firewalledUDP = false
	if len(relays) > MaxRelays {
		relays = relays[:MaxRelays]
	}
	out.relays = slices.Clone(relays)
	return out
}

// WithoutRelays 返回清除了中继信息的新值
func (pa PeerAddress) WithoutRelays() PeerAddress {
	out := pa.clone()
	out.relayed = false
	out.relays = nil
	return out
}

// Validate 检查不变量
func (pa PeerAddress) Validate() error {
	if pa.id.IsEmpty() {
		return ErrInvalidID
	}
	if pa.relayed && len(pa.relays) == 0 {
		return fmt.Errorf("%w: relayed without relay endpoints", ErrInvalidPeerAddress)
	}
	if len(pa.relays) > MaxRelays {
		return fmt.Errorf("%w: %d relay endpoints exceed %d", ErrInvalidPeerAddress, len(pa.relays), MaxRelays)
	}
	return nil
}

// Equal 逐字段比较
func (pa PeerAddress) Equal(other PeerAddress) bool {
	return pa.id == other.id &&
		pa.firewalledTCP == other.firewalledTCP &&
		pa.firewalledUDP == other.firewalledUDP &&
		pa.relayed == other.relayed &&
		slices.Equal(pa.endpoints, other.endpoints) &&
		slices.Equal(pa.relays, other.relays)
}

// String 返回可读表示
func (pa PeerAddress) String() string {
	var b strings.Builder
	b.WriteString(pa.id.ShortString())
	b.WriteString("@[")
	b.WriteString(strings.Join(pa.endpoints, ","))
	b.WriteString("]")
	if pa.firewalledTCP || pa.firewalledUDP {
		fmt.Fprintf(&b, " fw(tcp=%t,udp=%t)", pa.firewalledTCP, pa.firewalledUDP)
	}
	if pa.relayed {
		b.WriteString(" relays=[")
		b.WriteString(strings.Join(pa.relays, ","))
		b.WriteString("]")
	}
	return b.String()
}

func (pa PeerAddress) clone() PeerAddress {
	out := pa
	out.endpoints = slices.Clone(pa.endpoints)
	out.relays = slices.Clone(pa.relays)
	return out
}
