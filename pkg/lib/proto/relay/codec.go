package relaypb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-relaydht/pkg/types"
)

// Message 字段编号
const (
	fieldKind        protowire.Number = 1
	fieldRequestID   protowire.Number = 2
	fieldSender      protowire.Number = 3
	fieldDestination protowire.Number = 4
	fieldPayload     protowire.Number = 5
	fieldStatus      protowire.Number = 6
	fieldReason      protowire.Number = 7
	fieldPeers       protowire.Number = 8
)

// PeerAddress 字段编号
const (
	fieldAddrID            protowire.Number = 1
	fieldAddrEndpoints     protowire.Number = 2
	fieldAddrFirewalledTCP protowire.Number = 3
	fieldAddrFirewalledUDP protowire.Number = 4
	fieldAddrRelayed       protowire.Number = 5
	fieldAddrRelays        protowire.Number = 6
)

// Marshal 编码消息
func Marshal(m *Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformed)
	}

	var b []byte
	if m.Kind != KindUnknown {
		b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Kind))
	}
	if m.RequestID != "" {
		b = protowire.AppendTag(b, fieldRequestID, protowire.BytesType)
		b = protowire.AppendString(b, m.RequestID)
	}
	if m.Sender != nil {
		b = protowire.AppendTag(b, fieldSender, protowire.BytesType)
		b = protowire.AppendBytes(b, MarshalPeerAddress(*m.Sender))
	}
	if !m.Destination.IsEmpty() {
		b = protowire.AppendTag(b, fieldDestination, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Destination[:])
	}
	if len(m.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Payload)
	}
	if m.Status != StatusOK {
		b = protowire.AppendTag(b, fieldStatus, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Status))
	}
	if m.Reason != "" {
		b = protowire.AppendTag(b, fieldReason, protowire.BytesType)
		b = protowire.AppendString(b, m.Reason)
	}
	for _, p := range m.Peers {
		b = protowire.AppendTag(b, fieldPeers, protowire.BytesType)
		b = protowire.AppendBytes(b, MarshalPeerAddress(p))
	}
	return b, nil
}

// Unmarshal 解码消息
func Unmarshal(b []byte) (*Message, error) {
	m := &Message{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed(n)
		}
		b = b[n:]

		switch {
		case num == fieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed(n)
			}
			m.Kind = Kind(v)
			b = b[n:]

		case num == fieldStatus && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed(n)
			}
			m.Status = Status(v)
			b = b[n:]

		case typ == protowire.BytesType && num >= fieldRequestID && num <= fieldPeers:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed(n)
			}
			if err := m.setBytesField(num, v); err != nil {
				return nil, err
			}
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, malformed(n)
			}
			b = b[n:]
		}
	}
	return m, nil
}

func (m *Message) setBytesField(num protowire.Number, v []byte) error {
	switch num {
	case fieldRequestID:
		m.RequestID = string(v)
	case fieldSender:
		pa, err := UnmarshalPeerAddress(v)
		if err != nil {
			return err
		}
		m.Sender = &pa
	case fieldDestination:
		id, err := types.IDFromBytes(v)
		if err != nil {
			return fmt.Errorf("%w: destination: %v", ErrMalformed, err)
		}
		m.Destination = id
	case fieldPayload:
		m.Payload = append([]byte(nil), v...)
	case fieldReason:
		m.Reason = string(v)
	case fieldPeers:
		pa, err := UnmarshalPeerAddress(v)
		if err != nil {
			return err
		}
		m.Peers = append(m.Peers, pa)
	}
	return nil
}

// MarshalPeerAddress 编码网络身份（与消息中的 sender/peers 字段格式相同）
func MarshalPeerAddress(pa types.PeerAddress) []byte {
	var b []byte
	id := pa.ID()
	b = protowire.AppendTag(b, fieldAddrID, protowire.BytesType)
	b = protowire.AppendBytes(b, id[:])
	for _, ep := range pa.Endpoints() {
		b = protowire.AppendTag(b, fieldAddrEndpoints, protowire.BytesType)
		b = protowire.AppendString(b, ep)
	}
	if pa.FirewalledTCP() {
		b = protowire.AppendTag(b, fieldAddrFirewalledTCP, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if pa.FirewalledUDP() {
		b = protowire.AppendTag(b, fieldAddrFirewalledUDP, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if pa.IsRelayed() {
		b = protowire.AppendTag(b, fieldAddrRelayed, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	for _, r := range pa.Relays() {
		b = protowire.AppendTag(b, fieldAddrRelays, protowire.BytesType)
		b = protowire.AppendString(b, r)
	}
	return b
}

// UnmarshalPeerAddress 解码网络身份
func UnmarshalPeerAddress(b []byte) (types.PeerAddress, error) {
	var (
		id                      types.ID
		endpoints, relays       []string
		fwTCP, fwUDP, isRelayed bool
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return types.PeerAddress{}, malformed(n)
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType && (num == fieldAddrID || num == fieldAddrEndpoints || num == fieldAddrRelays):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return types.PeerAddress{}, malformed(n)
			}
			switch num {
			case fieldAddrID:
				parsed, err := types.IDFromBytes(v)
				if err != nil {
					return types.PeerAddress{}, fmt.Errorf("%w: peer id: %v", ErrMalformed, err)
				}
				id = parsed
			case fieldAddrEndpoints:
				endpoints = append(endpoints, string(v))
			default:
				relays = append(relays, string(v))
			}
			b = b[n:]

		case typ == protowire.VarintType && num >= fieldAddrFirewalledTCP && num <= fieldAddrRelayed:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return types.PeerAddress{}, malformed(n)
			}
			flag := protowire.DecodeBool(v)
			switch num {
			case fieldAddrFirewalledTCP:
				fwTCP = flag
			case fieldAddrFirewalledUDP:
				fwUDP = flag
			default:
				isRelayed = flag
			}
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return types.PeerAddress{}, malformed(n)
			}
			b = b[n:]
		}
	}

	pa, err := types.RestorePeerAddress(id, endpoints, fwTCP, fwUDP, isRelayed, relays)
	if err != nil {
		return types.PeerAddress{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return pa, nil
}

func malformed(n int) error {
	return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
}
