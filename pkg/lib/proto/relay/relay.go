// Package relaypb 定义中继协议的消息与编解码
//
// 消息以 protobuf 线格式编码（google.golang.org/protobuf/encoding/protowire），
// 字段编号如下：
//
//	message PeerAddress {
//	  bytes  id             = 1;
//	  repeated string endpoints = 2;
//	  bool   firewalled_tcp = 3;
//	  bool   firewalled_udp = 4;
//	  bool   relayed        = 5;
//	  repeated string relays    = 6;
//	}
//
//	message Message {
//	  Kind   kind        = 1;
//	  string request_id  = 2;
//	  PeerAddress sender = 3;
//	  bytes  destination = 4;
//	  bytes  payload     = 5;
//	  Status status      = 6;
//	  string reason      = 7;
//	  repeated PeerAddress peers = 8;
//	}
//
// 未知字段在解码时跳过。
package relaypb

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/dep2p/go-relaydht/pkg/types"
)

// Kind 消息类型
type Kind int32

const (
	KindUnknown Kind = iota
	KindSetupRequest
	KindSetupReply
	KindForward
	KindForwardReply
	KindTeardown
	KindDirect
	KindDirectReply
	KindPing
	KindPong
	KindAnnounce
	KindAnnounceReply
	KindNeighbours
	KindNeighboursReply
)

var kindNames = map[Kind]string{
	KindUnknown:       "UNKNOWN",
	KindSetupRequest:  "SETUP",
	KindSetupReply:    "SETUP_REPLY",
	KindForward:       "FORWARD",
	KindForwardReply:  "FORWARD_REPLY",
	KindTeardown:      "TEARDOWN",
	KindDirect:        "DIRECT",
	KindDirectReply:   "DIRECT_REPLY",
	KindPing:          "PING",
	KindPong:          "PONG",
	KindAnnounce:      "ANNOUNCE",
	KindAnnounceReply: "ANNOUNCE_REPLY",

	KindNeighbours:      "NEIGHBOURS",
	KindNeighboursReply: "NEIGHBOURS_REPLY",
}

// String 返回类型名
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "KIND(" + strconv.Itoa(int(k)) + ")"
}

// ReplyKind 返回请求类型对应的应答类型
func (k Kind) ReplyKind() Kind {
	switch k {
	case KindSetupRequest:
		return KindSetupReply
	case KindForward:
		return KindForwardReply
	case KindDirect:
		return KindDirectReply
	case KindPing:
		return KindPong
	case KindAnnounce:
		return KindAnnounceReply
	case KindNeighbours:
		return KindNeighboursReply
	default:
		return k
	}
}

// Message 中继协议消息
type Message struct {
	Kind        Kind
	RequestID   string
	Sender      *types.PeerAddress
	Destination types.ID
	Payload     []byte
	Status      Status
	Reason      string
	Peers       []types.PeerAddress
}

// NewRequest 创建带请求 ID 的请求消息
func NewRequest(kind Kind, sender types.PeerAddress) *Message {
	m := &Message{
		Kind:      kind,
		RequestID: uuid.NewString(),
	}
	if !sender.IsEmpty() {
		m.Sender = &sender
	}
	return m
}

// Reply 创建对 req 的成功应答
func Reply(req *Message, sender types.PeerAddress) *Message {
	m := &Message{
		Kind:      req.Kind.ReplyKind(),
		RequestID: req.RequestID,
		Status:    StatusOK,
	}
	if !sender.IsEmpty() {
		m.Sender = &sender
	}
	return m
}

// ErrorReply 创建对 req 的失败应答，err 映射为状态码
func ErrorReply(req *Message, err error) *Message {
	return &Message{
		Kind:      req.Kind.ReplyKind(),
		RequestID: req.RequestID,
		Status:    StatusOf(err),
		Reason:    err.Error(),
	}
}

// Err 将应答状态映射回错误；成功时返回 nil
func (m *Message) Err() error {
	return StatusError(m.Status, m.Reason)
}

// IsOK 应答是否成功
func (m *Message) IsOK() bool {
	return m.Status == StatusOK
}

// SenderID 返回发送方 ID；无发送方时返回空 ID
func (m *Message) SenderID() types.ID {
	if m.Sender == nil {
		return types.EmptyID
	}
	return m.Sender.ID()
}

// ============================================================================
//                              FORWARD 信封
// ============================================================================

// Envelope 将 inner 编码进发往 dest 的 FORWARD 信封
func Envelope(inner *Message, sender types.PeerAddress, dest types.ID) (*Message, error) {
	data, err := Marshal(inner)
	if err != nil {
		return nil, err
	}
	env := NewRequest(KindForward, sender)
	env.Destination = dest
	env.Payload = data
	return env, nil
}

// OpenEnvelope 解出 FORWARD 应答中的内层应答，内层失败时返回其错误
func OpenEnvelope(outer *Message) (*Message, error) {
	if err := outer.Err(); err != nil {
		return nil, err
	}
	reply, err := Unmarshal(outer.Payload)
	if err != nil {
		return nil, err
	}
	if err := reply.Err(); err != nil {
		return nil, err
	}
	return reply, nil
}
