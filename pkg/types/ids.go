// Package types 定义 relaydht 的基础类型
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
package types

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // Kademlia 160 位键空间
	"encoding/hex"
	"math/bits"

	"github.com/mr-tron/base58"
)

// ============================================================================
//                              ID - 160 位标识
// ============================================================================

// IDLen 标识长度（字节）
const IDLen = 20

// ID 160 位标识，既用作节点 ID 也用作内容键
//
// 外部表示格式：
//   - String(): Base58 编码
//   - ShortString(): Base58 前缀（日志简短标识）
type ID [IDLen]byte

// EmptyID 空标识
var EmptyID ID

// IDFromBytes 从字节切片创建 ID
func IDFromBytes(b []byte) (ID, error) {
	if len(b) != IDLen {
		return EmptyID, ErrInvalidID
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// IDFromKey 由任意内容键派生 ID（SHA-1）
func IDFromKey(key []byte) ID {
	return ID(sha1.Sum(key)) //nolint:gosec
}

// RandomID 生成随机 ID
func RandomID() ID {
	var id ID
	_, _ = rand.Read(id[:])
	return id
}

// ParseID 从 Base58 或十六进制字符串解析 ID
func ParseID(s string) (ID, error) {
	if s == "" {
		return EmptyID, ErrInvalidID
	}
	if len(s) == IDLen*2 {
		if b, err := hex.DecodeString(s); err == nil {
			return IDFromBytes(b)
		}
	}
	b, err := base58.Decode(s)
	if err != nil {
		return EmptyID, ErrInvalidID
	}
	return IDFromBytes(b)
}

// String 返回 Base58 表示
func (id ID) String() string {
	if id.IsEmpty() {
		return ""
	}
	return base58.Encode(id[:])
}

// ShortString 返回前 8 个字符，用于日志
func (id ID) ShortString() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Hex 返回十六进制表示
func (id ID) Hex() string {
	return hex.EncodeToString(id[:])
}

// Bytes 返回字节切片副本
func (id ID) Bytes() []byte {
	b := make([]byte, IDLen)
	copy(b, id[:])
	return b
}

// IsEmpty 检查是否为空
func (id ID) IsEmpty() bool {
	return id == EmptyID
}

// Cmp 按大端无符号整数比较，返回 -1/0/1
func (id ID) Cmp(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// Less 全序比较
func (id ID) Less(other ID) bool {
	return id.Cmp(other) < 0
}

// Xor 返回两个 ID 的 XOR 距离
func (id ID) Xor(other ID) ID {
	var d ID
	for i := range d {
		d[i] = id[i] ^ other[i]
	}
	return d
}

// Distance 返回 a 与 b 的 XOR 距离
func Distance(a, b ID) ID {
	return a.Xor(b)
}

// CloserTo 判断 id 是否比 other 更接近 target
func (id ID) CloserTo(target, other ID) bool {
	return id.Xor(target).Less(other.Xor(target))
}

// CommonPrefixLen 返回与 other 的公共前缀位数（0..160）
func (id ID) CommonPrefixLen(other ID) int {
	d := id.Xor(other)
	for i, b := range d {
		if b != 0 {
			return i*8 + bits.LeadingZeros8(b)
		}
	}
	return IDLen * 8
}
