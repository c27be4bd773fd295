package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID(t *testing.T) {
	t.Run("ParseID", func(t *testing.T) {
		id := IDFromKey([]byte("hello"))

		tests := []struct {
			name    string
			input   string
			wantErr bool
		}{
			{"base58", id.String(), false},
			{"hex", id.Hex(), false},
			{"empty", "", true},
			{"garbage", "0OIl", true},
			{"short", "3mJr7AoUXx2Wqd", true},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				parsed, err := ParseID(tt.input)
				if tt.wantErr {
					assert.ErrorIs(t, err, ErrInvalidID)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, id, parsed)
			})
		}
	})

	t.Run("ShortString", func(t *testing.T) {
		id := IDFromKey([]byte("short"))
		assert.Len(t, id.ShortString(), 8)
		assert.Equal(t, "", EmptyID.String())
	})

	t.Run("Bytes returns a copy", func(t *testing.T) {
		id := IDFromKey([]byte("copy"))
		b := id.Bytes()
		b[0] ^= 0xff
		assert.NotEqual(t, b[0], id[0])
	})
}

func TestID_Distance(t *testing.T) {
	var a, b, c ID
	a[IDLen-1] = 0x01
	b[IDLen-1] = 0x03
	c[0] = 0x80

	assert.Equal(t, EmptyID, Distance(a, a))
	assert.Equal(t, Distance(a, b), Distance(b, a))

	d := Distance(a, b)
	assert.Equal(t, byte(0x02), d[IDLen-1])

	// b 比 c 更接近 a
	assert.True(t, b.CloserTo(a, c))
	assert.False(t, c.CloserTo(a, b))

	assert.Equal(t, 0, a.CommonPrefixLen(c))
	assert.Equal(t, 158, a.CommonPrefixLen(b))
	assert.Equal(t, IDLen*8, a.CommonPrefixLen(a))
}

func TestID_Order(t *testing.T) {
	var low, high ID
	high[0] = 1

	assert.True(t, low.Less(high))
	assert.False(t, high.Less(low))
	assert.Equal(t, 0, low.Cmp(low))
	assert.Equal(t, 1, high.Cmp(low))

	t.Log("✅ ID 全序比较正确")
}
