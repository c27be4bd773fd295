package base

import (
	"bufio"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"

	relaypb "github.com/dep2p/go-relaydht/pkg/lib/proto/relay"
)

// MaxFrameSize 单帧上限
const MaxFrameSize = 4 << 20

// WriteMessage 写入一帧：varint 长度前缀 + 编码后的消息
func WriteMessage(w io.Writer, msg *relaypb.Message) error {
	data, err := relaypb.Marshal(msg)
	if err != nil {
		return err
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	buf := make([]byte, 0, varint.UvarintSize(uint64(len(data)))+len(data))
	buf = append(buf, varint.ToUvarint(uint64(len(data)))...)
	buf = append(buf, data...)
	_, err = w.Write(buf)
	return err
}

// ReadMessage 读取一帧
func ReadMessage(r *bufio.Reader) (*relaypb.Message, error) {
	size, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return relaypb.Unmarshal(data)
}
