package transport

import (
	"encoding/binary"
	"io"
	"sync"
)

// hardFrameLimit 任何配置下的单帧上限
const hardFrameLimit = 16 * 1024 * 1024

// FrameCodec 数据包的编解码器，使用长度前缀帧格式 [len uint32 BE][payload]
type FrameCodec struct {
	readMu  sync.Mutex // 读锁
	writeMu sync.Mutex // 写锁
	bufPool *sync.Pool // 用于复用缓冲区
}

func NewFrameCodec() *FrameCodec {
	return &FrameCodec{
		bufPool: &sync.Pool{
			New: func() any {
				// 使用 64KB 缓冲区，适合大多数场景
				return make([]byte, 64*1024)
			},
		},
	}
}

// WriteFrame 写入一个帧，头部与内容合并为一次写
func (c *FrameCodec) WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > hardFrameLimit {
		return ErrFrameTooLarge.withContext("size=%d", len(payload))
	}
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := w.Write(frame)
	return err
}

// ReadFrame 读取一个帧；maxSize<=0 时只受硬上限约束
func (c *FrameCodec) ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	var header [4]byte
	// 使用 io.ReadFull 确保读取完整的 4 字节长度
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := int(binary.BigEndian.Uint32(header[:]))
	if length <= 0 {
		return nil, ErrInvalidFrame.withContext("size=%d", length)
	}
	if length > hardFrameLimit || (maxSize > 0 && length > maxSize) {
		return nil, ErrFrameTooLarge.withContext("size=%d max=%d", length, maxSize)
	}

	// 使用 bufPool 获取一个缓冲区，避免频繁分配
	buf := c.bufPool.Get().([]byte)
	if cap(buf) < length {
		buf = make([]byte, length)
	} else {
		buf = buf[:length]
	}
	if _, err := io.ReadFull(r, buf); err != nil {
		c.bufPool.Put(buf[:cap(buf)])
		return nil, err
	}
	// 创建数据的拷贝以确保安全（调用者可以持有）
	data := make([]byte, length)
	copy(data, buf)
	c.bufPool.Put(buf[:cap(buf)])
	return data, nil
}
