package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hongjun500/agora-go/internal/protocol"
)

// framedConn 在字节流连接上组合长度前缀帧与信封编解码
type framedConn struct {
	conn  net.Conn
	frame *FrameCodec
	codec protocol.MessageCodec
	opt   Options

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewFramedConn 包装一个已建立的字节流连接
func NewFramedConn(conn net.Conn, opt Options) Conn {
	opt = opt.withDefaults()
	return &framedConn{
		conn:  conn,
		frame: NewFrameCodec(),
		codec: opt.Codec,
		opt:   opt,
	}
}

func (c *framedConn) WriteEnvelope(e *protocol.Envelope) error {
	raw, err := encodeEnvelope(c.codec, c.opt.MaxFrameSize, e)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.opt.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.opt.WriteTimeout))
	}
	return wrapIOError(c.frame.WriteFrame(c.conn, raw))
}

func (c *framedConn) ReadEnvelope(e *protocol.Envelope) error {
	if c.opt.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opt.ReadTimeout))
	}
	raw, err := c.frame.ReadFrame(c.conn, c.opt.MaxFrameSize)
	if err != nil {
		return wrapIOError(err)
	}
	// 帧边界完好，内容损坏只影响这一帧
	return c.codec.Decode(bytes.NewReader(raw), e, c.opt.MaxFrameSize)
}

func (c *framedConn) RemoteAddr() string {
	if c.conn == nil || c.conn.RemoteAddr() == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

func (c *framedConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// wrapIOError 本端主动关闭导致的错误统一为 ErrClosed
func wrapIOError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return ErrClosed.withContext("%v", err)
	}
	return err
}

// TCPDialer 通过 TCP 建立帧连接
type TCPDialer struct {
	opt Options
}

func (d *TCPDialer) Name() string { return Tcp }

func (d *TCPDialer) CheckEnvelope(e *protocol.Envelope) error {
	_, err := encodeEnvelope(d.opt.Codec, d.opt.MaxFrameSize, e)
	return err
}

func (d *TCPDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	nd := net.Dialer{Timeout: d.opt.DialTimeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewFramedConn(conn, d.opt), nil
}
