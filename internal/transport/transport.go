package transport

import (
	"bytes"
	"context"
	"fmt"

	"github.com/hongjun500/agora-go/internal/protocol"
)

const (
	Tcp       = "tcp"
	WebSocket = "websocket"
)

// Conn 一条已建立的信封流，读写各自只允许一个并发调用方
type Conn interface {
	WriteEnvelope(e *protocol.Envelope) error
	// ReadEnvelope 阻塞读取下一个信封；*protocol.DecodeError 表示该帧损坏但流仍可用
	ReadEnvelope(e *protocol.Envelope) error
	RemoteAddr() string
	Close() error
}

// Dialer 客户端拨号器
type Dialer interface {
	Name() string
	Dial(ctx context.Context, addr string) (Conn, error)
	// CheckEnvelope 入队前检查信封能否按当前编解码与帧上限写出
	CheckEnvelope(e *protocol.Envelope) error
}

// Transport 统一的服务端传输层接口（对端 Agora 以及测试使用）
type Transport interface {
	Name() string
	Start(ctx context.Context, addr string, gateway Gateway, opt Options) error
}

// NewDialer 按名称创建拨号器（tcp|websocket）
func NewDialer(name string, opt Options) (Dialer, error) {
	opt = opt.withDefaults()
	switch name {
	case Tcp, "":
		return &TCPDialer{opt: opt}, nil
	case WebSocket, "ws":
		return &WSDialer{opt: opt}, nil
	default:
		return nil, ErrInvalidTransport.withContext("unknown transport %q", name)
	}
}

// NewServer 按名称创建服务端传输
func NewServer(name string, codec protocol.MessageCodec) (Transport, error) {
	switch name {
	case Tcp, "":
		return &TCPServer{Codec: codec}, nil
	case WebSocket, "ws":
		return &WebSocketServer{Codec: codec}, nil
	default:
		return nil, ErrInvalidTransport.withContext("unknown transport %q", name)
	}
}

// encodeEnvelope 编码并检查帧上限；失败时尚未写出任何字节
func encodeEnvelope(codec protocol.MessageCodec, maxSize int, e *protocol.Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := codec.Encode(&buf, e); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	if buf.Len() > maxSize {
		return nil, ErrFrameTooLarge.withContext("size=%d max=%d", buf.Len(), maxSize)
	}
	return buf.Bytes(), nil
}
