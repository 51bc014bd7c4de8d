package transport

import (
	"time"

	"github.com/hongjun500/agora-go/internal/protocol"
)

// Options configures transports (shared across TCP/WS where applicable)
type Options struct {
	Codec        protocol.MessageCodec // 信封编解码器，默认 JSON
	DialTimeout  time.Duration         // 0 表示只受 ctx 约束
	ReadTimeout  time.Duration         // per-read deadline; 0 to disable
	WriteTimeout time.Duration         // per-write deadline; 0 to disable
	MaxFrameSize int                   // 单帧上限 (bytes)，默认 1MB
	WSPath       string                // WebSocket 路径，默认 /agora
}

func (o Options) withDefaults() Options {
	if o.Codec == nil {
		o.Codec = protocol.NewJSONCodec()
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = 1 << 20
	}
	if o.WSPath == "" {
		o.WSPath = "/agora"
	}
	return o
}
