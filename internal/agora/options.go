package agora

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hongjun500/agora-go/internal/config"
	"github.com/hongjun500/agora-go/internal/event"
	"github.com/hongjun500/agora-go/internal/protocol"
	"github.com/hongjun500/agora-go/pkg/logger"
	"go.uber.org/zap"
)

// Options 会话运行参数，启动后不可修改
type Options struct {
	Addr              string // host:port
	ID                string // 随 Greeting 发送的本端标识
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration // 超过该时长未收到任何信封即重连
	AckTTL            time.Duration
	IdleDelay         time.Duration
	Workers           int
}

func DefaultOptions() Options {
	cfg := config.Default()
	return OptionsFromConfig(&cfg)
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Addr:              cfg.Addr(),
		ID:                cfg.ID,
		ReconnectDelay:    cfg.ReconnectDelay.Std(),
		HeartbeatInterval: cfg.HeartbeatInterval.Std(),
		HeartbeatTimeout:  cfg.HeartbeatTimeout(),
		AckTTL:            cfg.AckTTL.Std(),
		IdleDelay:         cfg.IdleDelay.Std(),
		Workers:           cfg.Workers,
	}
}

// Option 可选依赖
type Option func(*Session)

// WithClock 替换时间源
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clk = c }
}

// WithHub 生命周期事件发往 h
func WithHub(h *event.Hub) Option {
	return func(s *Session) { s.hub = h }
}

func WithPayloadCodec(pc protocol.PayloadCodec) Option {
	return func(s *Session) {
		if pc != nil {
			s.payloads = pc
		}
	}
}

func WithMessageFactory(f *protocol.MessageFactory) Option {
	return func(s *Session) {
		if f != nil {
			s.factory = f
		}
	}
}

// WithFatalHandler 远端主机无法解析时调用，默认记录日志后退出进程
func WithFatalHandler(fn func(error)) Option {
	return func(s *Session) {
		if fn != nil {
			s.fatal = fn
		}
	}
}

func defaultFatal(err error) {
	logger.L().Fatal("agora_unknown_host", zap.Error(err))
}

// withDefaults 零值字段取默认值
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Addr == "" {
		o.Addr = d.Addr
	}
	if o.ID == "" {
		o.ID = d.ID
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = d.ReconnectDelay
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = o.HeartbeatInterval * 10
	}
	if o.AckTTL <= 0 {
		o.AckTTL = d.AckTTL
	}
	if o.IdleDelay <= 0 {
		o.IdleDelay = d.IdleDelay
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	return o
}
