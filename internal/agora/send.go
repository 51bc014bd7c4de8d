package agora

import (
	"fmt"
	"time"

	"github.com/hongjun500/agora-go/internal/protocol"
	"github.com/hongjun500/agora-go/internal/queue"
)

// Send 编码 payload 并排入出站队列，送达由确认与重发保证
func (s *Session) Send(keyword string, payload any, targets ...string) error {
	encoded, err := s.payloads.Encode(payload)
	if err != nil {
		return fmt.Errorf("agora: encode %s payload: %w", keyword, err)
	}
	return s.EnqueueRequest(keyword, encoded, targets)
}

// EnqueueRequest 排入已编码的请求；编码后超过帧上限时返回 transport.ErrFrameTooLarge
func (s *Session) EnqueueRequest(keyword, encoded string, targets []string) error {
	if s.stopped.Load() {
		return ErrStopped
	}
	env := s.factory.NewRequest(keyword, encoded, targets)
	if err := env.Validate(); err != nil {
		return fmt.Errorf("agora: %w", err)
	}
	// 写不出去的请求会一直留在缓存里重发，入队时就拒绝
	if err := s.dialer.CheckEnvelope(env); err != nil {
		return fmt.Errorf("agora: %s: %w", keyword, err)
	}
	return s.enqueue(env)
}

// enqueue 出站队列只接受 request 与 ack
func (s *Session) enqueue(env *protocol.Envelope) error {
	switch env.Kind {
	case protocol.KindRequest, protocol.KindAck:
	default:
		return fmt.Errorf("%w: %s", queue.ErrKind, env.Kind)
	}
	s.queue.Push(env)
	return nil
}

// NewSender 返回绑定了关键字与默认目标的类型化发送函数
func NewSender[T any](s *Session, keyword string, targets ...string) func(T) error {
	targets = append([]string(nil), targets...)
	return func(v T) error {
		return s.Send(keyword, v, targets...)
	}
}

func timeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
