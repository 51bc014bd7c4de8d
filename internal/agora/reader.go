package agora

import (
	"context"
	"errors"

	"github.com/hongjun500/agora-go/internal/event"
	"github.com/hongjun500/agora-go/internal/observe"
	"github.com/hongjun500/agora-go/internal/protocol"
	"github.com/hongjun500/agora-go/pkg/logger"
)

var errHeartbeatTimeout = errors.New("agora: heartbeat timeout")

// readLoop 阻塞读取当前连接；单帧解码失败跳过，其它错误触发重连
func (s *Session) readLoop(ctx context.Context) error {
	for s.running.Load() && ctx.Err() == nil {
		conn, epoch, ok, connCh := s.snapshot()
		if !ok {
			s.waitConnected(ctx, connCh)
			continue
		}
		env := new(protocol.Envelope)
		err := conn.ReadEnvelope(env)
		if err != nil {
			if !s.running.Load() {
				return nil
			}
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				observe.IncDecodeError()
				logger.L().Sugar().Warnw("agora_decode_error", "epoch", epoch, "err", err)
				continue
			}
			logger.L().Sugar().Warnw("agora_read_error", "epoch", epoch, "err", err)
			s.reconnect(ctx, epoch, err)
			continue
		}

		s.touch()
		observe.IncReceived(string(env.Kind))
		if err := s.router.Dispatch(env); err != nil {
			logger.L().Sugar().Warnw("agora_route_error", "envelope", env.String(), "err", err)
		}
	}
	return nil
}

func (s *Session) handleAck(env *protocol.Envelope) error {
	orig, ok := s.cache.Remove(env)
	if !ok {
		// 重复确认或已过期重发
		logger.L().Sugar().Debugw("agora_ack_unknown", "ack_id", env.AckID)
		return nil
	}
	elapsed := s.clk.Now().Sub(timeFromMillis(orig.Ts))
	logger.L().Sugar().Debugw("agora_acked", "envelope", orig.String(), "elapsed", elapsed)
	kind := event.Acked
	if orig.Kind == protocol.KindGreeting {
		s.clearGreeting(orig.ID)
		kind = event.Greeted
	}
	s.hub.Emit(&event.EnvelopeEvent{When: s.clk.Now(), Kind: kind, ID: orig.ID, Keyword: orig.Keyword, Elapsed: elapsed})
	return nil
}

// handleRequest 交给执行器后立即确认，不等待处理结果
func (s *Session) handleRequest(env *protocol.Envelope) error {
	logger.L().Sugar().Debugw("agora_request", "envelope", env.String())
	s.executor.Submit(env)
	return s.enqueue(s.factory.NewAck(env.ID))
}

func (s *Session) handleGreeting(env *protocol.Envelope) error {
	logger.L().Sugar().Infow("agora_peer_greeting", "sender", env.Sender)
	return s.enqueue(s.factory.NewAck(env.ID))
}

func (s *Session) waitConnected(ctx context.Context, connCh <-chan struct{}) {
	t := s.clk.Timer(s.opt.IdleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-connCh:
	case <-t.C:
	}
}
