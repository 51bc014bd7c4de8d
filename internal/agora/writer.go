package agora

import (
	"context"
	"time"

	"github.com/hongjun500/agora-go/internal/observe"
	"github.com/hongjun500/agora-go/internal/protocol"
	"github.com/hongjun500/agora-go/internal/transport"
	"github.com/hongjun500/agora-go/pkg/logger"
)

// writeLoop 每轮最多发送一个 Greeting 或一个队列项，必要时补发心跳
func (s *Session) writeLoop(ctx context.Context) error {
	var lastSent time.Time
	var lastEpoch uint64
	for s.running.Load() && ctx.Err() == nil {
		conn, epoch, ok, connCh := s.snapshot()
		if !ok {
			s.wait(ctx, s.opt.IdleDelay, connCh)
			continue
		}
		if epoch != lastEpoch {
			lastEpoch = epoch
			lastSent = s.clk.Now()
		}

		sent, err := s.writeNext(conn, epoch)
		if sent && err == nil {
			lastSent = s.clk.Now()
		}
		// 任何写出都推迟下一次心跳
		if err == nil && s.clk.Now().Sub(lastSent) >= s.opt.HeartbeatInterval {
			if err = s.write(conn, s.factory.NewHeartbeat()); err == nil {
				lastSent = s.clk.Now()
				sent = true
			}
		}
		if err != nil {
			logger.L().Sugar().Warnw("agora_write_error", "epoch", epoch, "err", err)
			s.reconnect(ctx, epoch, err)
			continue
		}

		if since := s.sinceReceived(); since > s.opt.HeartbeatTimeout {
			logger.L().Sugar().Warnw("agora_heartbeat_timeout", "epoch", epoch, "since", since)
			s.reconnect(ctx, epoch, errHeartbeatTimeout)
			continue
		}
		if sent {
			continue
		}

		observe.SetQueueDepth(s.queue.Len())
		observe.SetPending(s.cache.Len())
		observe.SetDispatchBacklog(s.executor.Backlog())
		wait := s.opt.IdleDelay
		if next := s.opt.HeartbeatInterval - s.clk.Now().Sub(lastSent); next < wait {
			wait = next
		}
		s.wait(ctx, wait, nil)
	}
	return nil
}

// writeNext Greeting 优先，其次出队一项；返回是否写出了内容
func (s *Session) writeNext(conn transport.Conn, epoch uint64) (bool, error) {
	if g := s.nextGreeting(epoch); g != nil {
		if err := s.write(conn, g); err != nil {
			// 新连接会重新问候
			s.cache.Drop(g.ID)
			s.clearGreeting(g.ID)
			if transport.IsEncodeError(err) {
				s.discard(g, err)
				return false, nil
			}
			return true, err
		}
		return true, nil
	}

	env, ok := s.queue.Pop()
	if !ok {
		return false, nil
	}
	if env.Tracked() {
		// 先登记再发送，确认可能早于 write 返回
		s.cache.Put(env)
	}
	if err := s.write(conn, env); err != nil {
		if transport.IsEncodeError(err) {
			// 连接没有受影响，重发也不会成功
			s.cache.Drop(env.ID)
			s.discard(env, err)
			return false, nil
		}
		// 请求仍在缓存中，过期后重发；确认重新入队
		if env.Kind == protocol.KindAck {
			s.queue.Push(env)
		}
		return true, err
	}
	return true, nil
}

// discard 丢弃无法编码或超过帧上限的信封
func (s *Session) discard(env *protocol.Envelope, err error) {
	observe.IncEncodeError(string(env.Kind))
	logger.L().Sugar().Errorw("agora_encode_error", "id", env.ID, "kind", env.Kind, "keyword", env.Keyword, "err", err)
}

func (s *Session) write(conn transport.Conn, env *protocol.Envelope) error {
	if err := conn.WriteEnvelope(env); err != nil {
		return err
	}
	observe.IncSent(string(env.Kind))
	logger.L().Sugar().Debugw("agora_sent", "envelope", env.String())
	return nil
}

// wait 在 d、队列就绪、连接变化或停止之间取最早者
func (s *Session) wait(ctx context.Context, d time.Duration, connCh <-chan struct{}) {
	if d <= 0 {
		return
	}
	t := s.clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-s.queue.Ready():
	case <-connCh:
	}
}
