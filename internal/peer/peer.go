// Package peer 参考 Agora 对端：确认请求与问候、周期心跳、可选回显。
package peer

import (
	"context"
	"time"

	"github.com/hongjun500/agora-go/internal/protocol"
	"github.com/hongjun500/agora-go/internal/transport"
	"github.com/hongjun500/agora-go/pkg/logger"
)

type Options struct {
	// HeartbeatInterval 为 0 时不主动发心跳
	HeartbeatInterval time.Duration
	// Ack 返回 false 的信封不确认；nil 表示全部确认
	Ack func(env *protocol.Envelope) bool
	// Echo 收到请求后以同样的关键字与负载回发
	Echo bool
}

type Peer struct {
	opt     Options
	gw      *transport.SimpleGateway
	factory *protocol.MessageFactory
	observe func(*transport.SessionContext, *protocol.Envelope)
}

func New(opt Options) *Peer {
	p := &Peer{
		opt:     opt,
		gw:      transport.NewSimpleGateway(),
		factory: protocol.NewMessageFactory(),
	}
	p.gw.Handle(protocol.KindGreeting, p.onGreeting)
	p.gw.Handle(protocol.KindRequest, p.onRequest)
	p.gw.Handle(protocol.KindAck, p.onAck)
	p.gw.Handle(protocol.KindHeartbeat, p.onHeartbeat)
	p.gw.OnOpen(func(sc *transport.SessionContext) {
		logger.L().Sugar().Infow("peer_session_open", "session", sc.Id, "remote", sc.RemoteAddr)
	})
	p.gw.OnClose(func(sc *transport.SessionContext, err error) {
		logger.L().Sugar().Infow("peer_session_close", "session", sc.Id, "sender", sc.Sender(), "err", err)
	})
	return p
}

// Observe 每个收到的信封在处理前回调一次，需在服务启动前设置
func (p *Peer) Observe(fn func(*transport.SessionContext, *protocol.Envelope)) {
	p.observe = fn
}

func (p *Peer) Gateway() transport.Gateway { return p.gw }

func (p *Peer) Sessions() *transport.SessionManager { return p.gw.GetSessionManager() }

// Run 按间隔向所有会话发心跳，直到 ctx 结束
func (p *Peer) Run(ctx context.Context) error {
	if p.opt.HeartbeatInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(p.opt.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Sessions().Broadcast(p.factory.NewHeartbeat())
		}
	}
}

// Request 向声明为 sender 的会话发送请求；sender 为空时发给全部会话。返回送达会话数
func (p *Peer) Request(sender, keyword, payload string) int {
	env := p.factory.NewRequest(keyword, payload, nil)
	if sender == "" {
		return p.Sessions().Broadcast(env)
	}
	n := 0
	for _, sc := range p.Sessions().FindBySender(sender) {
		if err := sc.Send(env); err == nil {
			n++
		}
	}
	return n
}

func (p *Peer) seen(sc *transport.SessionContext, env *protocol.Envelope) {
	if p.observe != nil {
		p.observe(sc, env)
	}
}

func (p *Peer) ack(sc *transport.SessionContext, env *protocol.Envelope) {
	if p.opt.Ack != nil && !p.opt.Ack(env) {
		return
	}
	if err := sc.Send(p.factory.NewAck(env.ID)); err != nil {
		logger.L().Sugar().Warnw("peer_ack_error", "session", sc.Id, "id", env.ID, "err", err)
	}
}

func (p *Peer) onGreeting(sc *transport.SessionContext, env *protocol.Envelope) {
	p.seen(sc, env)
	sc.SetSender(env.Sender)
	logger.L().Sugar().Infow("peer_greeting", "session", sc.Id, "sender", env.Sender)
	p.ack(sc, env)
}

func (p *Peer) onRequest(sc *transport.SessionContext, env *protocol.Envelope) {
	p.seen(sc, env)
	logger.L().Sugar().Debugw("peer_request", "session", sc.Id, "envelope", env.String())
	p.ack(sc, env)
	if p.opt.Echo {
		if err := sc.Send(p.factory.NewRequest(env.Keyword, env.Payload, env.Targets)); err != nil {
			logger.L().Sugar().Warnw("peer_echo_error", "session", sc.Id, "err", err)
		}
	}
}

func (p *Peer) onAck(sc *transport.SessionContext, env *protocol.Envelope) {
	p.seen(sc, env)
	logger.L().Sugar().Debugw("peer_ack", "session", sc.Id, "ack_id", env.AckID)
}

func (p *Peer) onHeartbeat(sc *transport.SessionContext, env *protocol.Envelope) {
	p.seen(sc, env)
}
