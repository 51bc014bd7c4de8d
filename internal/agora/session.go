// Package agora 与远端 Agora 之间的可靠点对点会话。
//
// 一个 Session 持有一条连接、一个出站队列和一个待确认缓存。
// 写循环负责 Greeting、出站请求与心跳，读循环负责确认、入站请求与存活检测；
// 任一循环发现连接失效都通过 reconnect(epoch) 触发重连，同一 epoch 只重连一次。
package agora

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hongjun500/agora-go/internal/config"
	"github.com/hongjun500/agora-go/internal/dispatch"
	"github.com/hongjun500/agora-go/internal/event"
	"github.com/hongjun500/agora-go/internal/observe"
	"github.com/hongjun500/agora-go/internal/pending"
	"github.com/hongjun500/agora-go/internal/protocol"
	"github.com/hongjun500/agora-go/internal/queue"
	"github.com/hongjun500/agora-go/internal/transport"
	"github.com/hongjun500/agora-go/pkg/logger"
	"golang.org/x/sync/errgroup"
)

var (
	ErrStopped        = errors.New("agora: session stopped")
	ErrAlreadyStarted = errors.New("agora: session already started")
	ErrNotConnected   = errors.New("agora: not connected")
)

type Session struct {
	opt      Options
	dialer   transport.Dialer
	clk      clock.Clock
	factory  *protocol.MessageFactory
	payloads protocol.PayloadCodec
	hub      *event.Hub
	fatal    func(error)

	queue    *queue.Queue[*protocol.Envelope]
	cache    *pending.Cache
	executor *dispatch.Executor
	router   *protocol.MessageRouter

	// dialMu 串行化 connect/disconnect；mu 只保护下面的连接快照
	dialMu    sync.Mutex
	mu        sync.RWMutex
	conn      transport.Conn
	epoch     uint64
	connected bool
	connCh    chan struct{} // 每次建立连接时关闭并替换

	shouldGreet  atomic.Bool
	greetMu      sync.Mutex
	greetingID   string // 在途 Greeting，空表示没有
	lastReceived atomic.Int64
	reconnects   atomic.Int64

	started  atomic.Bool
	running  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// New 创建会话；reg 为入站请求的处理器表
func New(opt Options, dialer transport.Dialer, reg *dispatch.Registry, opts ...Option) *Session {
	s := &Session{
		opt:      opt.withDefaults(),
		dialer:   dialer,
		clk:      clock.New(),
		payloads: protocol.DefaultPayloadCodec,
		fatal:    defaultFatal,
		queue:    queue.New[*protocol.Envelope](),
		router:   protocol.NewMessageRouter(),
		connCh:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.factory == nil {
		s.factory = protocol.NewMessageFactoryWithClock(s.clk.Now)
	}
	s.cache = pending.New(s.onExpire, pending.WithClock(s.clk), pending.WithTTL(s.opt.AckTTL))
	s.executor = dispatch.NewExecutor(reg,
		dispatch.WithWorkers(s.opt.Workers),
		dispatch.WithFailureHook(s.onHandlerFailure))

	s.router.RegisterHandler(protocol.KindHeartbeat, func(*protocol.Envelope) error { return nil })
	s.router.RegisterHandler(protocol.KindAck, s.handleAck)
	s.router.RegisterHandler(protocol.KindRequest, s.handleRequest)
	s.router.RegisterHandler(protocol.KindGreeting, s.handleGreeting)
	return s
}

// NewFromConfig 按配置创建拨号器与会话
func NewFromConfig(cfg *config.Config, reg *dispatch.Registry, opts ...Option) (*Session, error) {
	codec, err := protocol.NewCodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	dialer, err := transport.NewDialer(cfg.Transport, transport.Options{
		Codec:        codec,
		DialTimeout:  cfg.ReconnectDelay.Std() * 5,
		MaxFrameSize: cfg.MaxFrameSize,
		WSPath:       cfg.WSPath,
	})
	if err != nil {
		return nil, err
	}
	return New(OptionsFromConfig(cfg), dialer, reg, opts...), nil
}

// Start 在后台建立连接并启动读写循环与执行器，立即返回
func (s *Session) Start(ctx context.Context) error {
	if s.stopped.Load() {
		return ErrStopped
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.running.Store(true)
	ctx, s.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	s.group = g

	logger.L().Sugar().Infow("agora_start", "addr", s.opt.Addr, "id", s.opt.ID, "transport", s.dialer.Name())
	g.Go(func() error { return s.executor.Run(gctx) })
	g.Go(func() error {
		s.dialMu.Lock()
		defer s.dialMu.Unlock()
		if err := s.connectLocked(gctx); err != nil && !errors.Is(err, ErrStopped) && gctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error { return s.writeLoop(gctx) })
	g.Go(func() error { return s.readLoop(gctx) })
	return nil
}

// Stop 停止循环并关闭连接；可重复调用。未确认的请求被丢弃
func (s *Session) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.running.Store(false)
		if s.cancel != nil {
			s.cancel()
		}
		s.dialMu.Lock()
		s.disconnectLocked(nil)
		s.dialMu.Unlock()
		if s.group != nil {
			err = s.group.Wait()
		}
		s.cache.Clear()
		logger.L().Sugar().Infow("agora_stop", "queued", s.queue.Len())
	})
	return err
}

// Healthy 已连接时返回 nil
func (s *Session) Healthy() error {
	if _, _, ok, _ := s.snapshot(); !ok {
		return ErrNotConnected
	}
	return nil
}

// Epoch 成功建立连接的次数
func (s *Session) Epoch() uint64 {
	_, epoch, _, _ := s.snapshot()
	return epoch
}

func (s *Session) snapshot() (transport.Conn, uint64, bool, <-chan struct{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn, s.epoch, s.connected, s.connCh
}

// connectLocked 按固定间隔重试直到成功或停止；调用方持有 dialMu
func (s *Session) connectLocked(ctx context.Context) error {
	for s.running.Load() {
		conn, err := s.dialer.Dial(ctx, s.opt.Addr)
		if err == nil {
			s.install(conn)
			return nil
		}
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			logger.L().Sugar().Errorw("agora_unknown_host", "addr", s.opt.Addr, "err", err)
			s.fatal(err)
			return err
		}
		logger.L().Sugar().Warnw("agora_connect_error", "addr", s.opt.Addr, "err", err, "retry_in", s.opt.ReconnectDelay)
		t := s.clk.Timer(s.opt.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ErrStopped
		case <-t.C:
		}
	}
	return ErrStopped
}

func (s *Session) install(conn transport.Conn) {
	s.touch()
	// 上一个连接的 Greeting 不再等待确认，新连接重新问候
	s.greetMu.Lock()
	if s.greetingID != "" {
		s.cache.Drop(s.greetingID)
		s.greetingID = ""
	}
	s.shouldGreet.Store(true)

	s.mu.Lock()
	s.conn = conn
	s.epoch++
	s.connected = true
	epoch := s.epoch
	close(s.connCh)
	s.connCh = make(chan struct{})
	s.mu.Unlock()
	s.greetMu.Unlock()

	observe.SetConnected(true)
	logger.L().Sugar().Infow("agora_connected", "addr", s.opt.Addr, "remote", conn.RemoteAddr(), "epoch", epoch)
	s.hub.Emit(&event.ConnectionEvent{When: s.clk.Now(), Kind: event.Connected, Epoch: epoch, Remote: conn.RemoteAddr()})
}

// disconnectLocked 关闭当前连接；未连接时无操作。调用方持有 dialMu
func (s *Session) disconnectLocked(cause error) {
	s.mu.Lock()
	conn, epoch := s.conn, s.epoch
	was := s.connected
	s.conn = nil
	s.connected = false
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		logger.L().Sugar().Debugw("agora_close_error", "epoch", epoch, "err", err)
	}
	if was {
		observe.SetConnected(false)
		logger.L().Sugar().Infow("agora_disconnected", "epoch", epoch, "cause", cause)
		s.hub.Emit(&event.ConnectionEvent{When: s.clk.Now(), Kind: event.Disconnected, Epoch: epoch, Err: cause})
	}
}

// reconnect 只有 epoch 仍是调用方观察到的值时才重连，并发触发只生效一次
func (s *Session) reconnect(ctx context.Context, epoch uint64, cause error) {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()
	if !s.running.Load() {
		return
	}
	if _, cur, _, _ := s.snapshot(); cur != epoch {
		return
	}
	s.reconnects.Add(1)
	observe.IncReconnect()
	logger.L().Sugar().Warnw("agora_reconnect", "epoch", epoch, "cause", cause)
	s.disconnectLocked(cause)
	if err := s.connectLocked(ctx); err != nil && !errors.Is(err, ErrStopped) {
		logger.L().Sugar().Errorw("agora_reconnect_failed", "epoch", epoch, "err", err)
	}
}

func (s *Session) touch() {
	s.lastReceived.Store(s.clk.Now().UnixNano())
}

func (s *Session) sinceReceived() time.Duration {
	return s.clk.Now().Sub(time.Unix(0, s.lastReceived.Load()))
}

// onExpire 由缓存计时器回调：请求重新入队，Greeting 重新问候
func (s *Session) onExpire(env *protocol.Envelope) {
	switch env.Kind {
	case protocol.KindRequest:
		logger.L().Sugar().Infow("agora_resubmit", "id", env.ID, "keyword", env.Keyword)
		observe.IncResubmit(string(env.Kind))
		s.queue.Push(env)
		s.hub.Emit(&event.EnvelopeEvent{When: s.clk.Now(), Kind: event.Resubmitted, ID: env.ID, Keyword: env.Keyword})
	case protocol.KindGreeting:
		if !s.expireGreeting(env.ID) {
			return
		}
		logger.L().Sugar().Infow("agora_regreet", "id", env.ID)
		observe.IncResubmit(string(env.Kind))
	}
}

// expireGreeting 只有过期的正是在途 Greeting 时才安排重新问候
func (s *Session) expireGreeting(id string) bool {
	s.greetMu.Lock()
	defer s.greetMu.Unlock()
	if s.greetingID != id {
		return false
	}
	s.greetingID = ""
	s.shouldGreet.Store(true)
	return true
}

// nextGreeting 需要问候且没有在途 Greeting 时生成并登记一个，epoch 已变化则放弃
func (s *Session) nextGreeting(epoch uint64) *protocol.Envelope {
	s.greetMu.Lock()
	defer s.greetMu.Unlock()
	if s.greetingID != "" || !s.shouldGreet.Load() {
		return nil
	}
	if _, cur, ok, _ := s.snapshot(); !ok || cur != epoch {
		return nil
	}
	g := s.factory.NewGreeting(s.opt.ID)
	s.greetingID = g.ID
	s.shouldGreet.Store(false)
	s.cache.Put(g)
	return g
}

func (s *Session) clearGreeting(id string) bool {
	s.greetMu.Lock()
	defer s.greetMu.Unlock()
	if s.greetingID != id {
		return false
	}
	s.greetingID = ""
	return true
}

func (s *Session) onHandlerFailure(env *protocol.Envelope, reason string, err error) {
	s.hub.Emit(&event.FailureEvent{When: s.clk.Now(), ID: env.ID, Keyword: env.Keyword, Reason: reason, Err: err})
}

func (s *Session) String() string {
	_, epoch, ok, _ := s.snapshot()
	return fmt.Sprintf("agora{id=%s addr=%s epoch=%d connected=%v}", s.opt.ID, s.opt.Addr, epoch, ok)
}
