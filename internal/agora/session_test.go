package agora

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hongjun500/agora-go/internal/dispatch"
	"github.com/hongjun500/agora-go/internal/event"
	"github.com/hongjun500/agora-go/internal/peer"
	"github.com/hongjun500/agora-go/internal/protocol"
	"github.com/hongjun500/agora-go/internal/queue"
	"github.com/hongjun500/agora-go/internal/transport"
	"github.com/hongjun500/agora-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type seenEnvelope struct {
	session string
	env     *protocol.Envelope
	at      time.Time
}

// recorder 记录对端收到的全部信封
type recorder struct {
	mu   sync.Mutex
	seen []seenEnvelope
}

func (r *recorder) observe(sc *transport.SessionContext, env *protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *env
	r.seen = append(r.seen, seenEnvelope{session: sc.Id, env: &cp, at: time.Now()})
}

func (r *recorder) filter(fn func(seenEnvelope) bool) []seenEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []seenEnvelope
	for _, s := range r.seen {
		if fn(s) {
			out = append(out, s)
		}
	}
	return out
}

func (r *recorder) kind(k protocol.Kind) []seenEnvelope {
	return r.filter(func(s seenEnvelope) bool { return s.env.Kind == k })
}

func (r *recorder) acksFor(id string) int {
	return len(r.filter(func(s seenEnvelope) bool { return s.env.Kind == protocol.KindAck && s.env.AckID == id }))
}

func (r *recorder) copiesOf(id string) int {
	return len(r.filter(func(s seenEnvelope) bool { return s.env.ID == id }))
}

func startPeer(t *testing.T, opt peer.Options) (*peer.Peer, *recorder, string) {
	t.Helper()
	restore := logger.Replace(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	if opt.HeartbeatInterval == 0 {
		opt.HeartbeatInterval = 50 * time.Millisecond
	}
	p := peer.New(opt)
	rec := &recorder{}
	p.Observe(rec.observe)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = (&transport.TCPServer{}).Serve(ctx, ln, p.Gateway(), transport.Options{}) }()
	go func() { defer wg.Done(); _ = p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		restore()
	})
	return p, rec, ln.Addr().String()
}

func testOptions(addr string) Options {
	return Options{
		Addr:              addr,
		ID:                "Athens",
		ReconnectDelay:    20 * time.Millisecond,
		HeartbeatInterval: 50 * time.Millisecond,
		HeartbeatTimeout:  500 * time.Millisecond,
		AckTTL:            150 * time.Millisecond,
		IdleDelay:         5 * time.Millisecond,
		Workers:           2,
	}
}

func tcpDialer(t *testing.T) transport.Dialer {
	d, err := transport.NewDialer(transport.Tcp, transport.Options{DialTimeout: time.Second})
	require.NoError(t, err)
	return d
}

func emptyRegistry(t *testing.T) *dispatch.Registry {
	reg, err := dispatch.NewBuilder(nil).Build()
	require.NoError(t, err)
	return reg
}

func startSession(t *testing.T, opt Options, d transport.Dialer, reg *dispatch.Registry, opts ...Option) *Session {
	t.Helper()
	s := New(opt, d, reg, opts...)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

const waitFor = 3 * time.Second
const tick = 5 * time.Millisecond

type echoArgs struct {
	Text  string `json:"text"`
	Times int    `json:"times"`
}

func TestEchoDispatchAndAck(t *testing.T) {
	p, rec, addr := startPeer(t, peer.Options{})

	got := make(chan echoArgs, 1)
	b := dispatch.NewBuilder(nil)
	dispatch.Handle(b, "echo", func(ctx context.Context, v echoArgs) error {
		got <- v
		return nil
	})
	reg, err := b.Build()
	require.NoError(t, err)

	s := startSession(t, testOptions(addr), tcpDialer(t), reg)
	require.Eventually(t, func() bool { return len(p.Sessions().FindBySender("Athens")) == 1 }, waitFor, tick)

	payload := protocol.MustJSON(echoArgs{Text: "hi", Times: 7})
	require.Equal(t, 1, p.Request("Athens", "echo", payload))

	select {
	case v := <-got:
		assert.Equal(t, echoArgs{Text: "hi", Times: 7}, v)
	case <-time.After(waitFor):
		t.Fatal("echo handler not invoked")
	}
	// 对端收到针对该请求的确认
	require.Eventually(t, func() bool {
		acks := rec.kind(protocol.KindAck)
		return len(acks) == 1
	}, waitFor, tick)
	assert.NoError(t, s.Healthy())
}

func TestAckRemovesCacheEntry(t *testing.T) {
	_, rec, addr := startPeer(t, peer.Options{})
	hub := event.NewHub()
	acked := make(chan *event.EnvelopeEvent, 4)
	hub.Subscribe(event.Acked, func(e event.Event) { acked <- e.(*event.EnvelopeEvent) })
	greeted := make(chan struct{}, 4)
	hub.Subscribe(event.Greeted, func(event.Event) { greeted <- struct{}{} })

	s := startSession(t, testOptions(addr), tcpDialer(t), emptyRegistry(t), WithHub(hub))
	require.NoError(t, s.Send("ping", map[string]int{"n": 1}))

	select {
	case e := <-acked:
		assert.Equal(t, "ping", e.Keyword)
		assert.Equal(t, 1, rec.copiesOf(e.ID))
	case <-time.After(waitFor):
		t.Fatal("request never acked")
	}
	select {
	case <-greeted:
	case <-time.After(waitFor):
		t.Fatal("greeting never acked")
	}
	require.Eventually(t, func() bool { return s.cache.Len() == 0 }, waitFor, tick)
}

func TestResubmitUntilAcked(t *testing.T) {
	var dropped atomic.Int64
	_, rec, addr := startPeer(t, peer.Options{
		// 前两次请求不确认
		Ack: func(env *protocol.Envelope) bool {
			if env.Kind != protocol.KindRequest {
				return true
			}
			return dropped.Add(1) > 2
		},
	})
	s := startSession(t, testOptions(addr), tcpDialer(t), emptyRegistry(t))
	require.NoError(t, s.Send("ping", "x"))

	require.Eventually(t, func() bool { return len(rec.kind(protocol.KindRequest)) >= 3 }, waitFor, tick)
	reqs := rec.kind(protocol.KindRequest)
	for _, r := range reqs {
		assert.Equal(t, reqs[0].env.ID, r.env.ID, "resubmission keeps the id")
	}
	require.Eventually(t, func() bool { return s.cache.Len() == 0 }, waitFor, tick)
	// 确认后不再重发
	n := len(rec.kind(protocol.KindRequest))
	time.Sleep(3 * testOptions(addr).AckTTL)
	assert.Equal(t, n, len(rec.kind(protocol.KindRequest)))
}

func TestResubmitEveryTTLWithoutAck(t *testing.T) {
	_, rec, addr := startPeer(t, peer.Options{
		Ack: func(env *protocol.Envelope) bool { return env.Kind != protocol.KindRequest },
	})
	opt := testOptions(addr)
	s := startSession(t, opt, tcpDialer(t), emptyRegistry(t))
	require.NoError(t, s.Send("ping", nil))

	window := 6 * opt.AckTTL
	time.Sleep(window)
	reqs := rec.kind(protocol.KindRequest)
	// 首次发送 + 每个 TTL 窗口至少一次重发，留出调度余量
	assert.GreaterOrEqual(t, len(reqs), 4)
	assert.True(t, s.cache.Len()+s.queue.Len() >= 1, "request still tracked")
}

func TestGreetingExclusiveAcrossReconnects(t *testing.T) {
	p, rec, addr := startPeer(t, peer.Options{
		Ack: func(env *protocol.Envelope) bool { return env.Kind != protocol.KindGreeting },
	})
	opt := testOptions(addr)
	s := startSession(t, opt, tcpDialer(t), emptyRegistry(t))

	for i := 0; i < 3; i++ {
		require.Eventually(t, func() bool { return len(p.Sessions().FindBySender("Athens")) == 1 }, waitFor, tick)
		time.Sleep(2 * opt.AckTTL)
		for _, sc := range p.Sessions().GetAll() {
			_ = sc.Close()
		}
		want := uint64(i + 2)
		require.Eventually(t, func() bool { return s.Epoch() >= want }, waitFor, tick)
	}
	require.Eventually(t, func() bool { return len(p.Sessions().FindBySender("Athens")) == 1 }, waitFor, tick)

	bySession := map[string][]seenEnvelope{}
	for _, g := range rec.filter(func(seenEnvelope) bool { return true }) {
		bySession[g.session] = append(bySession[g.session], g)
	}
	require.GreaterOrEqual(t, len(bySession), 4)
	for id, seen := range bySession {
		require.NotEmpty(t, seen)
		assert.Equal(t, protocol.KindGreeting, seen[0].env.Kind, "session %s must start with a greeting", id)
		var last time.Time
		for _, e := range seen {
			if e.env.Kind != protocol.KindGreeting {
				continue
			}
			if !last.IsZero() {
				assert.GreaterOrEqual(t, e.at.Sub(last), opt.AckTTL/2, "greetings overlap on session %s", id)
			}
			last = e.at
		}
	}
}

// silentServer 接受连接并丢弃所有输入，从不回写
func silentServer(t *testing.T) (addr string, accepted *atomic.Int64) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	accepted = new(atomic.Int64)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			go func() { _, _ = io.Copy(io.Discard, c); _ = c.Close() }()
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String(), accepted
}

func TestLivenessTimeoutReconnectsOnce(t *testing.T) {
	restore := logger.Replace(zaptest.NewLogger(t))
	defer restore()
	addr, accepted := silentServer(t)
	opt := testOptions(addr)
	opt.HeartbeatTimeout = 300 * time.Millisecond
	s := startSession(t, opt, tcpDialer(t), emptyRegistry(t))

	require.Eventually(t, func() bool { return accepted.Load() == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return s.Epoch() == 2 }, waitFor, tick)
	// 读循环也会因连接关闭而触发重连，但同一 epoch 只生效一次
	time.Sleep(opt.HeartbeatTimeout / 3)
	assert.EqualValues(t, 2, accepted.Load())
	assert.EqualValues(t, 1, s.reconnects.Load())
	assert.EqualValues(t, 2, s.Epoch())
}

func TestConcurrentReconnectCollapses(t *testing.T) {
	restore := logger.Replace(zaptest.NewLogger(t))
	defer restore()
	addr, accepted := silentServer(t)
	opt := testOptions(addr)
	opt.HeartbeatTimeout = time.Minute
	s := startSession(t, opt, tcpDialer(t), emptyRegistry(t))
	require.Eventually(t, func() bool { return s.Epoch() == 1 }, waitFor, tick)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.reconnect(ctx, 1, errors.New("test trigger"))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 2, s.Epoch())
	assert.EqualValues(t, 1, s.reconnects.Load())
	assert.Eventually(t, func() bool { return accepted.Load() == 2 }, waitFor, tick)
}

func TestDispatchIsolation(t *testing.T) {
	p, rec, addr := startPeer(t, peer.Options{})
	bRan := make(chan string, 1)
	b := dispatch.NewBuilder(nil)
	dispatch.Handle(b, "A", func(ctx context.Context, v string) error { panic("handler A exploded") })
	dispatch.Handle(b, "B", func(ctx context.Context, v string) error {
		bRan <- v
		return nil
	})
	reg, err := b.Build()
	require.NoError(t, err)

	hub := event.NewHub()
	failed := make(chan *event.FailureEvent, 4)
	hub.Subscribe(event.HandlerFailed, func(e event.Event) { failed <- e.(*event.FailureEvent) })

	opt := testOptions(addr)
	opt.Workers = 1
	startSession(t, opt, tcpDialer(t), reg, WithHub(hub))
	require.Eventually(t, func() bool { return len(p.Sessions().FindBySender("Athens")) == 1 }, waitFor, tick)

	p.Request("Athens", "A", `"boom"`)
	p.Request("Athens", "B", `"fine"`)
	p.Request("Athens", "C", `"nobody"`)

	select {
	case v := <-bRan:
		assert.Equal(t, "fine", v)
	case <-time.After(waitFor):
		t.Fatal("handler B blocked by A")
	}
	reasons := map[string]string{}
	for len(reasons) < 2 {
		select {
		case f := <-failed:
			reasons[f.Keyword] = f.Reason
		case <-time.After(waitFor):
			t.Fatalf("missing failure events, got %v", reasons)
		}
	}
	assert.Equal(t, dispatch.ReasonPanic, reasons["A"])
	assert.Equal(t, dispatch.ReasonNoHandler, reasons["C"])
	// 三个请求都被确认，与处理结果无关
	require.Eventually(t, func() bool { return len(rec.kind(protocol.KindAck)) == 3 }, waitFor, tick)
}

type dnsFailDialer struct{}

func (dnsFailDialer) Name() string { return "fake" }

func (dnsFailDialer) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	return nil, &net.OpError{Op: "dial", Net: "tcp", Err: &net.DNSError{Err: "no such host", Name: "agora.invalid", IsNotFound: true}}
}

func (dnsFailDialer) CheckEnvelope(*protocol.Envelope) error { return nil }

func TestUnknownHostIsFatal(t *testing.T) {
	restore := logger.Replace(zaptest.NewLogger(t))
	defer restore()
	fatal := make(chan error, 1)
	s := New(testOptions("agora.invalid:12345"), dnsFailDialer{}, emptyRegistry(t),
		WithFatalHandler(func(err error) { fatal <- err }))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case err := <-fatal:
		var dnsErr *net.DNSError
		assert.True(t, errors.As(err, &dnsErr))
	case <-time.After(waitFor):
		t.Fatal("fatal handler not called")
	}
	assert.ErrorIs(t, s.Healthy(), ErrNotConnected)
}

func TestSendValidationAndStop(t *testing.T) {
	s := New(testOptions("127.0.0.1:1"), tcpDialer(t), emptyRegistry(t))
	assert.ErrorIs(t, s.EnqueueRequest("", "{}", nil), protocol.ErrMissingKeyword)
	assert.Error(t, s.Send("bad", make(chan int)))
	assert.ErrorIs(t, s.enqueue(protocol.DefaultFactory.NewHeartbeat()), queue.ErrKind)

	send := NewSender[echoArgs](s, "echo", "Sparta", "Thebes")
	require.NoError(t, send(echoArgs{Text: "a"}))
	env, ok := s.queue.Pop()
	require.True(t, ok)
	assert.Equal(t, "echo", env.Keyword)
	assert.Equal(t, []string{"Sparta", "Thebes"}, env.Targets)
	assert.JSONEq(t, `{"text":"a","times":0}`, env.Payload)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Send("echo", 1), ErrStopped)
	assert.ErrorIs(t, s.Start(context.Background()), ErrStopped)
	require.NoError(t, s.Stop())
}

func TestQueuedBeforeConnectIsDelivered(t *testing.T) {
	_, rec, addr := startPeer(t, peer.Options{})
	s := New(testOptions(addr), tcpDialer(t), emptyRegistry(t))
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Send("batch", i))
	}
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	require.Eventually(t, func() bool { return len(rec.kind(protocol.KindRequest)) == 5 }, waitFor, tick)
	reqs := rec.kind(protocol.KindRequest)
	for i, r := range reqs {
		assert.Equal(t, protocol.MustJSON(i), r.env.Payload, "requests keep enqueue order")
	}
}

func TestWebSocketSession(t *testing.T) {
	restore := logger.Replace(zaptest.NewLogger(t))
	defer restore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	codec := protocol.NewProtobufCodec()
	p := peer.New(peer.Options{})
	ws := &transport.WebSocketServer{Codec: codec}
	srv := httptest.NewServer(ws.Handler(ctx, p.Gateway(), transport.Options{}))
	defer srv.Close()

	d, err := transport.NewDialer(transport.WebSocket, transport.Options{Codec: codec})
	require.NoError(t, err)
	hub := event.NewHub()
	greeted := make(chan struct{}, 1)
	hub.Subscribe(event.Greeted, func(event.Event) { greeted <- struct{}{} })
	s := startSession(t, testOptions(strings.TrimPrefix(srv.URL, "http://")), d, emptyRegistry(t), WithHub(hub))

	select {
	case <-greeted:
	case <-time.After(waitFor):
		t.Fatal("greeting not acked over websocket")
	}
	require.NoError(t, s.Send("ping", "ws"))
	require.Eventually(t, func() bool { return s.cache.Len() == 0 && s.queue.Len() == 0 }, waitFor, tick)
}

func TestIdleSessionSendsHeartbeats(t *testing.T) {
	_, rec, addr := startPeer(t, peer.Options{})
	opt := testOptions(addr)
	s := startSession(t, opt, tcpDialer(t), emptyRegistry(t))

	require.Eventually(t, func() bool { return len(rec.kind(protocol.KindHeartbeat)) >= 3 }, waitFor, tick)
	beats := rec.kind(protocol.KindHeartbeat)
	for i := 1; i < len(beats); i++ {
		// 计时有抖动，只要求不明显早于间隔
		assert.GreaterOrEqual(t, beats[i].at.Sub(beats[i-1].at), opt.HeartbeatInterval/2)
	}
	assert.EqualValues(t, 1, s.Epoch(), "peer heartbeats keep the connection alive")
}

func TestOversizedRequestKeepsConnection(t *testing.T) {
	_, rec, addr := startPeer(t, peer.Options{})
	opt := testOptions(addr)
	s := startSession(t, opt, tcpDialer(t), emptyRegistry(t))
	require.Eventually(t, func() bool { return s.Healthy() == nil }, waitFor, tick)

	big := `"` + strings.Repeat("x", 2<<20) + `"`
	assert.ErrorIs(t, s.EnqueueRequest("big", big, nil), transport.ErrFrameTooLarge)

	// 绕过入队检查，写循环自己也不能因此断开连接
	oversized := protocol.DefaultFactory.NewRequest("big", big, nil)
	s.queue.Push(oversized)
	normal := protocol.DefaultFactory.NewRequest("ping", "{}", nil)
	require.NoError(t, s.enqueue(normal))

	require.Eventually(t, func() bool {
		return rec.copiesOf(normal.ID) > 0 && !s.cache.Contains(normal.ID)
	}, waitFor, tick)
	time.Sleep(4 * opt.AckTTL)

	assert.EqualValues(t, 1, s.Epoch())
	assert.EqualValues(t, 0, s.reconnects.Load())
	assert.False(t, s.cache.Contains(oversized.ID))
	assert.Zero(t, s.queue.Len())
	assert.Zero(t, rec.copiesOf(oversized.ID))
	assert.Len(t, rec.kind(protocol.KindGreeting), 1)
}

func TestStaleGreetingExpiryDoesNotRegreet(t *testing.T) {
	s := New(testOptions("127.0.0.1:1"), tcpDialer(t), emptyRegistry(t))
	old := s.factory.NewGreeting("Athens")
	cur := s.factory.NewGreeting("Athens")

	s.greetMu.Lock()
	s.greetingID = cur.ID
	s.greetMu.Unlock()

	// 上一个连接的 Greeting 过期，不影响当前在途的 Greeting
	s.onExpire(old)
	assert.False(t, s.shouldGreet.Load())
	assert.Equal(t, cur.ID, s.greetingID)

	s.onExpire(cur)
	assert.True(t, s.shouldGreet.Load())
	assert.Empty(t, s.greetingID)
}
