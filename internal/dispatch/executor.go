package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/hongjun500/agora-go/internal/observe"
	"github.com/hongjun500/agora-go/internal/protocol"
	"github.com/hongjun500/agora-go/internal/queue"
	"github.com/hongjun500/agora-go/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// 失败原因，同时作为指标标签
const (
	ReasonNoHandler = "no_handler"
	ReasonDecode    = "decode"
	ReasonHandler   = "handler"
	ReasonPanic     = "panic"
)

// FailureFunc 请求处理失败时回调，不影响其它请求
type FailureFunc func(env *protocol.Envelope, reason string, err error)

// Executor 固定数量 worker 消费入站请求
type Executor struct {
	reg       *Registry
	workers   int
	backlog   *queue.Queue[*protocol.Envelope]
	onFailure FailureFunc
}

type ExecutorOption func(*Executor)

// WithWorkers n<=0 时使用 CPU 数
func WithWorkers(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.workers = n
		}
	}
}

func WithFailureHook(fn FailureFunc) ExecutorOption {
	return func(e *Executor) { e.onFailure = fn }
}

// NewExecutor reg 为 nil 时所有请求都按无处理器处理
func NewExecutor(reg *Registry, opts ...ExecutorOption) *Executor {
	if reg == nil {
		reg = &Registry{byKeyword: map[string]*Binding{}}
	}
	e := &Executor{
		reg:     reg,
		workers: runtime.NumCPU(),
		backlog: queue.New[*protocol.Envelope](),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Submit 入队后立即返回，从不阻塞读循环
func (e *Executor) Submit(env *protocol.Envelope) {
	e.backlog.Push(env)
}

// Backlog 尚未被 worker 取走的请求数
func (e *Executor) Backlog() int { return e.backlog.Len() }

// Run 启动 worker 并阻塞到 ctx 结束；未处理的积压被丢弃
func (e *Executor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < e.workers; i++ {
		g.Go(func() error {
			e.work(ctx)
			return nil
		})
	}
	err := g.Wait()
	if n := e.backlog.Len(); n > 0 {
		logger.L().Sugar().Warnw("dispatch_backlog_dropped", "count", n)
	}
	return err
}

func (e *Executor) work(ctx context.Context) {
	for {
		if env, ok := e.backlog.Pop(); ok {
			e.execute(ctx, env)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-e.backlog.Ready():
		}
	}
}

func (e *Executor) execute(ctx context.Context, env *protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			e.fail(env, ReasonPanic, fmt.Errorf("panic: %v", r))
		}
	}()
	bd, ok := e.reg.Lookup(env.Keyword)
	if !ok {
		e.fail(env, ReasonNoHandler, fmt.Errorf("no handler for keyword %q", env.Keyword))
		return
	}
	observe.IncDispatch(env.Keyword)
	if err := bd.Invoke(ctx, env.Payload); err != nil {
		reason := ReasonHandler
		if errors.Is(err, ErrPayload) {
			reason = ReasonDecode
		}
		e.fail(env, reason, err)
	}
}

func (e *Executor) fail(env *protocol.Envelope, reason string, err error) {
	observe.IncDispatchError(reason)
	logger.L().Sugar().Warnw("dispatch_"+reason, "id", env.ID, "keyword", env.Keyword, "err", err)
	if e.onFailure != nil {
		e.onFailure(env, reason, err)
	}
}
