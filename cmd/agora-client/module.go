package main

import (
	"context"

	"github.com/hongjun500/agora-go/internal/agora"
	"github.com/hongjun500/agora-go/internal/bus/redisstream"
	"github.com/hongjun500/agora-go/internal/config"
	"github.com/hongjun500/agora-go/internal/dispatch"
	"github.com/hongjun500/agora-go/internal/event"
	"github.com/hongjun500/agora-go/internal/observe"
	"github.com/hongjun500/agora-go/internal/subscriber"
	"github.com/hongjun500/agora-go/pkg/logger"
	"go.uber.org/fx"
)

// Module 客户端进程的 Fx 模块
func Module() fx.Option {
	return fx.Module("agora",
		fx.Provide(
			config.Load,
			newHub,
			newRegistry,
			newSession,
		),
		fx.Invoke(
			registerSession,
			registerMetrics,
			registerIngress,
		),
	)
}

func newHub() *event.Hub {
	hub := event.NewHub()
	subscriber.RegisterAll(hub)
	return hub
}

// EchoArgs echo 处理器的参数
type EchoArgs struct {
	Text  string `json:"text"`
	Times int    `json:"times"`
}

func newRegistry() (*dispatch.Registry, error) {
	b := dispatch.NewBuilder(nil)
	dispatch.Handle(b, "echo", func(ctx context.Context, v EchoArgs) error {
		logger.L().Sugar().Infow("echo", "text", v.Text, "times", v.Times)
		return nil
	})
	dispatch.Handle(b, "ping", func(ctx context.Context, _ struct{}) error {
		logger.L().Sugar().Infow("pong")
		return nil
	})
	return b.Build()
}

func newSession(cfg *config.Config, reg *dispatch.Registry, hub *event.Hub) (*agora.Session, error) {
	logger.SetLevel(cfg.LogLevel)
	return agora.NewFromConfig(cfg, reg, agora.WithHub(hub))
}

// registerSession OnStart 的 ctx 只在启动期间有效，会话使用独立的 ctx
func registerSession(lc fx.Lifecycle, s *agora.Session, reg *dispatch.Registry) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.L().Sugar().Infow("agora_registry", "bindings", reg.Describe())
			return s.Start(context.Background())
		},
		OnStop: func(context.Context) error {
			return s.Stop()
		},
	})
}

func registerMetrics(lc fx.Lifecycle, cfg *config.Config, s *agora.Session) {
	if cfg.MetricsAddr == "" {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := observe.StartHTTP(ctx, cfg.MetricsAddr, s.Healthy); err != nil {
					logger.L().Sugar().Errorw("metrics_exit", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func registerIngress(lc fx.Lifecycle, cfg *config.Config, s *agora.Session) {
	if cfg.Redis.Addr == "" {
		return
	}
	bus := redisstream.New(cfg.Redis.Addr, cfg.Redis.DB, cfg.Redis.Stream, cfg.Redis.Group)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := bus.EnsureGroup(startCtx); err != nil {
				return err
			}
			go func() {
				defer close(done)
				logger.L().Sugar().Infow("redis_ingress_start", "stream", cfg.Redis.Stream, "group", cfg.Redis.Group)
				_ = bus.Consume(ctx, cfg.ID, redisstream.ForwardTo(s))
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return bus.Close()
		},
	})
}
