// agora-peer 本地联调用的参考对端。
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hongjun500/agora-go/internal/peer"
	"github.com/hongjun500/agora-go/internal/protocol"
	"github.com/hongjun500/agora-go/internal/transport"
	"github.com/hongjun500/agora-go/pkg/logger"
	"golang.org/x/sync/errgroup"
)

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	var (
		addr      = flag.String("addr", getEnv("AGORA_PEER_ADDR", ":12345"), "listen address")
		tp        = flag.String("transport", getEnv("AGORA_TRANSPORT", transport.Tcp), "tcp|websocket")
		codecName = flag.String("codec", getEnv("AGORA_CODEC", protocol.Json), "json|protobuf")
		wsPath    = flag.String("ws-path", getEnv("AGORA_WS_PATH", "/agora"), "websocket path")
		heartbeat = flag.Duration("heartbeat", time.Second, "heartbeat interval, 0 to disable")
		echo      = flag.Bool("echo", false, "send every request back to its sender")
		ping      = flag.Duration("ping", 0, "push a ping request to all sessions at this interval")
		dropAcks  = flag.Bool("drop-acks", false, "never acknowledge requests (exercises client resubmission)")
	)
	flag.Parse()

	codec, err := protocol.NewCodecByName(*codecName)
	if err != nil {
		logger.L().Sugar().Fatalw("peer_config_error", "err", err)
	}
	server, err := transport.NewServer(*tp, codec)
	if err != nil {
		logger.L().Sugar().Fatalw("peer_config_error", "err", err)
	}

	opt := peer.Options{HeartbeatInterval: *heartbeat, Echo: *echo}
	if *dropAcks {
		opt.Ack = func(env *protocol.Envelope) bool { return env.Kind != protocol.KindRequest }
	}
	p := peer.New(opt)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		return server.Start(ctx, *addr, p.Gateway(), transport.Options{Codec: codec, WSPath: *wsPath})
	})
	g.Go(func() error { return p.Run(ctx) })
	if *ping > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(*ping)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					n := p.Request("", "ping", "{}")
					logger.L().Sugar().Debugw("peer_ping", "sessions", n)
				}
			}
		})
	}

	logger.L().Sugar().Infow("peer_start", "addr", *addr, "transport", server.Name(), "codec", codec.Name())
	if err := g.Wait(); err != nil && sigCtx.Err() == nil {
		logger.L().Sugar().Fatalw("peer_exit", "err", err)
	}
	logger.L().Sugar().Infow("peer_stop")
}
