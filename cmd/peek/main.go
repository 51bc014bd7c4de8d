// peek 连接 Agora 端点，问候后打印收到的每个信封，并确认请求。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/hongjun500/agora-go/internal/protocol"
	"github.com/hongjun500/agora-go/internal/transport"
)

func main() {
	var (
		addr   = flag.String("addr", "localhost:12345", "server address")
		tp     = flag.String("transport", transport.Tcp, "tcp|websocket")
		codecS = flag.String("codec", "json", "codec: json|protobuf")
		id     = flag.String("id", "peek", "sender id used in the greeting")
		max    = flag.Int("max", 1<<20, "max frame size in bytes")
		noAck  = flag.Bool("no-ack", false, "do not acknowledge requests")
	)
	flag.Parse()

	mc, err := protocol.NewCodecByName(*codecS)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	d, err := transport.NewDialer(*tp, transport.Options{Codec: mc, MaxFrameSize: *max, DialTimeout: 5 * time.Second})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	conn, err := d.Dial(ctx, *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial error: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()
	go func() { <-ctx.Done(); _ = conn.Close() }()

	if err := conn.WriteEnvelope(protocol.DefaultFactory.NewGreeting(*id)); err != nil {
		fmt.Fprintf(os.Stderr, "greeting error: %v\n", err)
		os.Exit(1)
	}

	for {
		var env protocol.Envelope
		err := conn.ReadEnvelope(&env)
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			fmt.Fprintf(os.Stderr, "decode envelope error: %v\n", err)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintf(os.Stderr, "read error: %v\n", err)
			os.Exit(1)
		}
		printEnvelope(&env)
		if env.Kind == protocol.KindRequest && !*noAck {
			_ = conn.WriteEnvelope(protocol.DefaultFactory.NewAck(env.ID))
		}
	}
}

func printEnvelope(env *protocol.Envelope) {
	fmt.Printf("Envelope:\n")
	fmt.Printf("  kind: %s\n", env.Kind)
	fmt.Printf("  id:   %s\n", env.ID)
	fmt.Printf("  ts:   %s\n", time.UnixMilli(env.Ts).Format(time.RFC3339Nano))
	switch env.Kind {
	case protocol.KindGreeting:
		fmt.Printf("  sender: %s\n", env.Sender)
	case protocol.KindAck:
		fmt.Printf("  ack_id: %s\n", env.AckID)
	case protocol.KindRequest:
		fmt.Printf("  keyword: %s\n", env.Keyword)
		if len(env.Targets) > 0 {
			fmt.Printf("  targets: %v\n", env.Targets)
		}
		p := env.Payload
		if p == "" {
			p = "<empty>"
		} else if len(p) > 200 {
			p = p[:200] + "..."
		}
		fmt.Printf("  payload: %s\n", p)
	}
}
