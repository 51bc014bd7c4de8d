package main

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/hongjun500/agora-go/internal/agora"
	"github.com/hongjun500/agora-go/internal/dispatch"
	"github.com/hongjun500/agora-go/internal/peer"
	"github.com/hongjun500/agora-go/internal/protocol"
	"github.com/hongjun500/agora-go/internal/transport"
	"github.com/hongjun500/agora-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"
)

func TestModuleConnectsToPeer(t *testing.T) {
	restore := logger.Replace(zaptest.NewLogger(t))
	defer restore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := peer.New(peer.Options{})
	go func() { _ = (&transport.TCPServer{}).Serve(ctx, ln, p.Gateway(), transport.Options{}) }()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	t.Setenv("AGORA_CONFIG", "")
	t.Setenv("AGORA_HOST", host)
	t.Setenv("AGORA_PORT", port)
	t.Setenv("AGORA_ID", "Corinth")
	t.Setenv("AGORA_METRICS_ADDR", "")
	t.Setenv("AGORA_REDIS_ADDR", "")

	var s *agora.Session
	var reg *dispatch.Registry
	app := fxtest.New(t, fx.NopLogger, Module(), fx.Populate(&s, &reg))
	app.RequireStart()

	assert.Equal(t, []string{"echo", "ping"}, reg.Keywords())
	require.Eventually(t, func() bool { return s.Healthy() == nil }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(p.Sessions().FindBySender("Corinth")) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, p.Request("Corinth", "echo", protocol.MustJSON(EchoArgs{Text: "hi", Times: 7})))

	app.RequireStop()
	assert.ErrorIs(t, s.Send("ping", struct{}{}), agora.ErrStopped)
}

func TestModuleRejectsBadConfig(t *testing.T) {
	t.Setenv("AGORA_CONFIG", "")
	t.Setenv("AGORA_PORT", strconv.Itoa(70000))
	app := fx.New(fx.NopLogger, Module())
	assert.Error(t, app.Err())
}
