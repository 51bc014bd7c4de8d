package transport

import (
	"context"
	"errors"
	"net"

	"github.com/hongjun500/agora-go/internal/protocol"
	"github.com/hongjun500/agora-go/pkg/logger"
)

// TCPServer implements Transport using length-prefixed frames and MessageCodec on top
type TCPServer struct{ Codec protocol.MessageCodec }

func (s *TCPServer) Name() string { return Tcp }

func (s *TCPServer) Start(ctx context.Context, addr string, gateway Gateway, opt Options) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.L().Sugar().Infow("tcp_listen", "addr", ln.Addr().String())
	return s.Serve(ctx, ln, gateway, opt)
}

// Serve 在已有监听上接受连接，ctx 结束时关闭监听与全部连接
func (s *TCPServer) Serve(ctx context.Context, ln net.Listener, gateway Gateway, opt Options) error {
	if s.Codec != nil {
		opt.Codec = s.Codec
	}
	opt = opt.withDefaults()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logger.L().Sugar().Warnw("tcp_accept_error", "err", err)
			continue
		}
		go serveConn(ctx, NewFramedConn(conn, opt), gateway)
	}
}
