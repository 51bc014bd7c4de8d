package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hongjun500/agora-go/internal/protocol"
	"github.com/hongjun500/agora-go/pkg/logger"
)

// wsConn 一条 WebSocket 消息即一帧
type wsConn struct {
	conn      *websocket.Conn
	codec     protocol.MessageCodec
	opt       Options
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(c *websocket.Conn, opt Options) *wsConn {
	c.SetReadLimit(int64(opt.MaxFrameSize))
	return &wsConn{conn: c, codec: opt.Codec, opt: opt}
}

func (w *wsConn) WriteEnvelope(e *protocol.Envelope) error {
	raw, err := encodeEnvelope(w.codec, w.opt.MaxFrameSize, e)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.opt.WriteTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.opt.WriteTimeout))
	}
	return wrapWSError(w.conn.WriteMessage(websocket.BinaryMessage, raw))
}

func (w *wsConn) ReadEnvelope(e *protocol.Envelope) error {
	for {
		if w.opt.ReadTimeout > 0 {
			_ = w.conn.SetReadDeadline(time.Now().Add(w.opt.ReadTimeout))
		}
		mt, data, err := w.conn.ReadMessage()
		if err != nil {
			return wrapWSError(err)
		}
		if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
			continue
		}
		return w.codec.Decode(bytes.NewReader(data), e, w.opt.MaxFrameSize)
	}
}

func (w *wsConn) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}

func (w *wsConn) Close() error {
	w.closeOnce.Do(func() {
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

func wrapWSError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		return ErrFrameTooLarge.withContext("%v", err)
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return ErrClosed.withContext("%v", err)
	}
	return wrapIOError(err)
}

// WSDialer 通过 WebSocket 建立连接，地址为 host:port，路径取自 Options.WSPath
type WSDialer struct {
	opt Options
}

func (d *WSDialer) Name() string { return WebSocket }

func (d *WSDialer) CheckEnvelope(e *protocol.Envelope) error {
	_, err := encodeEnvelope(d.opt.Codec, d.opt.MaxFrameSize, e)
	return err
}

func (d *WSDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: d.opt.WSPath}
	dialer := websocket.Dialer{
		HandshakeTimeout: d.opt.DialTimeout,
		NetDialContext:   (&net.Dialer{Timeout: d.opt.DialTimeout}).DialContext,
	}
	c, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return newWSConn(c, d.opt), nil
}

// WebSocketServer implements Transport using WebSocket connections
type WebSocketServer struct {
	Codec protocol.MessageCodec
}

func (ws *WebSocketServer) Name() string {
	return WebSocket
}

// Handler 返回可挂到任意 mux 上的升级处理器，请求结束前阻塞于读循环
func (ws *WebSocketServer) Handler(ctx context.Context, gateway Gateway, opt Options) http.Handler {
	if ws.Codec != nil {
		opt.Codec = ws.Codec
	}
	opt = opt.withDefaults()
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.L().Sugar().Warnw("ws_upgrade_error", "remote", r.RemoteAddr, "err", err)
			return
		}
		serveConn(ctx, newWSConn(conn, opt), gateway)
	})
}

func (ws *WebSocketServer) Start(ctx context.Context, addr string, gateway Gateway, opt Options) error {
	path := opt.withDefaults().WSPath
	mux := http.NewServeMux()
	mux.Handle(path, ws.Handler(ctx, gateway, opt))

	logger.L().Sugar().Infow("websocket_listen", "addr", addr, "path", path)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
