package transport

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/hongjun500/agora-go/internal/protocol"
	"github.com/hongjun500/agora-go/pkg/logger"
)

type handlerFunc func(*SessionContext, *protocol.Envelope)

// Gateway 网关接口，传输层与业务层之间的桥梁
type Gateway interface {
	OnSessionOpen(sc *SessionContext)
	OnEnvelope(sc *SessionContext, msg *protocol.Envelope)
	OnSessionClose(sc *SessionContext, err error)
}

// SimpleGateway 按信封种类分发的网关，同时维护会话表
type SimpleGateway struct {
	sessionManager *SessionManager
	handlers       map[protocol.Kind]handlerFunc
	onOpen         func(*SessionContext)
	onClose        func(*SessionContext, error)
}

// NewSimpleGateway 创建简单网关
func NewSimpleGateway() *SimpleGateway {
	return &SimpleGateway{
		sessionManager: NewSessionManager(),
		handlers:       make(map[protocol.Kind]handlerFunc),
	}
}

// Handle 注册某种信封的处理函数，需在服务启动前完成
func (g *SimpleGateway) Handle(kind protocol.Kind, fn func(*SessionContext, *protocol.Envelope)) {
	g.handlers[kind] = fn
}

// OnOpen 会话建立回调
func (g *SimpleGateway) OnOpen(fn func(*SessionContext)) { g.onOpen = fn }

// OnClose 会话关闭回调
func (g *SimpleGateway) OnClose(fn func(*SessionContext, error)) { g.onClose = fn }

// OnSessionOpen 会话开启事件
func (g *SimpleGateway) OnSessionOpen(sc *SessionContext) {
	g.sessionManager.AddContext(sc)
	if g.onOpen != nil {
		g.onOpen(sc)
	}
}

// OnEnvelope 处理收到的消息
func (g *SimpleGateway) OnEnvelope(sc *SessionContext, msg *protocol.Envelope) {
	h, ok := g.handlers[msg.Kind]
	if !ok {
		logger.L().Sugar().Debugw("gateway_unhandled", "session", sc.Id, "kind", msg.Kind)
		return
	}
	h(sc, msg)
}

// OnSessionClose 会话关闭事件
func (g *SimpleGateway) OnSessionClose(sc *SessionContext, err error) {
	defer g.sessionManager.Remove(sc.Id)
	_ = sc.Close()
	if g.onClose != nil {
		g.onClose(sc, err)
	}
}

// GetSessionManager 获取会话管理器
func (g *SimpleGateway) GetSessionManager() *SessionManager {
	return g.sessionManager
}

// GetSession 获取指定会话
func (g *SimpleGateway) GetSession(sessionID string) (*SessionContext, bool) {
	return g.sessionManager.Get(sessionID)
}

// serveConn 服务端单连接读循环，TCP 与 WebSocket 共用
func serveConn(ctx context.Context, c Conn, gateway Gateway) {
	sc := NewSessionContext(newConnSession(uuid.New().String(), c))
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	gateway.OnSessionOpen(sc)
	for {
		var env protocol.Envelope
		err := c.ReadEnvelope(&env)
		if err == nil {
			gateway.OnEnvelope(sc, &env)
			continue
		}
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			logger.L().Sugar().Warnw("server_decode_error", "session", sc.Id, "err", err)
			continue
		}
		gateway.OnSessionClose(sc, err)
		return
	}
}
