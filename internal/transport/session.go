package transport

import (
	"sync"
	"sync/atomic"

	"github.com/hongjun500/agora-go/internal/protocol"
)

const (
	SessionContextUnClosed = iota
	SessionContextClosed
)

// Session 服务端视角的一条连接
type Session interface {
	ID() string
	RemoteAddr() string
	SendEnvelope(*protocol.Envelope) error
	Close() error
}

// Base 基础会话实现，提供通用功能
type Base struct {
	id         string
	remoteAddr string
}

// NewBase 提供会话的基础信息
func NewBase(id, remoteAddr string) *Base {
	return &Base{id: id, remoteAddr: remoteAddr}
}

func (s *Base) ID() string { return s.id }

func (s *Base) RemoteAddr() string { return s.remoteAddr }

// connSession 把 Conn 适配为 Session
type connSession struct {
	*Base
	conn Conn
}

func newConnSession(id string, c Conn) *connSession {
	return &connSession{Base: NewBase(id, c.RemoteAddr()), conn: c}
}

func (s *connSession) SendEnvelope(e *protocol.Envelope) error { return s.conn.WriteEnvelope(e) }

func (s *connSession) Close() error { return s.conn.Close() }

// SessionContext 网关持有的会话句柄；Sender 在收到 Greeting 后才有值
type SessionContext struct {
	Id         string
	RemoteAddr string
	sess       Session

	mu     sync.RWMutex
	sender string

	closed    int32
	closeOnce sync.Once
}

func NewSessionContext(s Session) *SessionContext {
	return &SessionContext{Id: s.ID(), RemoteAddr: s.RemoteAddr(), sess: s}
}

func (sc *SessionContext) Send(e *protocol.Envelope) error {
	if atomic.LoadInt32(&sc.closed) == SessionContextClosed {
		return ErrSessionContextClosed
	}
	return sc.sess.SendEnvelope(e)
}

// SetSender 记录对端在 Greeting 中声明的身份
func (sc *SessionContext) SetSender(name string) {
	sc.mu.Lock()
	sc.sender = name
	sc.mu.Unlock()
}

func (sc *SessionContext) Sender() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.sender
}

func (sc *SessionContext) Closed() bool {
	return atomic.LoadInt32(&sc.closed) == SessionContextClosed
}

func (sc *SessionContext) Close() error {
	var err error
	sc.closeOnce.Do(func() {
		atomic.StoreInt32(&sc.closed, SessionContextClosed)
		err = sc.sess.Close()
	})
	return err
}
