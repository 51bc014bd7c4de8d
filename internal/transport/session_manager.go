package transport

import (
	"sync"
	"sync/atomic"

	"github.com/hongjun500/agora-go/internal/protocol"
	"github.com/hongjun500/agora-go/pkg/logger"
)

// SessionManager 会话管理器
type SessionManager struct {
	sync.Map // key: id string, value: *SessionContext
	count    int64
}

// NewSessionManager 创建会话管理器
func NewSessionManager() *SessionManager {
	return &SessionManager{}
}

// AddContext 将已有的 SessionContext 注册到管理器
func (sm *SessionManager) AddContext(sc *SessionContext) *SessionContext {
	if sc == nil {
		return nil
	}
	if _, loaded := sm.LoadOrStore(sc.Id, sc); !loaded {
		atomic.AddInt64(&sm.count, 1)
	}
	return sc
}

// Remove 移除会话
func (sm *SessionManager) Remove(id string) {
	if _, loaded := sm.LoadAndDelete(id); loaded {
		atomic.AddInt64(&sm.count, -1)
	}
}

// Count 获取当前会话数量
func (sm *SessionManager) Count() int64 {
	return atomic.LoadInt64(&sm.count)
}

// Get 获取会话
func (sm *SessionManager) Get(id string) (*SessionContext, bool) {
	session, exists := sm.Load(id)
	if !exists {
		return nil, false
	}
	if sc, ok := session.(*SessionContext); ok {
		return sc, true
	}
	return nil, false
}

// GetAll 获取所有会话
func (sm *SessionManager) GetAll() []*SessionContext {
	scs := make([]*SessionContext, 0)
	sm.Range(func(key, value any) bool {
		if v, ok := value.(*SessionContext); ok {
			scs = append(scs, v)
		}
		return true
	})
	return scs
}

// FindBySender 按 Greeting 声明的身份查找会话
func (sm *SessionManager) FindBySender(sender string) []*SessionContext {
	var out []*SessionContext
	for _, sc := range sm.GetAll() {
		if sc.Sender() == sender {
			out = append(out, sc)
		}
	}
	return out
}

// Broadcast 向所有会话发送，返回成功数
func (sm *SessionManager) Broadcast(e *protocol.Envelope) int {
	n := 0
	for _, sc := range sm.GetAll() {
		if err := sc.Send(e); err != nil {
			logger.L().Sugar().Debugw("broadcast_skip", "session", sc.Id, "err", err)
			continue
		}
		n++
	}
	return n
}
