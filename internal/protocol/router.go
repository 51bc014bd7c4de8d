package protocol

import (
	"fmt"
	"sync"
)

// MessageHandler 处理消息的函数类型
type MessageHandler func(env *Envelope) error

// MessageRouter 按信封种类分发
type MessageRouter struct {
	mu       sync.RWMutex
	handlers map[Kind]MessageHandler
}

// NewMessageRouter 创建新的消息路由器
func NewMessageRouter() *MessageRouter {
	return &MessageRouter{
		handlers: make(map[Kind]MessageHandler),
	}
}

// RegisterHandler 注册种类处理函数
func (r *MessageRouter) RegisterHandler(kind Kind, handler MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
}

// Dispatch 分发消息到对应处理函数
func (r *MessageRouter) Dispatch(env *Envelope) error {
	r.mu.RLock()
	handler, ok := r.handlers[env.Kind]
	r.mu.RUnlock()

	if ok {
		return handler(env)
	}
	return fmt.Errorf("no handler registered for kind: %s", env.Kind)
}
