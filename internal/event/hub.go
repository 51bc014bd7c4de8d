// Package event 进程内生命周期事件分发。
package event

import (
	"sync"

	"github.com/hongjun500/agora-go/pkg/logger"
)

type Handler func(Event)

type handlerEntry struct {
	id uint64
	fn Handler
}

type Hub struct {
	// 按 Type 注册的处理器
	handlersMu sync.RWMutex
	handlers   map[Type][]handlerEntry
	nextHID    uint64
}

func NewHub() *Hub {
	return &Hub{
		handlers: make(map[Type][]handlerEntry),
	}
}

// Subscribe 注册事件处理器
func (h *Hub) Subscribe(t Type, fn Handler) { _ = h.SubscribeCancelable(t, fn) }

// SubscribeCancelable 注册并返回一个取消函数，用于移除该处理器
func (h *Hub) SubscribeCancelable(t Type, fn Handler) (cancel func()) {
	h.handlersMu.Lock()
	h.nextHID++
	id := h.nextHID
	h.handlers[t] = append(h.handlers[t], handlerEntry{id: id, fn: fn})
	h.handlersMu.Unlock()

	return func() {
		h.handlersMu.Lock()
		entries := h.handlers[t]
		if len(entries) > 0 {
			filtered := make([]handlerEntry, 0, len(entries))
			for _, e := range entries {
				if e.id != id {
					filtered = append(filtered, e)
				}
			}
			if len(filtered) == 0 {
				delete(h.handlers, t)
			} else {
				h.handlers[t] = filtered
			}
		}
		h.handlersMu.Unlock()
	}
}

// Emit 异步分发事件给所有 handler，非阻塞返回；nil Hub 上调用无效果
func (h *Hub) Emit(e Event) {
	if h == nil {
		return
	}
	h.handlersMu.RLock()
	entries, ok := h.handlers[e.Type()]
	// 拷贝切片以避免并发修改影响
	var copied []handlerEntry
	if ok && len(entries) > 0 {
		copied = append(copied, entries...)
	}
	h.handlersMu.RUnlock()
	for _, entry := range copied {
		go func(f Handler) {
			defer func() {
				if r := recover(); r != nil {
					logger.L().Sugar().Warnw("event_handler_panic", "type", e.Type(), "panic", r)
				}
			}()
			f(e)
		}(entry.fn)
	}
}
