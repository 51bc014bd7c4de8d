// Package pending 已发送待确认信封的缓存，超时未确认时回调一次。
package pending

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hongjun500/agora-go/internal/protocol"
)

const DefaultTTL = 2 * time.Second

// ExpireFunc 条目过期时在计时器 goroutine 中调用
type ExpireFunc func(env *protocol.Envelope)

type entry struct {
	env   *protocol.Envelope
	timer *clock.Timer
}

type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	ttl      time.Duration
	clk      clock.Clock
	onExpire ExpireFunc
}

type Option func(*Cache)

// WithClock 替换时间源，测试中传入 clock.NewMock()
func WithClock(c clock.Clock) Option {
	return func(cache *Cache) { cache.clk = c }
}

func WithTTL(ttl time.Duration) Option {
	return func(cache *Cache) {
		if ttl > 0 {
			cache.ttl = ttl
		}
	}
}

func New(onExpire ExpireFunc, opts ...Option) *Cache {
	c := &Cache{
		entries:  make(map[string]*entry),
		ttl:      DefaultTTL,
		clk:      clock.New(),
		onExpire: onExpire,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Put 按 ID 插入或覆盖，并重新计时
func (c *Cache) Put(env *protocol.Envelope) {
	e := &entry{env: env}
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[env.ID]; ok {
		old.timer.Stop()
	}
	c.entries[env.ID] = e
	e.timer = c.clk.AfterFunc(c.ttl, func() { c.expire(env.ID, e) })
}

// expire 只有当前条目仍是 e 时才回调，保证每个条目至多回调一次
func (c *Cache) expire(id string, e *entry) {
	c.mu.Lock()
	cur, ok := c.entries[id]
	if !ok || cur != e {
		c.mu.Unlock()
		return
	}
	delete(c.entries, id)
	c.mu.Unlock()
	if c.onExpire != nil {
		c.onExpire(e.env)
	}
}

// Remove 按 ack 的 AckID 移除并返回原信封
func (c *Cache) Remove(ack *protocol.Envelope) (*protocol.Envelope, bool) {
	if ack == nil {
		return nil, false
	}
	return c.Drop(ack.AckID)
}

// Drop 按 ID 移除，不触发过期回调
func (c *Cache) Drop(id string) (*protocol.Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	delete(c.entries, id)
	e.timer.Stop()
	return e.env, true
}

func (c *Cache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear 停止全部计时器并清空，不触发回调
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		e.timer.Stop()
		delete(c.entries, id)
	}
}
