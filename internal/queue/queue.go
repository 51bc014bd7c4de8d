// Package queue 无界多生产者 FIFO，带就绪通知，供写循环与执行器共用。
package queue

import (
	"errors"
	"sync"
)

// ErrKind 出站队列只接受 request 与 ack
var ErrKind = errors.New("queue: envelope kind not allowed")

type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
	ready chan struct{}
}

func New[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

// Push 追加到队尾，从不阻塞
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
}

// Pop 非阻塞地取出队首
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	// 消费过半时压缩，避免底层数组无限增长
	if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	if q.head < len(q.items) {
		q.signal()
	}
	return v, true
}

// Ready 有元素可取时可读；信号可能是陈旧的，读到后仍需 Pop 判断
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
