// Package queue provides a bounded in-memory FIFO job queue and the single
// background worker that drains it.
package queue

import (
	"context"
	"errors"
	"sync"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 100

// ErrClosed is returned by producers once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded multi-producer, single-consumer FIFO. Enqueue blocks
// while the queue is full instead of dropping work.
type Queue[T any] struct {
	items  chan T
	closed chan struct{}
	once   sync.Once
	mu     sync.RWMutex
}

// New creates a queue holding at most capacity pending items.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Queue[T]{
		items:  make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// Enqueue adds item to the tail of the queue, blocking while it is full.
// It returns false only if the queue is closed or ctx is done before the
// item was accepted.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) bool {
	// The read lock keeps Close from closing items while a send is pending.
	q.mu.RLock()
	defer q.mu.RUnlock()

	select {
	case <-q.closed:
		return false
	default:
	}

	select {
	case q.items <- item:
		return true
	case <-q.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// Dequeue removes the head of the queue, blocking until an item is
// available. ok is false once the queue is closed and drained, or when ctx
// is done.
func (q *Queue[T]) Dequeue(ctx context.Context) (item T, ok bool) {
	select {
	case item, ok = <-q.items:
		return item, ok
	case <-ctx.Done():
		return item, false
	}
}

// Len reports the number of pending items.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Cap reports the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.items)
}

// Close stops accepting new items. Blocked producers return false; items
// already queued can still be dequeued. Close is idempotent.
func (q *Queue[T]) Close() {
	q.once.Do(func() {
		close(q.closed)

		q.mu.Lock()
		close(q.items)
		q.mu.Unlock()
	})
}
