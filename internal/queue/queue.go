// Package queue provides the goroutine-safe FIFO used at every hand-off point of a pipeline.
package queue

import (
	"errors"
	"sync"
)

// ErrDeactivated is returned by blocking calls once the queue has been deactivated.
var ErrDeactivated = errors.New("queue: deactivated")

// Queue is an unbounded FIFO. Items put with PutUrgent are served before regular items
// but keep their relative order.
//
// A deactivated queue refuses new items and wakes every blocked Get with ErrDeactivated,
// whatever it still holds. Activate restores normal operation.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	urgent int
	active bool
}

// New returns an empty active queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{active: true}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends an item at the tail.
func (q *Queue[T]) Put(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.active {
		return ErrDeactivated
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return nil
}

// PutUrgent inserts an item behind the urgent items already queued, ahead of every regular item.
func (q *Queue[T]) PutUrgent(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.active {
		return ErrDeactivated
	}
	var zero T
	q.items = append(q.items, zero)
	copy(q.items[q.urgent+1:], q.items[q.urgent:])
	q.items[q.urgent] = item
	q.urgent++
	q.cond.Signal()
	return nil
}

// Get blocks until an item is available or the queue is deactivated.
func (q *Queue[T]) Get() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.active && len(q.items) == 0 {
		q.cond.Wait()
	}
	if !q.active {
		var zero T
		return zero, ErrDeactivated
	}
	return q.pop(), nil
}

// TryGet returns the head item without blocking. It ignores the activation state.
func (q *Queue[T]) TryGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.pop(), true
}

// Drain removes and returns every queued item, in order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	q.urgent = 0
	return items
}

func (q *Queue[T]) pop() T {
	var zero T
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if q.urgent > 0 {
		q.urgent--
	}
	return item
}

// Deactivate wakes all blocked callers and makes further Put and Get fail.
func (q *Queue[T]) Deactivate() {
	q.mu.Lock()
	q.active = false
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Activate re-enables a deactivated queue. Items kept while deactivated are served again.
func (q *Queue[T]) Activate() {
	q.mu.Lock()
	q.active = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Active reports whether the queue accepts and serves items.
func (q *Queue[T]) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Locked runs fn while holding the queue lock. fn must not call back into the queue.
func (q *Queue[T]) Locked(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fn()
}
