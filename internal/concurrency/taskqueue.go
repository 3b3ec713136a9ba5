// File: internal/concurrency/taskqueue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Unbounded multi-producer task queue drained by a single poller goroutine.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// TaskQueue collects functions submitted from any goroutine and runs them on
// the goroutine calling Drain.
type TaskQueue struct {
	mu     sync.Mutex
	q      *queue.Queue
	closed bool
	notify chan struct{}
}

// NewTaskQueue returns an empty queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{
		q:      queue.New(),
		notify: make(chan struct{}, 1),
	}
}

// Push enqueues fn. It returns false once the queue is closed.
func (t *TaskQueue) Push(fn func()) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.q.Add(fn)
	t.mu.Unlock()
	select {
	case t.notify <- struct{}{}:
	default:
	}
	return true
}

// Drain runs at most max queued tasks in submission order and returns how
// many ran. Tasks pushed while draining wait for the next call.
func (t *TaskQueue) Drain(max int) int {
	ran := 0
	for ran < max {
		t.mu.Lock()
		if t.q.Length() == 0 {
			t.mu.Unlock()
			break
		}
		fn := t.q.Remove().(func())
		t.mu.Unlock()
		fn()
		ran++
	}
	return ran
}

// Len is the number of pending tasks.
func (t *TaskQueue) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.q.Length()
}

// Notify is signalled after Push.
func (t *TaskQueue) Notify() <-chan struct{} { return t.notify }

// Close rejects further pushes. Pending tasks can still be drained.
func (t *TaskQueue) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}
