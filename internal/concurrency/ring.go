// File: internal/concurrency/ring.go
// Package concurrency implements lock-free ring buffers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RingBuffer is a bounded circular buffer with atomic head/tail,
// padded to prevent false sharing.

package concurrency

import (
	"sync/atomic"
)

// RingBuffer is a lock-free ring buffer (single-producer, single-consumer safe).
// Multiple producers must serialize Enqueue themselves.
type RingBuffer[T any] struct {
	data []T
	mask uint64
	head atomic.Uint64
	_    [64]byte // Padding for hot/cold separation
	tail atomic.Uint64
	_    [64]byte
}

// NewRingBuffer allocates a ring buffer holding at least size items, rounded
// up to a power of two.
func NewRingBuffer[T any](size int) *RingBuffer[T] {
	n := nextPowerOfTwo(uint32(size))
	return &RingBuffer[T]{
		data: make([]T, n),
		mask: uint64(n) - 1,
	}
}

// Enqueue adds item; returns false if full.
func (r *RingBuffer[T]) Enqueue(item T) bool {
	head := r.head.Load()
	tail := r.tail.Load()
	if tail-head >= uint64(len(r.data)) {
		return false
	}
	r.data[tail&r.mask] = item
	r.tail.Store(tail + 1)
	return true
}

// Dequeue removes and returns item; ok false if empty.
func (r *RingBuffer[T]) Dequeue() (T, bool) {
	var zero T
	head := r.head.Load()
	tail := r.tail.Load()
	if head >= tail {
		return zero, false
	}
	idx := head & r.mask
	item := r.data[idx]
	r.data[idx] = zero
	r.head.Store(head + 1)
	return item, true
}

// DequeueBatch moves up to len(dst) items into dst and returns the count.
func (r *RingBuffer[T]) DequeueBatch(dst []T) int {
	n := 0
	for n < len(dst) {
		item, ok := r.Dequeue()
		if !ok {
			break
		}
		dst[n] = item
		n++
	}
	return n
}

// Len returns number of items currently in buffer.
func (r *RingBuffer[T]) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Cap returns fixed buffer capacity.
func (r *RingBuffer[T]) Cap() int {
	return len(r.data)
}

func nextPowerOfTwo(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
