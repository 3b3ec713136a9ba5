// Package pool
// Author: momentics <momentics@gmail.com>
//
// Fixed-size buffer pools carved from one registered allocation.

package pool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/momentics/hioload-verbs/memory"
	"github.com/momentics/hioload-verbs/verbs"
)

// ErrPoolClosed is returned by operations on a closed pool.
var ErrPoolClosed = errors.New("pool: closed")

// MaxBuffers is the largest pool size; memory.InvalidID is never handed out.
const MaxBuffers = int(memory.InvalidID)

// RegisteredPool hands out equally sized buffers from one registered region.
// Buffer ids are the slot index, so completions can return a buffer by id.
type RegisteredPool struct {
	region *memory.AllocatedMemoryRegion
	bufLen int
	count  int

	mu     sync.Mutex
	free   *idRing
	inUse  []bool
	closed bool
}

// NewRegisteredPool allocates count buffers of bufLen bytes registered with access.
func NewRegisteredPool(pd verbs.ProtectionDomain, count, bufLen int, access verbs.AccessFlags) (*RegisteredPool, error) {
	if count <= 0 || count > MaxBuffers {
		return nil, fmt.Errorf("pool: buffer count %d out of range [1, %d]", count, MaxBuffers)
	}
	if bufLen <= 0 {
		return nil, fmt.Errorf("pool: buffer length %d must be positive", bufLen)
	}
	region, err := memory.Allocate(pd, count*bufLen, access)
	if err != nil {
		return nil, err
	}
	p := &RegisteredPool{
		region: region,
		bufLen: bufLen,
		count:  count,
		free:   newIDRing(count),
		inUse:  make([]bool, count),
	}
	for i := 0; i < count; i++ {
		p.free.push(uint16(i))
	}
	return p, nil
}

// Acquire takes a full-length buffer. The result is invalid when the pool is
// exhausted or closed.
func (p *RegisteredPool) Acquire() memory.Buffer {
	return p.AcquireSize(p.bufLen)
}

// AcquireSize takes a buffer trimmed to n bytes. n larger than the buffer
// length yields an invalid buffer.
func (p *RegisteredPool) AcquireSize(n int) memory.Buffer {
	if n < 0 || n > p.bufLen {
		return memory.InvalidBuffer()
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return memory.InvalidBuffer()
	}
	id, ok := p.free.pop()
	if ok {
		p.inUse[id] = true
	}
	p.mu.Unlock()
	if !ok {
		return memory.InvalidBuffer()
	}
	return p.region.AcquireBuffer(id, int(id)*p.bufLen, n)
}

// Release returns the buffer with id. Releasing a free or foreign id is
// ignored and reported as false.
func (p *RegisteredPool) Release(id uint16) bool {
	if int(id) >= p.count {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inUse[id] {
		return false
	}
	p.inUse[id] = false
	p.free.push(id)
	return true
}

// Buffer returns the full-length view of slot id without changing ownership.
func (p *RegisteredPool) Buffer(id uint16) memory.Buffer {
	if int(id) >= p.count {
		return memory.InvalidBuffer()
	}
	return p.region.AcquireBuffer(id, int(id)*p.bufLen, p.bufLen)
}

// Owns reports whether b was carved from this pool.
func (p *RegisteredPool) Owns(b memory.Buffer) bool {
	return b.Valid() && int(b.ID()) < p.count && b.LKey() == p.region.LKey()
}

func (p *RegisteredPool) LKey() uint32      { return p.region.LKey() }
func (p *RegisteredPool) BufferLength() int { return p.bufLen }
func (p *RegisteredPool) Cap() int          { return p.count }

// Available is the number of free buffers.
func (p *RegisteredPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.len()
}

// Close releases the backing region. Buffers still held become dangling.
func (p *RegisteredPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	p.mu.Unlock()
	return p.region.Close()
}
