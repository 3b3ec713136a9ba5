// Package memory
// Author: momentics <momentics@gmail.com>
//
// Registered memory regions and the zero-copy buffers carved from them.

package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/momentics/hioload-verbs/verbs"
)

// ErrNotRegistered is returned when a region is used after deregistration.
var ErrNotRegistered = errors.New("memory: region not registered")

// LocalMemoryRegion is a span of process memory registered with a protection
// domain. It owns the registration until Deregister.
type LocalMemoryRegion struct {
	mu     sync.Mutex
	reg    verbs.Registration
	data   []byte
	addr   uint64
	lkey   uint32
	rkey   uint32
	access verbs.AccessFlags
}

// Register registers data with pd. Errors are the provider's classification
// wrapped with the requested length and access.
func Register(pd verbs.ProtectionDomain, data []byte, access verbs.AccessFlags) (*LocalMemoryRegion, error) {
	reg, err := pd.Register(data, access)
	if err != nil {
		return nil, fmt.Errorf("memory: register %d bytes access %#x: %w", len(data), int(access), err)
	}
	return &LocalMemoryRegion{
		reg:    reg,
		data:   data,
		addr:   reg.Addr(),
		lkey:   reg.LKey(),
		rkey:   reg.RKey(),
		access: access,
	}, nil
}

func (r *LocalMemoryRegion) Address() uint64           { return r.addr }
func (r *LocalMemoryRegion) Length() int               { return len(r.data) }
func (r *LocalMemoryRegion) LKey() uint32              { return r.lkey }
func (r *LocalMemoryRegion) RKey() uint32              { return r.rkey }
func (r *LocalMemoryRegion) Access() verbs.AccessFlags { return r.access }

// Bytes exposes the registered memory.
func (r *LocalMemoryRegion) Bytes() []byte { return r.data }

// Registered reports whether Deregister has not yet run.
func (r *LocalMemoryRegion) Registered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reg != nil
}

// Deregister releases the registration. Calling it twice returns ErrNotRegistered.
func (r *LocalMemoryRegion) Deregister() error {
	r.mu.Lock()
	reg := r.reg
	r.reg = nil
	r.mu.Unlock()
	if reg == nil {
		return ErrNotRegistered
	}
	if err := reg.Deregister(); err != nil {
		return fmt.Errorf("memory: deregister lkey %d: %w", r.lkey, err)
	}
	return nil
}

// AcquireBuffer carves [offset, offset+length) as a buffer with id. The result
// is invalid when the range does not fit the region. Buffers must not outlive
// the region.
func (r *LocalMemoryRegion) AcquireBuffer(id uint16, offset, length int) Buffer {
	if !fits(offset, length, len(r.data)) {
		return InvalidBuffer()
	}
	return MakeBuffer(id, r.data[offset:offset+length:offset+length], r.lkey)
}

// Remote describes the region for a peer, covering the whole span.
func (r *LocalMemoryRegion) Remote() RemoteMemoryRegion {
	return RemoteMemoryRegion{
		Address: r.addr,
		Length:  uint64(len(r.data)),
		Key:     r.rkey,
	}
}


// fits reports whether [offset, offset+length) lies within size bytes
// without computing a sum that could overflow.
func fits(offset, length, size int) bool {
	return offset >= 0 && length >= 0 && offset <= size && length <= size-offset
}
