package memory

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/momentics/hioload-verbs/verbs"
)

// AllocatedMemoryRegion is a registered region whose backing memory it owns.
type AllocatedMemoryRegion struct {
	*LocalMemoryRegion
	mapped bool
	closed atomic.Bool
}

// Allocate maps length bytes of anonymous memory and registers them with pd.
func Allocate(pd verbs.ProtectionDomain, length int, access verbs.AccessFlags) (*AllocatedMemoryRegion, error) {
	if length <= 0 {
		return nil, fmt.Errorf("memory: allocate %d bytes: invalid length", length)
	}
	data, mapped := mapAnonymous(length)
	region, err := Register(pd, data, access)
	if err != nil {
		if mapped {
			_ = unmapAnonymous(data)
		}
		return nil, err
	}
	return &AllocatedMemoryRegion{LocalMemoryRegion: region, mapped: mapped}, nil
}

// Close deregisters the region and then releases its memory.
func (a *AllocatedMemoryRegion) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return ErrNotRegistered
	}
	var errs []error
	if err := a.Deregister(); err != nil && !errors.Is(err, ErrNotRegistered) {
		errs = append(errs, err)
	}
	if a.mapped {
		if err := unmapAnonymous(a.data); err != nil {
			errs = append(errs, fmt.Errorf("memory: unmap: %w", err))
		}
	}
	return errors.Join(errs...)
}
