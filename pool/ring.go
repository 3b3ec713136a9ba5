// File: pool/ring.go
// Author: momentics <momentics@gmail.com>
//
// Fixed-capacity ring of buffer ids. Not synchronized; owners hold their own lock.

package pool

// idRing is a FIFO of free buffer ids with power-of-two capacity.
type idRing struct {
	ids  []uint16
	mask uint32
	head uint32
	tail uint32
}

func newIDRing(capacity int) *idRing {
	size := uint32(1)
	for size < uint32(capacity) {
		size <<= 1
	}
	return &idRing{
		ids:  make([]uint16, size),
		mask: size - 1,
	}
}

// push adds id; returns false if full.
func (r *idRing) push(id uint16) bool {
	if r.tail-r.head == uint32(len(r.ids)) {
		return false
	}
	r.ids[r.tail&r.mask] = id
	r.tail++
	return true
}

// pop removes the oldest id; ok false if empty.
func (r *idRing) pop() (uint16, bool) {
	if r.head == r.tail {
		return 0, false
	}
	id := r.ids[r.head&r.mask]
	r.head++
	return id, true
}

func (r *idRing) len() int { return int(r.tail - r.head) }
