package memory

import (
	"github.com/momentics/hioload-verbs/api"
	"github.com/momentics/hioload-verbs/verbs"
)

// InvalidID marks a buffer that could not be acquired.
const InvalidID uint16 = 0xFFFF

// Buffer is a view into a registered region together with its local key.
// Callers check Valid after every acquisition.
type Buffer struct {
	id   uint16
	data []byte
	lkey uint32
}

// InvalidBuffer returns the sentinel buffer.
func InvalidBuffer() Buffer {
	return Buffer{id: InvalidID}
}

// MakeBuffer builds a buffer over data, which must lie inside the
// registration identified by lkey.
func MakeBuffer(id uint16, data []byte, lkey uint32) Buffer {
	return Buffer{id: id, data: data, lkey: lkey}
}

func (b Buffer) ID() uint16     { return b.id }
func (b Buffer) Data() []byte   { return b.data }
func (b Buffer) Len() int       { return len(b.data) }
func (b Buffer) LKey() uint32   { return b.lkey }
func (b Buffer) Valid() bool    { return b.id != InvalidID }
func (b Buffer) SGE() verbs.SGE { return verbs.SGE{Data: b.data, LKey: b.lkey} }

// ScatterGatherBuffer is an ordered list of elements posted as one request.
type ScatterGatherBuffer struct {
	id     uint16
	sges   []verbs.SGE
	length int
}

// NewScatterGatherBuffer returns an empty list tagged with id.
func NewScatterGatherBuffer(id uint16) *ScatterGatherBuffer {
	return &ScatterGatherBuffer{id: id}
}

func (s *ScatterGatherBuffer) ID() uint16 { return s.id }

// Len is the total byte count of all elements.
func (s *ScatterGatherBuffer) Len() int { return s.length }

// Count is the number of elements.
func (s *ScatterGatherBuffer) Count() int { return len(s.sges) }

// SGEs exposes the element list. It must not be modified.
func (s *ScatterGatherBuffer) SGEs() []verbs.SGE { return s.sges }

// Add appends [offset, offset+length) of region. The region must still be
// registered.
func (s *ScatterGatherBuffer) Add(region *LocalMemoryRegion, offset, length int) error {
	if region == nil || !region.Registered() {
		return ErrNotRegistered
	}
	if !fits(offset, length, region.Length()) {
		return api.ErrOutOfRange.WithContext("offset", offset).WithContext("length", length)
	}
	s.push(region.data[offset:offset+length], region.lkey)
	return nil
}

// AddBuffer appends [offset, offset+length) of buf.
func (s *ScatterGatherBuffer) AddBuffer(buf Buffer, offset, length int) error {
	if !buf.Valid() {
		return api.ErrInvalidBuffer
	}
	if !fits(offset, length, buf.Len()) {
		return api.ErrOutOfRange.WithContext("offset", offset).WithContext("length", length)
	}
	s.push(buf.data[offset:offset+length], buf.lkey)
	return nil
}

// Reset empties the list for reuse.
func (s *ScatterGatherBuffer) Reset() {
	s.sges = s.sges[:0]
	s.length = 0
}

func (s *ScatterGatherBuffer) push(data []byte, lkey uint32) {
	s.sges = append(s.sges, verbs.SGE{Data: data, LKey: lkey})
	s.length += len(data)
}
