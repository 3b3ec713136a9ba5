package memory

import (
	"encoding/binary"

	"github.com/momentics/hioload-verbs/api"
)

// RemoteRegionSize is the encoded size of a RemoteMemoryRegion.
const RemoteRegionSize = 20

// RemoteMemoryRegion describes memory a peer registered for remote access.
// It does not own anything.
type RemoteMemoryRegion struct {
	Address uint64
	Length  uint64
	Key     uint32
}

// Covers reports whether [offset, offset+length) lies inside the region.
func (r RemoteMemoryRegion) Covers(offset, length int) bool {
	if offset < 0 || length < 0 {
		return false
	}
	return uint64(offset)+uint64(length) <= r.Length
}

// MarshalBinary encodes r big-endian as address, length, key. The encoding
// fits into connection private data.
func (r RemoteMemoryRegion) MarshalBinary() ([]byte, error) {
	b := make([]byte, RemoteRegionSize)
	binary.BigEndian.PutUint64(b[0:8], r.Address)
	binary.BigEndian.PutUint64(b[8:16], r.Length)
	binary.BigEndian.PutUint32(b[16:20], r.Key)
	return b, nil
}

// UnmarshalBinary decodes the MarshalBinary form.
func (r *RemoteMemoryRegion) UnmarshalBinary(b []byte) error {
	if len(b) < RemoteRegionSize {
		return api.ErrInvalidMessage.WithContext("length", len(b))
	}
	r.Address = binary.BigEndian.Uint64(b[0:8])
	r.Length = binary.BigEndian.Uint64(b[8:16])
	r.Key = binary.BigEndian.Uint32(b[16:20])
	return nil
}
