// File: api/privatedata.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// MaxPrivateData is the largest payload a connect, accept or reject carries.
const MaxPrivateData = 56

// PrivateData is a bounded opaque payload exchanged during connection setup.
// The zero value is an empty payload.
type PrivateData struct {
	buf [MaxPrivateData]byte
	n   uint8
}

// NewPrivateData copies b. Payloads longer than MaxPrivateData fail with
// ErrMessageTooBig.
func NewPrivateData(b []byte) (PrivateData, error) {
	var p PrivateData
	if len(b) > MaxPrivateData {
		return p, ErrMessageTooBig.WithContext("length", len(b))
	}
	p.n = uint8(copy(p.buf[:], b))
	return p, nil
}

// MustPrivateData is NewPrivateData for payloads known to fit.
func MustPrivateData(b []byte) PrivateData {
	p, err := NewPrivateData(b)
	if err != nil {
		panic(err)
	}
	return p
}

// Bytes returns a copy of the payload.
func (p PrivateData) Bytes() []byte {
	if p.n == 0 {
		return nil
	}
	out := make([]byte, p.n)
	copy(out, p.buf[:p.n])
	return out
}

func (p PrivateData) Len() int { return int(p.n) }
