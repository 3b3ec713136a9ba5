package transport

import "github.com/momentics/hioload-verbs/memory"

// workType tags a work request id with the operation it belongs to.
type workType uint16

const (
	workReceive workType = iota + 1
	workSend
	workRead
	workWrite
	workDrain
)

func (w workType) String() string {
	switch w {
	case workReceive:
		return "receive"
	case workSend:
		return "send"
	case workRead:
		return "read"
	case workWrite:
		return "write"
	case workDrain:
		return "drain"
	default:
		return "unknown"
	}
}

// Work request ids pack the user id in the high 32 bits, then the buffer id
// and the work type in 16 bits each.
func encodeWRID(userID uint32, bufferID uint16, t workType) uint64 {
	return uint64(userID)<<32 | uint64(bufferID)<<16 | uint64(t)
}

func decodeWRID(id uint64) (userID uint32, bufferID uint16, t workType) {
	return uint32(id >> 32), uint16(id >> 16), workType(id)
}

var drainWRID = encodeWRID(0, memory.InvalidID, workDrain)
