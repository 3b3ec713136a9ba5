// Package verbs defines the provider contract the transport drives: connection
// identifiers, queue pairs, completion queues, protection domains and memory
// registrations, plus the connection manager event stream.
//
// A provider backed by interconnect hardware and the software provider in
// verbs/soft implement the same interfaces.
package verbs

import (
	"errors"
	"time"

	"github.com/momentics/hioload-verbs/api"
)

// Verbs errors.
var (
	ErrClosed       = errors.New("verbs: provider closed")
	ErrInvalidState = errors.New("verbs: operation invalid in current id state")
	ErrNoQP         = errors.New("verbs: queue pair not created")
	ErrQueueFull    = errors.New("verbs: send queue full")
)

// AccessFlags of a memory registration.
type AccessFlags int

const (
	AccessLocalWrite AccessFlags = 1 << iota
	AccessRemoteWrite
	AccessRemoteRead
)

// Has reports whether every flag of want is set.
func (a AccessFlags) Has(want AccessFlags) bool { return a&want == want }

// Opcode of a work request and its completion.
type Opcode int

const (
	OpSend Opcode = iota
	OpRDMAWrite
	OpRDMARead
	OpRecv
	OpDrain
)

func (o Opcode) String() string {
	switch o {
	case OpSend:
		return "send"
	case OpRDMAWrite:
		return "rdma-write"
	case OpRDMARead:
		return "rdma-read"
	case OpRecv:
		return "recv"
	case OpDrain:
		return "drain"
	default:
		return "unknown"
	}
}

// SGE is one scatter-gather element: a view into registered memory and the
// local key of its registration.
type SGE struct {
	Data []byte
	LKey uint32
}

// SendWR is a send queue work request.
type SendWR struct {
	ID         uint64
	Opcode     Opcode
	SGL        []SGE
	RemoteAddr uint64
	RKey       uint32
}

// Length is the total byte count of the gather list.
func (wr *SendWR) Length() int {
	n := 0
	for i := range wr.SGL {
		n += len(wr.SGL[i].Data)
	}
	return n
}

// RecvWR is a receive work request posted to the shared receive queue of a CQ.
type RecvWR struct {
	ID  uint64
	SGE SGE
}

// WorkCompletion reports the outcome of one work request.
type WorkCompletion struct {
	WRID    uint64
	Status  WCStatus
	Opcode  Opcode
	ByteLen int
	QPNum   uint32
}

// QPConfig parameterizes queue pair creation.
type QPConfig struct {
	CQ              CompletionQueue
	SendQueueLength int
}

// Registration is registered memory.
type Registration interface {
	Bytes() []byte
	Addr() uint64
	Len() int
	LKey() uint32
	RKey() uint32
	Access() AccessFlags
	// Deregister releases the registration. A second call fails.
	Deregister() error
}

// ProtectionDomain registers memory.
type ProtectionDomain interface {
	Register(mem []byte, access AccessFlags) (Registration, error)
}

// CompletionQueue collects completions of every queue pair attached to it and
// owns the shared receive queue those queue pairs consume.
type CompletionQueue interface {
	// Poll fills wcs with up to len(wcs) completions and returns the count.
	// It never blocks.
	Poll(wcs []WorkCompletion) int
	// Notify is signalled when completions may be available.
	Notify() <-chan struct{}
	PostReceive(wr RecvWR) error
	Close() error
}

// ConnID is a connection manager identifier. Listening ids produce child ids
// through ConnectRequest events.
type ConnID interface {
	// Handle is unique within the provider for the id's lifetime.
	Handle() uint64
	Bind(ep api.Endpoint) error
	Listen(backlog int) error
	ResolveAddr(ep api.Endpoint, timeout time.Duration) error
	ResolveRoute(timeout time.Duration) error
	CreateQP(cfg QPConfig) error
	QPNum() uint32
	Connect(privateData []byte) error
	Accept(privateData []byte) error
	Reject(privateData []byte) error
	Disconnect() error
	PostSend(wr *SendWR) error
	// PostDrain queues a marker that completes after every work request
	// posted before it.
	PostDrain(wrID uint64) error
	Destroy() error
}

// Provider is an interconnect device opened for use.
type Provider interface {
	ProtectionDomain() ProtectionDomain
	CreateCompletionQueue(depth int) (CompletionQueue, error)
	CreateID() (ConnID, error)
	// Events delivers connection manager events. The channel is closed when
	// the provider is closed.
	Events() <-chan CMEvent
	Close() error
}
