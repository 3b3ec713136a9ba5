package transport

import (
	"sync/atomic"

	"github.com/momentics/hioload-verbs/api"
)

// ConnectionRequest is an incoming connection awaiting Accept or Reject.
// Exactly one of them takes effect.
type ConnectionRequest struct {
	service  *Service
	socket   *Socket
	data     []byte
	consumed atomic.Bool
}

// Data is the private data sent by the initiator.
func (r *ConnectionRequest) Data() []byte { return r.data }

// Socket is the pending socket, so a handler can be prepared for it before
// Accept. The request keeps ownership until answered.
func (r *ConnectionRequest) Socket() *Socket { return r.socket }

// Accept completes the handshake and returns the connected socket. The
// caller owns one reference to it. OnConnected reports the established
// connection on the socket's completion context.
func (r *ConnectionRequest) Accept(h api.SocketHandler, opts ...AcceptOption) (*Socket, error) {
	if !r.consumed.CompareAndSwap(false, true) {
		return nil, ErrRequestConsumed
	}
	st := acceptSettings{context: -1}
	for _, opt := range opts {
		opt(&st)
	}
	cc, err := r.service.pickContext(st.context)
	if err != nil {
		_ = r.socket.reject(api.PrivateData{})
		r.socket.Release()
		return nil, err
	}
	if err := r.socket.accept(cc, h, st.data); err != nil {
		r.socket.Release()
		return nil, err
	}
	r.service.metrics.Add("connections.accepted", 1)
	return r.socket, nil
}

// Reject refuses the connection, passing data back to the initiator.
func (r *ConnectionRequest) Reject(data api.PrivateData) error {
	if !r.consumed.CompareAndSwap(false, true) {
		return ErrRequestConsumed
	}
	err := r.socket.reject(data)
	r.socket.Release()
	return err
}
