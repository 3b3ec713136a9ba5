// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"sync"

	"github.com/momentics/hioload-verbs/transport"
)

// EventKind names a recorded socket callback.
type EventKind int

const (
	Connected EventKind = iota + 1
	Received
	Sent
	ReadDone
	Written
	DisconnectRequested
	Disconnected
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Received:
		return "received"
	case Sent:
		return "sent"
	case ReadDone:
		return "read"
	case Written:
		return "written"
	case DisconnectRequested:
		return "disconnect"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one recorded callback. Data is copied out of the receive buffer.
type Event struct {
	Kind   EventKind
	Data   []byte
	UserID uint32
	Err    error
}

// SocketHandler records every callback on Events. With Echo set, received
// messages are sent back through Socket; with AnswerDisconnect set, a remote
// disconnect is answered right away.
type SocketHandler struct {
	Events chan Event

	Echo             bool
	AnswerDisconnect bool

	mu     sync.Mutex
	socket *transport.Socket
}

// NewSocketHandler returns a handler buffering up to 1024 events.
func NewSocketHandler() *SocketHandler {
	return &SocketHandler{Events: make(chan Event, 1024)}
}

// Attach installs h as the handler of s and sets the socket used by Echo and
// AnswerDisconnect.
func (h *SocketHandler) Attach(s *transport.Socket) {
	h.mu.Lock()
	h.socket = s
	h.mu.Unlock()
	s.SetHandler(h)
}

func (h *SocketHandler) sock() *transport.Socket {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.socket
}

func (h *SocketHandler) OnConnected(data []byte, err error) {
	h.Events <- Event{Kind: Connected, Data: clone(data), Err: err}
}

func (h *SocketHandler) OnReceive(data []byte, err error) {
	h.Events <- Event{Kind: Received, Data: clone(data), Err: err}
	if !h.Echo || err != nil {
		return
	}
	s := h.sock()
	if s == nil {
		return
	}
	buf := s.AcquireSendBufferSize(len(data))
	if !buf.Valid() {
		return
	}
	copy(buf.Data(), data)
	if err := s.Send(buf, 0); err != nil {
		s.ReleaseSendBuffer(buf)
	}
}

func (h *SocketHandler) OnSend(userID uint32, err error) {
	h.Events <- Event{Kind: Sent, UserID: userID, Err: err}
}

func (h *SocketHandler) OnRead(userID uint32, err error) {
	h.Events <- Event{Kind: ReadDone, UserID: userID, Err: err}
}

func (h *SocketHandler) OnWrite(userID uint32, err error) {
	h.Events <- Event{Kind: Written, UserID: userID, Err: err}
}

func (h *SocketHandler) OnDisconnect() {
	h.Events <- Event{Kind: DisconnectRequested}
	if !h.AnswerDisconnect {
		return
	}
	if s := h.sock(); s != nil {
		_ = s.Disconnect()
	}
}

func (h *SocketHandler) OnDisconnected() {
	h.Events <- Event{Kind: Disconnected}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// AcceptorHandler queues connection requests on Requests for the test to
// answer.
type AcceptorHandler struct {
	Requests chan *transport.ConnectionRequest
}

func NewAcceptorHandler() *AcceptorHandler {
	return &AcceptorHandler{Requests: make(chan *transport.ConnectionRequest, 16)}
}

func (a *AcceptorHandler) OnConnection(req *transport.ConnectionRequest) {
	a.Requests <- req
}
