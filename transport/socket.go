// File: transport/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket is a reliable connection with send, RDMA read and RDMA write.
// Connection manager events and completions are applied on the socket's
// completion context; handlers are always called without the socket lock.

package transport

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-verbs/api"
	"github.com/momentics/hioload-verbs/memory"
	"github.com/momentics/hioload-verbs/verbs"
)

// Socket is reference counted. NewSocket and ConnectionRequest.Accept hand
// out one reference; call Release when done with it.
type Socket struct {
	service   *Service
	refs      atomic.Int32
	destroyed atomic.Bool

	mu       sync.Mutex
	log      zerolog.Logger
	state    api.SocketState
	id       verbs.ConnID
	slot     slotRef
	inTable  bool
	context  *CompletionContext
	handler  api.SocketHandler
	data     api.PrivateData
	discSent bool
}

func newSocket(s *Service, cc *CompletionContext, h api.SocketHandler) *Socket {
	if h == nil {
		h = api.NopSocketHandler{}
	}
	sock := &Socket{
		service: s,
		log:     s.log,
		context: cc,
		handler: h,
	}
	sock.refs.Store(1)
	s.metrics.Add("sockets.created", 1)
	return sock
}

// Retain adds a reference.
func (s *Socket) Retain() { s.refs.Add(1) }

// Release drops a reference. The last one destroys the provider id.
func (s *Socket) Release() {
	switch n := s.refs.Add(-1); {
	case n == 0:
		s.destroy()
	case n < 0:
		panic("transport: socket released more often than retained")
	}
}

func (s *Socket) destroy() {
	if !s.destroyed.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	id := s.id
	s.id = nil
	s.mu.Unlock()
	if id != nil {
		_ = id.Destroy()
	}
	s.service.metrics.Add("sockets.destroyed", 1)
}

// SetHandler replaces the callback receiver. Nil installs a no-op handler.
func (s *Socket) SetHandler(h api.SocketHandler) {
	if h == nil {
		h = api.NopSocketHandler{}
	}
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *Socket) State() api.SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsOpen reports whether the socket holds a provider id.
func (s *Socket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id != nil
}

// Open allocates the provider id. Connect opens implicitly.
func (s *Socket) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked()
}

func (s *Socket) openLocked() error {
	if s.id != nil || s.state != api.StateIdle || s.destroyed.Load() {
		return api.ErrAlreadyOpen
	}
	id, err := s.service.provider.CreateID()
	if err != nil {
		return fmt.Errorf("transport: open: %w", err)
	}
	s.attachLocked(id)
	return nil
}

func (s *Socket) attachLocked(id verbs.ConnID) {
	s.id = id
	s.log = s.service.log.With().Uint64("id", id.Handle()).Logger()
	s.slot = s.service.table.insert(s, id.Handle())
	s.inTable = true
}

// Close tears the connection down without the disconnect handshake. No
// further callbacks are delivered.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.id == nil {
		s.mu.Unlock()
		return nil
	}
	if !s.state.Terminal() {
		s.setStateLocked(api.StateError)
	}
	s.mu.Unlock()
	s.finalize()
	return nil
}

// finalize destroys the provider id and drops the table reference. It must be
// called without s.mu held.
func (s *Socket) finalize() {
	s.mu.Lock()
	id, slot, inTable := s.id, s.slot, s.inTable
	s.id = nil
	s.inTable = false
	s.mu.Unlock()
	if id != nil {
		_ = id.Destroy()
	}
	if inTable {
		s.service.table.remove(slot)
	}
}

// Connect starts address resolution towards ep. The outcome is reported
// through OnConnected.
func (s *Socket) Connect(ep api.Endpoint, data api.PrivateData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == nil {
		if err := s.openLocked(); err != nil {
			return err
		}
	}
	if s.state != api.StateIdle {
		return api.ErrAlreadyOpen
	}
	if s.context == nil {
		return ErrNoContext
	}
	if err := s.id.ResolveAddr(ep, s.service.limits.ResolveTimeout); err != nil {
		return api.ErrAddressResolution.
			WithContext("endpoint", ep.String()).
			WithContext("cause", err.Error())
	}
	s.data = data
	s.setStateLocked(api.StateAddressResolving)
	return nil
}

// Disconnect starts the disconnect handshake. OnDisconnected follows once
// every outstanding work request has completed.
func (s *Socket) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case api.StateConnected:
		s.setStateLocked(api.StateDisconnecting)
	case api.StateDisconnecting:
		if s.discSent {
			return nil
		}
	case api.StateDraining, api.StateDisconnected, api.StateError:
		return nil
	default:
		return api.ErrConnectionError.WithContext("state", s.state.String())
	}
	s.discSent = true
	if err := s.id.Disconnect(); err != nil {
		return api.ErrConnectionError.WithContext("cause", err.Error())
	}
	return nil
}

// Send transmits buf to the peer's next receive buffer. Buffers from
// AcquireSendBuffer return to the pool once the send completes. A pooled
// buffer must come from the socket's own completion context.
func (s *Socket) Send(buf memory.Buffer, userID uint32) error {
	if !buf.Valid() {
		return api.ErrInvalidBuffer
	}
	if buf.Len() > s.service.limits.BufferLength {
		return api.ErrMessageTooBig
	}
	if owner := s.service.sendPoolOwner(buf); owner != nil && owner != s.completionContext() {
		return api.ErrInvalidBuffer.WithContext("context", owner.Index())
	}
	return s.post(func(cc *CompletionContext) *verbs.SendWR {
		bufferID := memory.InvalidID
		if cc.sendPool.Owns(buf) {
			bufferID = buf.ID()
		}
		return &verbs.SendWR{
			ID:     encodeWRID(userID, bufferID, workSend),
			Opcode: verbs.OpSend,
			SGL:    []verbs.SGE{buf.SGE()},
		}
	})
}

// SendScatterGather transmits the gathered segments as one message.
func (s *Socket) SendScatterGather(sg *memory.ScatterGatherBuffer, userID uint32) error {
	if sg == nil || sg.Count() == 0 {
		return api.ErrInvalidBuffer
	}
	if sg.Len() > s.service.limits.BufferLength {
		return api.ErrMessageTooBig
	}
	return s.post(func(*CompletionContext) *verbs.SendWR {
		return &verbs.SendWR{
			ID:     encodeWRID(userID, memory.InvalidID, workSend),
			Opcode: verbs.OpSend,
			SGL:    sg.SGEs(),
		}
	})
}

// Read copies dst.Len() bytes at offset of the remote region into dst.
func (s *Socket) Read(src memory.RemoteMemoryRegion, offset int, dst memory.Buffer, userID uint32) error {
	if !dst.Valid() {
		return api.ErrInvalidBuffer
	}
	if !src.Covers(offset, dst.Len()) {
		return api.ErrOutOfRange
	}
	return s.post(func(*CompletionContext) *verbs.SendWR {
		return &verbs.SendWR{
			ID:         encodeWRID(userID, memory.InvalidID, workRead),
			Opcode:     verbs.OpRDMARead,
			SGL:        []verbs.SGE{dst.SGE()},
			RemoteAddr: src.Address + uint64(offset),
			RKey:       src.Key,
		}
	})
}

// Write copies src into the remote region at offset.
func (s *Socket) Write(src memory.Buffer, dst memory.RemoteMemoryRegion, offset int, userID uint32) error {
	if !src.Valid() {
		return api.ErrInvalidBuffer
	}
	return s.write([]verbs.SGE{src.SGE()}, src.Len(), dst, offset, userID)
}

// WriteScatterGather writes the gathered segments contiguously at offset.
func (s *Socket) WriteScatterGather(sg *memory.ScatterGatherBuffer, dst memory.RemoteMemoryRegion, offset int, userID uint32) error {
	if sg == nil || sg.Count() == 0 {
		return api.ErrInvalidBuffer
	}
	return s.write(sg.SGEs(), sg.Len(), dst, offset, userID)
}

func (s *Socket) write(sgl []verbs.SGE, length int, dst memory.RemoteMemoryRegion, offset int, userID uint32) error {
	if !dst.Covers(offset, length) {
		return api.ErrOutOfRange
	}
	return s.post(func(*CompletionContext) *verbs.SendWR {
		return &verbs.SendWR{
			ID:         encodeWRID(userID, memory.InvalidID, workWrite),
			Opcode:     verbs.OpRDMAWrite,
			SGL:        sgl,
			RemoteAddr: dst.Address + uint64(offset),
			RKey:       dst.Key,
		}
	})
}

func (s *Socket) post(build func(*CompletionContext) *verbs.SendWR) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != api.StateConnected {
		return api.ErrConnectionError.WithContext("state", s.state.String())
	}
	wr := build(s.context)
	if err := s.id.PostSend(wr); err != nil {
		return fmt.Errorf("transport: post %s: %w", wr.Opcode, err)
	}
	return nil
}

// BufferLength is the size of every pooled send and receive buffer.
func (s *Socket) BufferLength() int { return s.service.limits.BufferLength }

// AcquireSendBuffer takes a full-length buffer from the context's send pool.
// The result is invalid when the pool is exhausted.
func (s *Socket) AcquireSendBuffer() memory.Buffer {
	cc := s.completionContext()
	if cc == nil {
		return memory.InvalidBuffer()
	}
	return cc.sendPool.Acquire()
}

// AcquireSendBufferSize takes a pooled buffer trimmed to n bytes.
func (s *Socket) AcquireSendBufferSize(n int) memory.Buffer {
	cc := s.completionContext()
	if cc == nil {
		return memory.InvalidBuffer()
	}
	return cc.sendPool.AcquireSize(n)
}

// ReleaseSendBuffer returns a buffer that was acquired but never sent.
func (s *Socket) ReleaseSendBuffer(buf memory.Buffer) {
	cc := s.completionContext()
	if cc == nil || !cc.sendPool.Owns(buf) || !buf.Valid() {
		return
	}
	cc.sendPool.Release(buf.ID())
}

// Execute runs fn on the socket's completion context.
func (s *Socket) Execute(fn func()) error {
	cc := s.completionContext()
	if cc == nil {
		return ErrNotOpen
	}
	return cc.Execute(fn)
}

func (s *Socket) completionContext() *CompletionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.context
}

func (s *Socket) currentHandler() api.SocketHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

// dispatch runs fn on the completion context, or inline before one is set.
func (s *Socket) dispatch(fn func()) {
	cc := s.completionContext()
	if cc == nil {
		fn()
		return
	}
	if err := cc.Execute(fn); err != nil {
		s.service.log.Debug().Err(err).Msg("event dropped")
	}
}

func (s *Socket) setStateLocked(st api.SocketState) {
	s.log.Trace().
		Stringer("from", s.state).
		Stringer("to", st).
		Msg("socket state")
	s.state = st
}

func (s *Socket) illegalLocked(event string) {
	s.log.Error().
		Stringer("state", s.state).
		Str("event", event).
		Msg("event in illegal state dropped")
	s.service.metrics.Add("events.illegal", 1)
}

func (s *Socket) handleEvent(ev verbs.CMEvent) {
	switch ev.Type {
	case verbs.EventAddrResolved:
		s.onAddressResolved()
	case verbs.EventAddrError:
		s.onResolutionError(api.StateAddressResolving, api.ErrAddressResolution, ev)
	case verbs.EventRouteResolved:
		s.onRouteResolved()
	case verbs.EventRouteError:
		s.onResolutionError(api.StateRouteResolving, api.ErrRouteResolution, ev)
	case verbs.EventUnreachable:
		s.onConnectionError(api.ErrUnreachable, ev)
	case verbs.EventConnectError:
		s.onConnectionError(api.ErrConnectionError, ev)
	case verbs.EventRejected:
		s.onConnectionRejected(ev.PrivateData)
	case verbs.EventEstablished:
		s.onConnectionEstablished(ev.PrivateData)
	case verbs.EventDisconnected:
		s.onDisconnected()
	case verbs.EventTimewaitExit:
		s.onTimewaitExit()
	default:
		s.mu.Lock()
		s.illegalLocked(ev.Type.String())
		s.mu.Unlock()
	}
}

// fail moves a connecting socket to the error state and reports err once.
func (s *Socket) fail(err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(api.StateError)
	h := s.handler
	s.mu.Unlock()

	s.service.metrics.Add("connections.failed", 1)
	h.OnConnected(nil, err)
	s.finalize()
}

func (s *Socket) onAddressResolved() {
	s.mu.Lock()
	if s.state != api.StateAddressResolving {
		s.illegalLocked("address resolved")
		s.mu.Unlock()
		return
	}
	s.setStateLocked(api.StateRouteResolving)
	err := s.id.ResolveRoute(s.service.limits.ResolveTimeout)
	s.mu.Unlock()
	if err != nil {
		s.fail(api.ErrRouteResolution.WithContext("cause", err.Error()))
	}
}

func (s *Socket) onResolutionError(want api.SocketState, cause *api.Error, ev verbs.CMEvent) {
	s.mu.Lock()
	if s.state != want {
		s.illegalLocked(ev.Type.String())
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.fail(withStatus(cause, ev.Status))
}

func withStatus(e *api.Error, status error) *api.Error {
	if status == nil {
		return e
	}
	return e.WithContext("cause", status.Error())
}

func (s *Socket) onRouteResolved() {
	s.mu.Lock()
	if s.state != api.StateRouteResolving {
		s.illegalLocked("route resolved")
		s.mu.Unlock()
		return
	}
	s.setStateLocked(api.StateConnecting)
	err := s.id.CreateQP(s.context.qpConfig())
	if err == nil {
		s.service.table.bindQP(s.slot, s.id.QPNum())
		err = s.id.Connect(s.data.Bytes())
	}
	s.mu.Unlock()
	if err != nil {
		s.fail(api.ErrConnectionError.WithContext("cause", err.Error()))
	}
}

func (s *Socket) onConnectionError(cause *api.Error, ev verbs.CMEvent) {
	s.mu.Lock()
	if s.state != api.StateConnecting {
		s.illegalLocked(ev.Type.String())
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.fail(withStatus(cause, ev.Status))
}

func (s *Socket) onConnectionRejected(data []byte) {
	s.mu.Lock()
	if s.state != api.StateConnecting {
		s.illegalLocked("rejected")
		s.mu.Unlock()
		return
	}
	s.setStateLocked(api.StateError)
	h := s.handler
	s.mu.Unlock()

	s.service.metrics.Add("connections.rejected", 1)
	h.OnConnected(data, api.ErrConnectionError.WithContext("cause", "rejected"))
	s.finalize()
}

func (s *Socket) onConnectionEstablished(data []byte) {
	s.mu.Lock()
	if s.state != api.StateConnecting {
		s.illegalLocked("established")
		s.mu.Unlock()
		return
	}
	s.setStateLocked(api.StateConnected)
	h := s.handler
	s.mu.Unlock()

	s.service.metrics.Add("connections.established", 1)
	h.OnConnected(data, nil)
}

func (s *Socket) onDisconnected() {
	s.mu.Lock()
	switch s.state {
	case api.StateConnected:
		s.setStateLocked(api.StateDisconnecting)
		h := s.handler
		s.mu.Unlock()
		h.OnDisconnect()
	case api.StateDisconnecting:
		s.mu.Unlock()
	default:
		s.illegalLocked("disconnected")
		s.mu.Unlock()
	}
}

func (s *Socket) onTimewaitExit() {
	s.mu.Lock()
	if s.state != api.StateDisconnecting {
		s.illegalLocked("timewait exit")
		s.mu.Unlock()
		return
	}
	s.setStateLocked(api.StateDraining)
	err := s.id.PostDrain(drainWRID)
	if err != nil {
		s.log.Warn().Err(err).Msg("drain marker not posted")
	}
	s.mu.Unlock()
	if err != nil {
		s.onDrained()
	}
}

func (s *Socket) onDrained() {
	s.mu.Lock()
	if s.state != api.StateDraining {
		s.illegalLocked("drained")
		s.mu.Unlock()
		return
	}
	s.setStateLocked(api.StateDisconnected)
	h := s.handler
	s.mu.Unlock()

	h.OnDisconnected()
	s.finalize()
}

func (s *Socket) onReceive(data []byte, err error) { s.currentHandler().OnReceive(data, err) }
func (s *Socket) onSend(userID uint32, err error)  { s.currentHandler().OnSend(userID, err) }
func (s *Socket) onRead(userID uint32, err error)  { s.currentHandler().OnRead(userID, err) }
func (s *Socket) onWrite(userID uint32, err error) { s.currentHandler().OnWrite(userID, err) }

// accept answers the connection request on context cc.
func (s *Socket) accept(cc *CompletionContext, h api.SocketHandler, data api.PrivateData) error {
	s.mu.Lock()
	if s.state != api.StateConnecting || s.id == nil {
		s.mu.Unlock()
		return api.ErrConnectionError.WithContext("state", s.state.String())
	}
	s.context = cc
	if h != nil {
		s.handler = h
	}
	err := s.id.CreateQP(cc.qpConfig())
	if err == nil {
		s.service.table.bindQP(s.slot, s.id.QPNum())
		err = s.id.Accept(data.Bytes())
	}
	if err != nil {
		s.setStateLocked(api.StateError)
	}
	s.mu.Unlock()
	if err != nil {
		s.finalize()
		return api.ErrConnectionError.WithContext("cause", err.Error())
	}
	return nil
}

func (s *Socket) reject(data api.PrivateData) error {
	s.mu.Lock()
	if s.state != api.StateConnecting || s.id == nil {
		s.mu.Unlock()
		return api.ErrConnectionError.WithContext("state", s.state.String())
	}
	err := s.id.Reject(data.Bytes())
	s.setStateLocked(api.StateError)
	s.mu.Unlock()
	s.finalize()
	if err != nil {
		return api.ErrConnectionError.WithContext("cause", err.Error())
	}
	return nil
}
