// File: transport/service.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Service owns the provider, the protection domain and the completion
// contexts. It routes connection manager events to sockets.

package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-verbs/api"
	"github.com/momentics/hioload-verbs/control"
	"github.com/momentics/hioload-verbs/memory"
	"github.com/momentics/hioload-verbs/verbs"
)

// Service is the entry point of the transport.
type Service struct {
	log      zerolog.Logger
	limits   control.Limits
	provider verbs.Provider
	pd       verbs.ProtectionDomain
	contexts []*CompletionContext
	table    *handleTable
	metrics  *control.MetricsRegistry
	probes   *control.DebugProbes

	amu       sync.RWMutex
	acceptors map[uint64]*Acceptor

	next uint32

	mu     sync.Mutex
	stop   context.CancelFunc
	done   chan struct{}
	closed bool
}

// NewService prepares the completion contexts and posts their receive
// buffers. Events flow once Run is called.
func NewService(provider verbs.Provider, opts ...Option) (*Service, error) {
	s := &Service{
		log:       zerolog.Nop(),
		limits:    control.DefaultLimits(),
		provider:  provider,
		table:     newHandleTable(),
		probes:    control.NewDebugProbes(),
		acceptors: make(map[uint64]*Acceptor),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = control.NewMetricsRegistry()
	}
	if err := s.limits.Validate(); err != nil {
		return nil, err
	}
	s.log = s.log.With().Str("component", "transport").Logger()
	s.pd = provider.ProtectionDomain()

	for i := 0; i < s.limits.ContextCount; i++ {
		cc, err := newCompletionContext(s, i)
		if err != nil {
			for _, prev := range s.contexts {
				_ = prev.close()
			}
			return nil, fmt.Errorf("transport: completion context %d: %w", i, err)
		}
		s.contexts = append(s.contexts, cc)
	}

	control.RegisterPlatformProbes(s.probes)
	s.probes.RegisterProbe("transport.sockets", func() any { return s.table.len() })
	s.probes.RegisterProbe("transport.acceptors", func() any {
		s.amu.RLock()
		defer s.amu.RUnlock()
		return len(s.acceptors)
	})
	s.log.Debug().
		Int("contexts", len(s.contexts)).
		Int("buffer_length", s.limits.BufferLength).
		Msg("service created")
	return s, nil
}

// Run drives the connection manager loop and every completion context until
// ctx is cancelled, Shutdown is called or the provider goes away.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServiceClosed
	}
	if s.done != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	done := make(chan struct{})
	s.stop, s.done = cancel, done
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.stop, s.done = nil, nil
		s.mu.Unlock()
		close(done)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.eventLoop(gctx) })
	for _, cc := range s.contexts {
		cc := cc
		g.Go(func() error { return cc.run(gctx) })
	}
	err := g.Wait()
	if err == nil || errors.Is(err, verbs.ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown stops Run, closes the provider and frees the buffer pools.
// Sockets still referenced by the application stay valid but inert.
func (s *Service) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServiceClosed
	}
	s.closed = true
	stop, done := s.stop, s.done
	s.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}

	var errs []error
	if err := s.provider.Close(); err != nil && !errors.Is(err, verbs.ErrClosed) {
		errs = append(errs, err)
	}
	for _, cc := range s.contexts {
		errs = append(errs, cc.close())
	}
	s.log.Debug().Msg("service shut down")
	return errors.Join(errs...)
}

func (s *Service) eventLoop(ctx context.Context) error {
	events := s.provider.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return verbs.ErrClosed
			}
			s.dispatch(ev)
		}
	}
}

func (s *Service) dispatch(ev verbs.CMEvent) {
	s.metrics.Add("cm.events", 1)
	if ev.Type == verbs.EventConnectRequest {
		s.onConnectRequest(ev)
		return
	}
	sock := s.table.byConn(ev.ID.Handle())
	if sock == nil {
		s.log.Debug().
			Stringer("event", ev.Type).
			Uint64("id", ev.ID.Handle()).
			Msg("event for unknown id dropped")
		return
	}
	sock.dispatch(func() { sock.handleEvent(ev) })
}

func (s *Service) onConnectRequest(ev verbs.CMEvent) {
	var a *Acceptor
	if ev.Listener != nil {
		s.amu.RLock()
		a = s.acceptors[ev.Listener.Handle()]
		s.amu.RUnlock()
	}
	if a == nil {
		s.log.Warn().Uint64("id", ev.ID.Handle()).Msg("connection request without acceptor rejected")
		_ = ev.ID.Reject(nil)
		_ = ev.ID.Destroy()
		return
	}

	sock := newSocket(s, nil, nil)
	sock.mu.Lock()
	sock.attachLocked(ev.ID)
	sock.setStateLocked(api.StateConnecting)
	sock.mu.Unlock()

	s.metrics.Add("connections.requested", 1)
	a.onConnection(&ConnectionRequest{
		service: s,
		socket:  sock,
		data:    ev.PrivateData,
	})
}

func (s *Service) registerAcceptor(handle uint64, a *Acceptor) {
	s.amu.Lock()
	s.acceptors[handle] = a
	s.amu.Unlock()
}

func (s *Service) unregisterAcceptor(handle uint64) {
	s.amu.Lock()
	delete(s.acceptors, handle)
	s.amu.Unlock()
}

// pickContext returns context i, or the next one round robin when i < 0.
func (s *Service) pickContext(i int) (*CompletionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrServiceClosed
	}
	if i < 0 {
		i = int(s.next % uint32(len(s.contexts)))
		s.next++
	}
	if i >= len(s.contexts) {
		return nil, fmt.Errorf("%w: %d", ErrNoContext, i)
	}
	return s.contexts[i], nil
}

// NewSocket returns an idle socket. The caller holds the only reference.
func (s *Service) NewSocket(handler api.SocketHandler, opts ...SocketOption) (*Socket, error) {
	st := socketSettings{context: -1}
	for _, opt := range opts {
		opt(&st)
	}
	cc, err := s.pickContext(st.context)
	if err != nil {
		return nil, err
	}
	return newSocket(s, cc, handler), nil
}

// NewAcceptor returns a closed acceptor. Open, Bind and Listen it to receive
// connection requests.
func (s *Service) NewAcceptor(handler AcceptorHandler) *Acceptor {
	return &Acceptor{
		service: s,
		log:     s.log,
		handler: handler,
	}
}

// RegisterMemory registers caller memory for local and remote access.
func (s *Service) RegisterMemory(data []byte, access verbs.AccessFlags) (*memory.LocalMemoryRegion, error) {
	return memory.Register(s.pd, data, access)
}

// AllocateMemoryRegion maps and registers length bytes.
func (s *Service) AllocateMemoryRegion(length int, access verbs.AccessFlags) (*memory.AllocatedMemoryRegion, error) {
	return memory.Allocate(s.pd, length, access)
}

// Context returns completion context i.
func (s *Service) Context(i int) (*CompletionContext, error) {
	if i < 0 || i >= len(s.contexts) {
		return nil, fmt.Errorf("%w: %d", ErrNoContext, i)
	}
	return s.contexts[i], nil
}

// sendPoolOwner returns the context whose send pool buf was taken from.
func (s *Service) sendPoolOwner(buf memory.Buffer) *CompletionContext {
	for _, cc := range s.contexts {
		if cc.sendPool.Owns(buf) {
			return cc
		}
	}
	return nil
}

func (s *Service) ContextCount() int      { return len(s.contexts) }
func (s *Service) Limits() control.Limits { return s.limits }

// Stats merges counters with the registered probes.
func (s *Service) Stats() map[string]any {
	out := s.metrics.GetSnapshot()
	for k, v := range s.probes.DumpState() {
		out[k] = v
	}
	return out
}
