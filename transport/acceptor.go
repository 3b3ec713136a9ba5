// File: transport/acceptor.go
// Author: momentics <momentics@gmail.com>

package transport

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-verbs/api"
	"github.com/momentics/hioload-verbs/verbs"
)

// AcceptorHandler decides on incoming connection requests. OnConnection runs
// on the service's event goroutine and must answer the request, either
// inline or later from any goroutine.
type AcceptorHandler interface {
	OnConnection(req *ConnectionRequest)
}

// AcceptorHandlerFunc adapts a function to AcceptorHandler.
type AcceptorHandlerFunc func(req *ConnectionRequest)

func (f AcceptorHandlerFunc) OnConnection(req *ConnectionRequest) { f(req) }

// Acceptor listens for connection requests on a local endpoint.
type Acceptor struct {
	service *Service
	log     zerolog.Logger

	mu      sync.Mutex
	id      verbs.ConnID
	handler AcceptorHandler
}

// Open allocates the listening id.
func (a *Acceptor) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.id != nil {
		return api.ErrAlreadyOpen
	}
	id, err := a.service.provider.CreateID()
	if err != nil {
		return fmt.Errorf("transport: open acceptor: %w", err)
	}
	a.id = id
	a.log = a.service.log.With().Uint64("acceptor", id.Handle()).Logger()
	a.service.registerAcceptor(id.Handle(), a)
	return nil
}

func (a *Acceptor) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.id != nil
}

// Bind attaches the acceptor to ep.
func (a *Acceptor) Bind(ep api.Endpoint) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.id == nil {
		return ErrNotOpen
	}
	if err := a.id.Bind(ep); err != nil {
		return fmt.Errorf("transport: bind %s: %w", ep, err)
	}
	return nil
}

// Listen starts delivering connection requests to the handler.
func (a *Acceptor) Listen(backlog int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.id == nil {
		return ErrNotOpen
	}
	if err := a.id.Listen(backlog); err != nil {
		return fmt.Errorf("transport: listen: %w", err)
	}
	a.log.Debug().Int("backlog", backlog).Msg("listening")
	return nil
}

// Close stops listening. Sockets already accepted are not affected.
func (a *Acceptor) Close() error {
	a.mu.Lock()
	id := a.id
	a.id = nil
	a.mu.Unlock()
	if id == nil {
		return nil
	}
	a.service.unregisterAcceptor(id.Handle())
	return id.Destroy()
}

func (a *Acceptor) SetHandler(h AcceptorHandler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

func (a *Acceptor) onConnection(req *ConnectionRequest) {
	a.mu.Lock()
	h := a.handler
	a.mu.Unlock()
	if h == nil {
		a.log.Warn().Msg("no acceptor handler, rejecting connection")
		_ = req.Reject(api.PrivateData{})
		return
	}
	h.OnConnection(req)
}
