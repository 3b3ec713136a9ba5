// File: transport/options.go
// Functional options for the service, sockets and accepted connections.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-verbs/api"
	"github.com/momentics/hioload-verbs/control"
)

// Option customizes service initialization.
type Option func(*Service)

// WithLogger sets the service logger. Sockets derive child loggers from it.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}

// WithLimits overrides the default sizing.
func WithLimits(l control.Limits) Option {
	return func(s *Service) {
		s.limits = l
	}
}

// WithMetrics shares an existing registry.
func WithMetrics(m *control.MetricsRegistry) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

type socketSettings struct {
	context int
}

// SocketOption customizes NewSocket.
type SocketOption func(*socketSettings)

// OnCompletionContext pins the socket to completion context i instead of
// picking one round robin.
func OnCompletionContext(i int) SocketOption {
	return func(s *socketSettings) {
		s.context = i
	}
}

type acceptSettings struct {
	data    api.PrivateData
	context int
}

// AcceptOption customizes ConnectionRequest.Accept.
type AcceptOption func(*acceptSettings)

// WithAcceptData sends data back to the initiator.
func WithAcceptData(data api.PrivateData) AcceptOption {
	return func(a *acceptSettings) {
		a.data = data
	}
}

// WithCompletionContext runs the accepted socket on completion context i.
func WithCompletionContext(i int) AcceptOption {
	return func(a *acceptSettings) {
		a.context = i
	}
}
