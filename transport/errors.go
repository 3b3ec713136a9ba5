package transport

import "errors"

// Transport errors for misuse of the Go API. Failures of the connection
// itself are reported with the api error domains.
var (
	ErrRequestConsumed = errors.New("transport: connection request already answered")
	ErrServiceClosed   = errors.New("transport: service closed")
	ErrAlreadyRunning  = errors.New("transport: service already running")
	ErrNotOpen         = errors.New("transport: not open")
	ErrNoContext       = errors.New("transport: no such completion context")
)
