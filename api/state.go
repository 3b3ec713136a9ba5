// File: api/state.go
// Author: momentics <momentics@gmail.com>
//
// Lifecycle states of a connected socket.

package api

// SocketState enumerates the connection lifecycle. States only move forward;
// StateError is reachable from every non-terminal state and is absorbing.
type SocketState int

const (
	StateIdle SocketState = iota
	StateAddressResolving
	StateRouteResolving
	StateConnecting
	StateConnected
	StateDisconnecting
	StateDraining
	StateDisconnected
	StateError
)

func (s SocketState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAddressResolving:
		return "address-resolving"
	case StateRouteResolving:
		return "route-resolving"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDraining:
		return "draining"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition leaves s.
func (s SocketState) Terminal() bool {
	return s == StateDisconnected || s == StateError
}
