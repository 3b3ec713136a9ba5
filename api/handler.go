// File: api/handler.go
// Package api defines the socket callback contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// SocketHandler receives the asynchronous outcomes of a socket. All methods of
// one socket run on the goroutine of its completion context, one at a time.
//
// OnReceive may run before OnConnected when the peer sends right away.
// Data passed to OnReceive is only valid for the duration of the call.
type SocketHandler interface {
	// OnConnected reports the end of connection setup. data is the peer's
	// private data, err is non-nil when the attempt failed.
	OnConnected(data []byte, err error)
	OnReceive(data []byte, err error)
	OnSend(userID uint32, err error)
	OnRead(userID uint32, err error)
	OnWrite(userID uint32, err error)
	// OnDisconnect reports a disconnect started by the peer. The handler
	// should answer with Disconnect.
	OnDisconnect()
	// OnDisconnected runs once every in-flight operation has been drained.
	OnDisconnected()
}

// NopSocketHandler implements SocketHandler with no-ops. Embed it to override
// only the callbacks of interest.
type NopSocketHandler struct{}

func (NopSocketHandler) OnConnected([]byte, error) {}
func (NopSocketHandler) OnReceive([]byte, error)   {}
func (NopSocketHandler) OnSend(uint32, error)      {}
func (NopSocketHandler) OnRead(uint32, error)      {}
func (NopSocketHandler) OnWrite(uint32, error)     {}
func (NopSocketHandler) OnDisconnect()             {}
func (NopSocketHandler) OnDisconnected()           {}

var _ SocketHandler = NopSocketHandler{}
