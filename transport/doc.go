// Package transport
// Author: momentics <momentics@gmail.com>
//
// Connection-oriented zero-copy transport on top of a verbs provider.
//
// A Service owns the provider and one or more completion contexts. Each
// context is a single goroutine that polls its completion queue, recycles
// its receive buffers and runs every callback of the sockets bound to it.
// Connection manager events are read by the service and handed to the
// owning context, so a socket's handler never runs concurrently with itself.
//
// Sockets move forward through resolution, connection, disconnect and drain.
// OnDisconnected is delivered only after every work request posted on the
// socket has completed.
package transport
