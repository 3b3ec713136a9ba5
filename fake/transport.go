// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides an in-memory network for the software verbs provider and
// recording handlers with predictable, observable behavior.

package fake

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
)

// ErrUnknownHost is returned by Resolve for hosts never added.
var ErrUnknownHost = errors.New("fake: unknown host")

// Network is an in-memory network. Listeners are keyed by address string and
// connections are net.Pipe pairs.
type Network struct {
	mu        sync.Mutex
	listeners map[string]*listener
	hosts     map[string]string
	dialErr   error
	dials     int
}

// NewNetwork returns an empty network that resolves IP literals and localhost.
func NewNetwork() *Network {
	return &Network{
		listeners: make(map[string]*listener),
		hosts:     map[string]string{"localhost": "127.0.0.1"},
	}
}

// AddHost makes name resolve to addr.
func (n *Network) AddHost(name, addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hosts[name] = addr
}

// SetDialError makes every following Dial fail with err; nil restores dialing.
func (n *Network) SetDialError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dialErr = err
}

// Dials counts Dial calls.
func (n *Network) Dials() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials
}

func (n *Network) Resolve(_ context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if addr, ok := n.hosts[host]; ok {
		return addr, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownHost, host)
}

func (n *Network) Listen(addr string) (net.Listener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.listeners[addr]; ok {
		return nil, fmt.Errorf("fake: listen %s: %w", addr, syscall.EADDRINUSE)
	}
	l := &listener{
		net:   n,
		addr:  pipeAddr(addr),
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}
	n.listeners[addr] = l
	return l, nil
}

func (n *Network) Dial(ctx context.Context, addr string) (net.Conn, error) {
	n.mu.Lock()
	n.dials++
	l, ok := n.lookupLocked(addr)
	dialErr := n.dialErr
	n.mu.Unlock()
	if dialErr != nil {
		return nil, dialErr
	}
	if !ok {
		return nil, fmt.Errorf("fake: dial %s: %w", addr, syscall.ECONNREFUSED)
	}
	client, server := net.Pipe()
	select {
	case l.conns <- server:
		return client, nil
	case <-l.done:
		return nil, fmt.Errorf("fake: dial %s: %w", addr, syscall.ECONNREFUSED)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lookupLocked finds the listener for addr, falling back to wildcard binds
// on the same port.
func (n *Network) lookupLocked(addr string) (*listener, bool) {
	if l, ok := n.listeners[addr]; ok {
		return l, true
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, false
	}
	for _, host := range []string{"0.0.0.0", "::"} {
		if l, ok := n.listeners[net.JoinHostPort(host, port)]; ok {
			return l, true
		}
	}
	return nil, false
}

func (n *Network) remove(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.listeners, addr)
}

type listener struct {
	net   *Network
	addr  pipeAddr
	conns chan net.Conn
	once  sync.Once
	done  chan struct{}
}

func (l *listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *listener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.net.remove(string(l.addr))
	})
	return nil
}

func (l *listener) Addr() net.Addr { return l.addr }

type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }
