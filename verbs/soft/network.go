package soft

import (
	"context"
	"net"
)

// Network carries the byte streams underneath soft connections.
type Network interface {
	// Resolve maps a host to the address Dial accepts.
	Resolve(ctx context.Context, host string) (string, error)
	Listen(addr string) (net.Listener, error)
	Dial(ctx context.Context, addr string) (net.Conn, error)
}

// TCP is the default Network.
type TCP struct {
	Dialer   net.Dialer
	Resolver *net.Resolver
}

func (t *TCP) Resolve(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}
	r := t.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	return addrs[0], nil
}

func (t *TCP) Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

func (t *TCP) Dial(ctx context.Context, addr string) (net.Conn, error) {
	c, err := t.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return c, nil
}
