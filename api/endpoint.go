// File: api/endpoint.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import (
	"fmt"
	"net"
	"strconv"
)

// Family selects the address family of an Endpoint.
type Family int

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

func (f Family) String() string {
	if f == FamilyIPv6 {
		return "ipv6"
	}
	return "ipv4"
}

// Endpoint is an immutable network address.
type Endpoint struct {
	family Family
	host   string
	port   uint16
}

// NewEndpoint returns the wildcard endpoint of family on port.
func NewEndpoint(family Family, port uint16) Endpoint {
	host := "0.0.0.0"
	if family == FamilyIPv6 {
		host = "::"
	}
	return Endpoint{family: family, host: host, port: port}
}

// NewHostEndpoint returns an endpoint for host, which may be a name or a literal.
func NewHostEndpoint(family Family, host string, port uint16) Endpoint {
	return Endpoint{family: family, host: host, port: port}
}

// ParseEndpoint parses "host:port". The family follows the host literal,
// names default to IPv4.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("api: parse endpoint %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("api: parse endpoint port %q: %w", portStr, err)
	}
	family := FamilyIPv4
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		family = FamilyIPv6
	}
	if host == "" {
		return NewEndpoint(family, uint16(port)), nil
	}
	return NewHostEndpoint(family, host, uint16(port)), nil
}

func (e Endpoint) Family() Family { return e.family }
func (e Endpoint) Host() string   { return e.host }
func (e Endpoint) Port() uint16   { return e.port }

// IsZero reports whether e was never initialized.
func (e Endpoint) IsZero() bool {
	return e.host == "" && e.port == 0
}

// String renders e as host:port.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.host, strconv.Itoa(int(e.port)))
}
