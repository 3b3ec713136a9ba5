// Package api
// Author: momentics <momentics@gmail.com>
//
// Error domains and typed errors shared by the transport packages.

package api

import (
	"errors"
	"fmt"
)

// Domain groups error codes that share a meaning space.
type Domain int

const (
	DomainUnknown Domain = iota
	// DomainRPC codes are reserved for layers built on top of the transport.
	DomainRPC
	// DomainNetwork codes describe connection setup and local precondition failures.
	DomainNetwork
	// DomainCompletion carries the status of a failed work completion.
	DomainCompletion
)

func (d Domain) String() string {
	switch d {
	case DomainRPC:
		return "rpc"
	case DomainNetwork:
		return "network"
	case DomainCompletion:
		return "completion"
	default:
		return "unknown"
	}
}

// ErrorCode is a code inside a Domain. Codes of different domains overlap.
type ErrorCode int

// rpc domain.
const (
	CodeNoResponse ErrorCode = iota + 1
	CodeInvalidMessage
	CodeWrongType
	CodeMessageTooBig
)

// network domain.
const (
	CodeAlreadyOpen ErrorCode = iota + 1
	CodeAddressResolution
	CodeRouteResolution
	CodeUnreachable
	CodeConnectionError
	CodeInvalidBuffer
	CodeOutOfRange
)

// Error represents a structured error with domain, code and context.
// Two errors match under errors.Is when domain and code are equal.
type Error struct {
	Domain  Domain
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Is reports whether target is an *Error with the same domain and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Domain == t.Domain && e.Code == t.Code
}

// NewError creates a new structured error.
func NewError(domain Domain, code ErrorCode, message string) *Error {
	return &Error{
		Domain:  domain,
		Code:    code,
		Message: message,
	}
}

// NewCompletionError wraps a provider completion status.
func NewCompletionError(status int, message string) *Error {
	return NewError(DomainCompletion, ErrorCode(status), message)
}

// WithContext returns a copy of e carrying one more context entry.
// Package sentinels are never mutated.
func (e *Error) WithContext(key string, value any) *Error {
	out := &Error{
		Domain:  e.Domain,
		Code:    e.Code,
		Message: e.Message,
		Context: make(map[string]any, len(e.Context)+1),
	}
	for k, v := range e.Context {
		out.Context[k] = v
	}
	out.Context[key] = value
	return out
}

// DomainOf returns the domain of the first *Error in err's chain.
func DomainOf(err error) Domain {
	var e *Error
	if errors.As(err, &e) {
		return e.Domain
	}
	return DomainUnknown
}

// rpc domain sentinels.
var (
	ErrNoResponse     = NewError(DomainRPC, CodeNoResponse, "No response received")
	ErrInvalidMessage = NewError(DomainRPC, CodeInvalidMessage, "Message is invalid")
	ErrWrongType      = NewError(DomainRPC, CodeWrongType, "Message type does not match")
	ErrMessageTooBig  = NewError(DomainRPC, CodeMessageTooBig, "Tried to write a message exceeding the buffer size")
)

// network domain sentinels.
var (
	ErrAlreadyOpen       = NewError(DomainNetwork, CodeAlreadyOpen, "Already open")
	ErrAddressResolution = NewError(DomainNetwork, CodeAddressResolution, "Address resolution failed")
	ErrRouteResolution   = NewError(DomainNetwork, CodeRouteResolution, "Route resolution failed")
	ErrUnreachable       = NewError(DomainNetwork, CodeUnreachable, "Remote unreachable")
	ErrConnectionError   = NewError(DomainNetwork, CodeConnectionError, "Connection error")
	ErrInvalidBuffer     = NewError(DomainNetwork, CodeInvalidBuffer, "Buffer is invalid")
	ErrOutOfRange        = NewError(DomainNetwork, CodeOutOfRange, "Memory access out of range")
)
