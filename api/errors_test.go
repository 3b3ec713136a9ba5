package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesDomainAndCode(t *testing.T) {
	wrapped := fmt.Errorf("connect: %w", ErrUnreachable.WithContext("host", "10.0.0.1"))

	assert.True(t, errors.Is(wrapped, ErrUnreachable))
	assert.False(t, errors.Is(wrapped, ErrConnectionError))
	assert.Equal(t, DomainNetwork, DomainOf(wrapped))
	assert.Contains(t, wrapped.Error(), "Remote unreachable")
}

func TestErrorCodesOverlapAcrossDomains(t *testing.T) {
	// rpc no-response and network already-open share code 1.
	require.Equal(t, ErrNoResponse.Code, ErrAlreadyOpen.Code)
	assert.False(t, errors.Is(ErrNoResponse, ErrAlreadyOpen))

	completion := NewCompletionError(int(CodeNoResponse), "remote access error")
	assert.False(t, errors.Is(completion, ErrNoResponse))
	assert.Equal(t, DomainCompletion, DomainOf(completion))
}

func TestWithContextLeavesSentinelUntouched(t *testing.T) {
	e := ErrOutOfRange.WithContext("offset", 12)

	assert.Empty(t, ErrOutOfRange.Context)
	assert.Equal(t, 12, e.Context["offset"])
	assert.True(t, errors.Is(e, ErrOutOfRange))
}

func TestDomainOfForeignError(t *testing.T) {
	assert.Equal(t, DomainUnknown, DomainOf(errors.New("plain")))
	assert.Equal(t, "unknown", DomainUnknown.String())
}
