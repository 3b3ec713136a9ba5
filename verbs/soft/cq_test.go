package soft

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-verbs/verbs"
)

func TestTakeReceiveStopsOnClose(t *testing.T) {
	cq := newCompletionQueue(4, zerolog.Nop())
	never := func() bool { return false }

	require.NoError(t, cq.PostReceive(verbs.RecvWR{ID: 1}))
	require.NoError(t, cq.PostReceive(verbs.RecvWR{ID: 2}))
	wr, ok := cq.takeReceive(never)
	require.True(t, ok)
	assert.Equal(t, uint64(1), wr.ID)

	require.NoError(t, cq.Close())
	_, ok = cq.takeReceive(never)
	assert.False(t, ok, "posted receives are not handed out after close")
	assert.ErrorIs(t, cq.PostReceive(verbs.RecvWR{ID: 3}), verbs.ErrClosed)
	assert.ErrorIs(t, cq.Close(), verbs.ErrClosed)
}

func TestTakeReceiveHonoursStop(t *testing.T) {
	cq := newCompletionQueue(4, zerolog.Nop())
	require.NoError(t, cq.PostReceive(verbs.RecvWR{ID: 1}))

	_, ok := cq.takeReceive(func() bool { return true })
	assert.False(t, ok)

	cq = newCompletionQueue(4, zerolog.Nop())
	done := make(chan bool, 1)
	stopped := false
	go func() {
		_, ok := cq.takeReceive(func() bool { return stopped })
		done <- ok
	}()
	cq.mu.Lock()
	stopped = true
	cq.mu.Unlock()
	cq.wake()
	assert.False(t, <-done)
}
