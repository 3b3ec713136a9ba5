package control

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLimits(t *testing.T) {
	l := DefaultLimits()
	require.NoError(t, l.Validate())
	assert.Equal(t, 64, l.ReceiveBufferCount)
	assert.Equal(t, 64, l.SendBufferCount)
	assert.Equal(t, 256, l.BufferLength)
	assert.Equal(t, 64, l.SendQueueLength)
	assert.Equal(t, 128, l.CompletionQueueLength)
	assert.Equal(t, 1000000, l.PollCycles)
	assert.Equal(t, -1, l.PinCPU(0))
}

func TestParseLimitsKeepsDefaults(t *testing.T) {
	l, err := ParseLimits([]byte("buffer_length: 4096\ncontext_count: 2\nresolve_timeout: 500ms\npin_cpus: [2, 3]\n"))
	require.NoError(t, err)
	assert.Equal(t, 4096, l.BufferLength)
	assert.Equal(t, 2, l.ContextCount)
	assert.Equal(t, 500*time.Millisecond, l.ResolveTimeout)
	assert.Equal(t, 64, l.SendBufferCount)
	assert.Equal(t, 3, l.PinCPU(1))
	assert.Equal(t, 2, l.PinCPU(2))
}

func TestParseLimitsRejectsInvalid(t *testing.T) {
	_, err := ParseLimits([]byte("send_queue_length: 0\n"))
	assert.ErrorContains(t, err, "send_queue_length")

	_, err = ParseLimits([]byte("buffer_length: 33554432\n"))
	assert.ErrorContains(t, err, "buffer_length")

	_, err = ParseLimits([]byte("receive_buffer_count: [\n"))
	assert.Error(t, err)
}

func TestLoadLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll_cycles: 10\n"), 0o600))

	l, err := LoadLimits(path)
	require.NoError(t, err)
	assert.Equal(t, 10, l.PollCycles)

	_, err = LoadLimits(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMetricsSnapshot(t *testing.T) {
	mr := NewMetricsRegistry()
	mr.Add("completions", 3)
	mr.Counter("completions").Add(2)
	mr.Set("sockets", 7)

	snap := mr.GetSnapshot()
	assert.Equal(t, int64(5), snap["completions"])
	assert.Equal(t, 7, snap["sockets"])
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)
	dp.RegisterProbe("answer", func() any { return 42 })

	state := dp.DumpState()
	assert.Equal(t, 42, state["answer"])
	assert.Contains(t, dp.Names(), "platform.cpus")

	dp.UnregisterProbe("answer")
	assert.NotContains(t, dp.Names(), "answer")
}
