package transport

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-verbs/control"
	"github.com/momentics/hioload-verbs/memory"
)

func bareService() *Service {
	return &Service{
		log:     zerolog.Nop(),
		limits:  control.DefaultLimits(),
		metrics: control.NewMetricsRegistry(),
		table:   newHandleTable(),
	}
}

func TestWorkRequestIDPacking(t *testing.T) {
	cases := []struct {
		user   uint32
		buffer uint16
		typ    workType
	}{
		{0, 0, workReceive},
		{12345, 77, workSend},
		{0xFFFFFFFF, memory.InvalidID, workWrite},
		{1, 0xFFFE, workRead},
	}
	for _, c := range cases {
		user, buffer, typ := decodeWRID(encodeWRID(c.user, c.buffer, c.typ))
		assert.Equal(t, c.user, user)
		assert.Equal(t, c.buffer, buffer)
		assert.Equal(t, c.typ, typ, typ.String())
	}

	_, buffer, typ := decodeWRID(drainWRID)
	assert.Equal(t, memory.InvalidID, buffer)
	assert.Equal(t, workDrain, typ)
	assert.Equal(t, "unknown", workType(99).String())
}

func TestHandleTableLookups(t *testing.T) {
	svc := bareService()
	s := newSocket(svc, nil, nil)

	ref := svc.table.insert(s, 42)
	assert.Same(t, s, svc.table.byConn(42))
	assert.Nil(t, svc.table.byQueuePair(7))
	assert.Equal(t, int32(2), s.refs.Load())

	require.True(t, svc.table.bindQP(ref, 7))
	assert.Same(t, s, svc.table.byQueuePair(7))
	assert.Equal(t, 1, svc.table.len())

	require.True(t, svc.table.remove(ref))
	assert.Nil(t, svc.table.byConn(42))
	assert.Nil(t, svc.table.byQueuePair(7))
	assert.False(t, svc.table.remove(ref))
	assert.Equal(t, int32(1), s.refs.Load())
	assert.Zero(t, svc.table.len())
}

func TestHandleTableRejectsStaleRefs(t *testing.T) {
	svc := bareService()
	a := newSocket(svc, nil, nil)
	b := newSocket(svc, nil, nil)

	first := svc.table.insert(a, 1)
	require.True(t, svc.table.remove(first))
	second := svc.table.insert(b, 2)

	assert.Equal(t, first.idx, second.idx)
	assert.NotEqual(t, first.gen, second.gen)
	assert.False(t, svc.table.bindQP(first, 9))
	assert.False(t, svc.table.remove(first))
	assert.Same(t, b, svc.table.byConn(2))
	assert.Nil(t, svc.table.byConn(1))
}

func TestSocketDestroyedOnLastRelease(t *testing.T) {
	svc := bareService()
	s := newSocket(svc, nil, nil)

	s.Retain()
	s.Release()
	assert.False(t, s.destroyed.Load())

	ref := svc.table.insert(s, 5)
	s.Release()
	assert.False(t, s.destroyed.Load(), "table reference keeps the socket alive")

	svc.table.remove(ref)
	assert.True(t, s.destroyed.Load())
	assert.Equal(t, int64(1), svc.metrics.Counter("sockets.destroyed").Load())
	assert.Panics(t, func() { s.Release() })
}

func TestSocketConcurrentHolders(t *testing.T) {
	const holders = 32
	svc := bareService()
	destroyed := svc.metrics.Counter("sockets.destroyed")

	release := func(s *Socket) {
		var wg sync.WaitGroup
		for i := 0; i < holders; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					s.Retain()
					s.Release()
				}
				s.Release()
			}()
		}
		wg.Wait()
	}

	owned := newSocket(svc, nil, nil)
	for i := 0; i < holders; i++ {
		owned.Retain()
	}
	release(owned)
	assert.False(t, owned.destroyed.Load())
	assert.Equal(t, int32(1), owned.refs.Load())
	assert.Zero(t, destroyed.Load())
	owned.Release()
	assert.True(t, owned.destroyed.Load())
	assert.Equal(t, int64(1), destroyed.Load())

	// The owner lets go first; whichever holder releases last destroys it.
	shared := newSocket(svc, nil, nil)
	for i := 0; i < holders; i++ {
		shared.Retain()
	}
	shared.Release()
	release(shared)
	assert.True(t, shared.destroyed.Load())
	assert.Equal(t, int64(2), destroyed.Load())
}
