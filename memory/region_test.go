package memory_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-verbs/api"
	"github.com/momentics/hioload-verbs/memory"
	"github.com/momentics/hioload-verbs/verbs"
	"github.com/momentics/hioload-verbs/verbs/soft"
)

func TestAcquireBufferRange(t *testing.T) {
	pd := soft.NewProtectionDomain()
	region, err := memory.Register(pd, make([]byte, 128), verbs.AccessLocalWrite)
	require.NoError(t, err)
	defer region.Deregister()

	cases := []struct {
		offset, length int
		valid          bool
	}{
		{0, 128, true},
		{64, 64, true},
		{128, 0, true},
		{64, 65, false},
		{129, 0, false},
		{-1, 4, false},
		{1, math.MaxInt, false},
		{math.MaxInt, 1, false},
	}
	for _, c := range cases {
		buf := region.AcquireBuffer(7, c.offset, c.length)
		assert.Equal(t, c.valid, buf.Valid(), "offset=%d length=%d", c.offset, c.length)
		if c.valid {
			assert.Equal(t, uint16(7), buf.ID())
			assert.Equal(t, c.length, buf.Len())
			assert.Equal(t, region.LKey(), buf.LKey())
		} else {
			assert.Equal(t, memory.InvalidID, buf.ID())
		}
	}
}

func TestBufferSharesRegionMemory(t *testing.T) {
	pd := soft.NewProtectionDomain()
	region, err := memory.Register(pd, make([]byte, 16), verbs.AccessLocalWrite)
	require.NoError(t, err)

	buf := region.AcquireBuffer(0, 4, 4)
	copy(buf.Data(), "abcd")
	assert.Equal(t, []byte("abcd"), region.Bytes()[4:8])
}

func TestDeregisterTwice(t *testing.T) {
	pd := soft.NewProtectionDomain()
	region, err := memory.Register(pd, make([]byte, 16), verbs.AccessLocalWrite)
	require.NoError(t, err)

	require.NoError(t, region.Deregister())
	assert.False(t, region.Registered())
	assert.True(t, errors.Is(region.Deregister(), memory.ErrNotRegistered))
}

func TestRegisterRejectsInvalidAccess(t *testing.T) {
	pd := soft.NewProtectionDomain()
	_, err := memory.Register(pd, make([]byte, 16), verbs.AccessRemoteWrite)
	assert.Error(t, err)
}

func TestAllocatedRegionClose(t *testing.T) {
	pd := soft.NewProtectionDomain()
	region, err := memory.Allocate(pd, 4096, verbs.AccessLocalWrite|verbs.AccessRemoteRead)
	require.NoError(t, err)
	require.Equal(t, 4096, region.Length())

	region.Bytes()[4095] = 1
	require.NoError(t, region.Close())
	assert.False(t, region.Registered())
	assert.True(t, errors.Is(region.Close(), memory.ErrNotRegistered))
}

func TestScatterGather(t *testing.T) {
	pd := soft.NewProtectionDomain()
	region, err := memory.Register(pd, make([]byte, 64), verbs.AccessLocalWrite)
	require.NoError(t, err)

	sg := memory.NewScatterGatherBuffer(3)
	require.NoError(t, sg.Add(region, 0, 8))
	buf := region.AcquireBuffer(1, 16, 16)
	require.NoError(t, sg.AddBuffer(buf, 4, 12))
	assert.Equal(t, 2, sg.Count())
	assert.Equal(t, 20, sg.Len())

	assert.True(t, errors.Is(sg.AddBuffer(buf, 8, 9), api.ErrOutOfRange))
	assert.True(t, errors.Is(sg.Add(region, 60, 8), api.ErrOutOfRange))
	assert.True(t, errors.Is(sg.AddBuffer(memory.InvalidBuffer(), 0, 0), api.ErrInvalidBuffer))
	assert.True(t, errors.Is(sg.Add(region, 1, math.MaxInt), api.ErrOutOfRange))
	assert.True(t, errors.Is(sg.AddBuffer(buf, 1, math.MaxInt), api.ErrOutOfRange))
	assert.Equal(t, 20, sg.Len())

	gone, err := memory.Register(pd, make([]byte, 16), verbs.AccessLocalWrite)
	require.NoError(t, err)
	require.NoError(t, gone.Deregister())
	assert.True(t, errors.Is(sg.Add(gone, 0, 8), memory.ErrNotRegistered))
	assert.Equal(t, 2, sg.Count())

	sg.Reset()
	assert.Zero(t, sg.Len())
	assert.Zero(t, sg.Count())
}

func TestRemoteRegionEncoding(t *testing.T) {
	pd := soft.NewProtectionDomain()
	region, err := memory.Register(pd, make([]byte, 256), verbs.AccessLocalWrite|verbs.AccessRemoteWrite)
	require.NoError(t, err)

	remote := region.Remote()
	b, err := remote.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, memory.RemoteRegionSize)
	require.LessOrEqual(t, len(b), api.MaxPrivateData)

	var decoded memory.RemoteMemoryRegion
	require.NoError(t, decoded.UnmarshalBinary(b))
	assert.Equal(t, remote, decoded)
	assert.True(t, decoded.Covers(200, 56))
	assert.False(t, decoded.Covers(200, 57))

	assert.True(t, errors.Is(decoded.UnmarshalBinary(b[:10]), api.ErrInvalidMessage))
}
