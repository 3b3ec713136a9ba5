package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferWrapAround(t *testing.T) {
	r := NewRingBuffer[int](3)
	require.Equal(t, 4, r.Cap())

	for round := 0; round < 3; round++ {
		for i := 0; i < 4; i++ {
			require.True(t, r.Enqueue(round*10+i))
		}
		assert.False(t, r.Enqueue(99))

		batch := make([]int, 8)
		n := r.DequeueBatch(batch)
		require.Equal(t, 4, n)
		assert.Equal(t, []int{round * 10, round*10 + 1, round*10 + 2, round*10 + 3}, batch[:n])
		assert.Zero(t, r.Len())
	}
	_, ok := r.Dequeue()
	assert.False(t, ok)
}

func TestTaskQueueOrderAcrossProducers(t *testing.T) {
	q := NewTaskQueue()
	var wg sync.WaitGroup
	results := make(map[int][]int)
	var mu sync.Mutex

	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				i := i
				q.Push(func() {
					mu.Lock()
					results[p] = append(results[p], i)
					mu.Unlock()
				})
			}
		}(p)
	}
	wg.Wait()

	total := 0
	for q.Len() > 0 {
		total += q.Drain(16)
	}
	assert.Equal(t, 400, total)
	for p := 0; p < 4; p++ {
		require.Len(t, results[p], 100)
		for i, v := range results[p] {
			assert.Equal(t, i, v)
		}
	}
}

func TestTaskQueueClose(t *testing.T) {
	q := NewTaskQueue()
	ran := false
	require.True(t, q.Push(func() { ran = true }))
	q.Close()
	assert.False(t, q.Push(func() {}))
	assert.Equal(t, 1, q.Drain(10))
	assert.True(t, ran)
}

func TestBackoffWakesOnNotify(t *testing.T) {
	var b Backoff
	for i := 0; i < 20; i++ {
		require.NoError(t, b.Wait(context.Background()))
	}
	require.Equal(t, maxBackoff, b.next)

	wake := make(chan struct{}, 1)
	wake <- struct{}{}
	start := time.Now()
	require.NoError(t, b.Wait(context.Background(), wake))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Zero(t, b.next)
}

func TestBackoffStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var b Backoff
	b.next = maxBackoff
	assert.ErrorIs(t, b.Wait(ctx), context.Canceled)
}
