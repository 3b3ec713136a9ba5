// File: internal/concurrency/backoff.go
// Author: momentics <momentics@gmail.com>
//
// Adaptive idle backoff for pollers that ran out of work.

package concurrency

import (
	"context"
	"time"
)

const (
	minBackoff = time.Microsecond
	maxBackoff = time.Millisecond
)

// Backoff doubles the idle wait of a poller up to one millisecond. Not safe
// for concurrent use; each poller owns one.
type Backoff struct {
	next time.Duration
}

// Reset returns to the shortest wait after useful work.
func (b *Backoff) Reset() { b.next = 0 }

// Wait blocks for the current backoff, or until ctx is done or any wake
// channel fires. It returns ctx.Err() when ctx ended the wait.
func (b *Backoff) Wait(ctx context.Context, wake ...<-chan struct{}) error {
	if b.next < minBackoff {
		b.next = minBackoff
	}
	timer := time.NewTimer(b.next)
	defer timer.Stop()

	b.next *= 2
	if b.next > maxBackoff {
		b.next = maxBackoff
	}

	var w0, w1 <-chan struct{}
	if len(wake) > 0 {
		w0 = wake[0]
	}
	if len(wake) > 1 {
		w1 = wake[1]
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w0:
		b.Reset()
	case <-w1:
		b.Reset()
	case <-timer.C:
	}
	return nil
}
