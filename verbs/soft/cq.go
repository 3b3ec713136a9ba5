package soft

import (
	"sync"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-verbs/internal/concurrency"
	"github.com/momentics/hioload-verbs/verbs"
)

// completionQueue stores completions in a bounded ring. Completions that do
// not fit wait in an overflow queue and move into the ring as Poll frees
// space, so producers never block and order is kept.
//
// The shared receive queue of the CQ lives here as well.
type completionQueue struct {
	log    zerolog.Logger
	ring   *concurrency.RingBuffer[verbs.WorkCompletion]
	notify chan struct{}

	mu       sync.Mutex
	cond     *sync.Cond
	overflow *queue.Queue
	recvs    *queue.Queue
	closed   bool
	warned   bool
}

func newCompletionQueue(depth int, log zerolog.Logger) *completionQueue {
	cq := &completionQueue{
		log:      log,
		ring:     concurrency.NewRingBuffer[verbs.WorkCompletion](depth),
		notify:   make(chan struct{}, 1),
		overflow: queue.New(),
		recvs:    queue.New(),
	}
	cq.cond = sync.NewCond(&cq.mu)
	return cq
}

func (cq *completionQueue) push(wc verbs.WorkCompletion) {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return
	}
	if cq.overflow.Length() > 0 || !cq.ring.Enqueue(wc) {
		cq.overflow.Add(wc)
		if !cq.warned {
			cq.warned = true
			cq.log.Warn().Int("depth", cq.ring.Cap()).Msg("completion queue overrun, spilling")
		}
	}
	cq.mu.Unlock()
	select {
	case cq.notify <- struct{}{}:
	default:
	}
}

func (cq *completionQueue) Poll(wcs []verbs.WorkCompletion) int {
	n := cq.ring.DequeueBatch(wcs)
	if n > 0 {
		cq.mu.Lock()
		for cq.overflow.Length() > 0 {
			if !cq.ring.Enqueue(cq.overflow.Peek().(verbs.WorkCompletion)) {
				break
			}
			cq.overflow.Remove()
		}
		cq.mu.Unlock()
	}
	return n
}

func (cq *completionQueue) Notify() <-chan struct{} { return cq.notify }

func (cq *completionQueue) PostReceive(wr verbs.RecvWR) error {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	if cq.closed {
		return verbs.ErrClosed
	}
	cq.recvs.Add(wr)
	cq.cond.Broadcast()
	return nil
}

// takeReceive waits for a posted receive. It gives up when the CQ closes or
// stop reports true, even with receives still posted; stop is evaluated under
// the CQ lock after every wakeup.
func (cq *completionQueue) takeReceive(stop func() bool) (verbs.RecvWR, bool) {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	for {
		if cq.closed || stop() {
			return verbs.RecvWR{}, false
		}
		if cq.recvs.Length() > 0 {
			return cq.recvs.Remove().(verbs.RecvWR), true
		}
		cq.cond.Wait()
	}
}

// wake re-evaluates the stop conditions of waiting receivers.
func (cq *completionQueue) wake() {
	cq.mu.Lock()
	cq.cond.Broadcast()
	cq.mu.Unlock()
}

func (cq *completionQueue) Close() error {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	if cq.closed {
		return verbs.ErrClosed
	}
	cq.closed = true
	cq.cond.Broadcast()
	return nil
}
