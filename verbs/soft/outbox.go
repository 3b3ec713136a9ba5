package soft

import (
	"sync"

	"github.com/eapache/queue"
)

// outItem is one frame for the writer. pw, when set, completes after the
// frame is written.
type outItem struct {
	f  *frame
	pw *pendingWR
}

// outbox decouples posting from the connection's blocking writes.
type outbox struct {
	mu      sync.Mutex
	cond    *sync.Cond
	q       *queue.Queue
	closing bool
	aborted bool
}

func newOutbox() *outbox {
	o := &outbox{q: queue.New()}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// put queues it. It fails once the outbox is closing or aborted.
func (o *outbox) put(it outItem) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closing || o.aborted {
		return false
	}
	o.q.Add(it)
	o.cond.Signal()
	return true
}

// next blocks for the following item. It returns false after abort, or once a
// closing outbox is empty.
func (o *outbox) next() (outItem, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for {
		if o.aborted {
			return outItem{}, false
		}
		if o.q.Length() > 0 {
			return o.q.Remove().(outItem), true
		}
		if o.closing {
			return outItem{}, false
		}
		o.cond.Wait()
	}
}

// closeAfterDrain lets the writer finish queued frames and stop.
func (o *outbox) closeAfterDrain() {
	o.mu.Lock()
	o.closing = true
	o.cond.Broadcast()
	o.mu.Unlock()
}

// abort drops queued frames and stops the writer.
func (o *outbox) abort() {
	o.mu.Lock()
	o.aborted = true
	o.cond.Broadcast()
	o.mu.Unlock()
}
