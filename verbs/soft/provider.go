// Package soft implements the verbs contract in software over ordinary byte
// streams. Each connection carries CBOR frames for the handshake, two-sided
// sends, one-sided reads and writes, and the disconnect exchange. Completions
// are generated when a frame leaves the wire or the peer acknowledges it, and
// are retired in posting order per queue pair.
package soft

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-verbs/verbs"
)

const (
	defaultTimewait       = 2 * time.Second
	defaultConnectTimeout = 5 * time.Second
)

// Option configures a Provider.
type Option func(*Provider)

// WithNetwork replaces the TCP network.
func WithNetwork(n Network) Option {
	return func(p *Provider) { p.net = n }
}

// WithLogger sets the provider logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// WithTimewait bounds how long a disconnecting id waits for the peer.
func WithTimewait(d time.Duration) Option {
	return func(p *Provider) { p.timewait = d }
}

// WithConnectTimeout bounds dialing and the setup handshake.
func WithConnectTimeout(d time.Duration) Option {
	return func(p *Provider) { p.connectTimeout = d }
}

// Provider is a software interconnect device.
type Provider struct {
	log            zerolog.Logger
	net            Network
	timewait       time.Duration
	connectTimeout time.Duration
	pd             *protectionDomain

	nextHandle atomic.Uint64
	nextQP     atomic.Uint32

	mu      sync.Mutex
	cond    *sync.Cond
	pending *queue.Queue
	closed  bool
	ids     map[uint64]*connID
	cqs     []*completionQueue

	// conns counts connections whose goroutines may still touch registered
	// memory.
	conns sync.WaitGroup

	events chan verbs.CMEvent
	done   chan struct{}
}

var _ verbs.Provider = (*Provider)(nil)

// New opens a provider and starts its event pump.
func New(opts ...Option) *Provider {
	p := &Provider{
		log:            zerolog.Nop(),
		net:            &TCP{},
		timewait:       defaultTimewait,
		connectTimeout: defaultConnectTimeout,
		pd:             newProtectionDomain(),
		pending:        queue.New(),
		ids:            make(map[uint64]*connID),
		events:         make(chan verbs.CMEvent),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With().Str("component", "soft").Logger()
	p.cond = sync.NewCond(&p.mu)
	go p.pump()
	return p
}

func (p *Provider) ProtectionDomain() verbs.ProtectionDomain { return p.pd }

func (p *Provider) CreateCompletionQueue(depth int) (verbs.CompletionQueue, error) {
	if depth <= 0 {
		depth = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, verbs.ErrClosed
	}
	cq := newCompletionQueue(depth, p.log)
	p.cqs = append(p.cqs, cq)
	return cq, nil
}

func (p *Provider) CreateID() (verbs.ConnID, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, verbs.ErrClosed
	}
	return p.newID(), nil
}

func (p *Provider) newID() *connID {
	h := p.nextHandle.Add(1)
	c := &connID{
		p:      p,
		handle: h,
		log:    p.log.With().Uint64("id", h).Logger(),
	}
	p.mu.Lock()
	p.ids[h] = c
	p.mu.Unlock()
	return c
}

// track admits a new connection unless the provider is closed.
func (p *Provider) track() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.conns.Add(1)
	return true
}

func (p *Provider) forget(handle uint64) {
	p.mu.Lock()
	delete(p.ids, handle)
	p.mu.Unlock()
}

func (p *Provider) Events() <-chan verbs.CMEvent { return p.events }

// emit queues ev without blocking the caller.
func (p *Provider) emit(ev verbs.CMEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.log.Trace().Uint64("id", ev.ID.Handle()).Str("event", ev.Type.String()).Msg("cm event")
	p.pending.Add(ev)
	p.cond.Signal()
}

func (p *Provider) pump() {
	defer close(p.events)
	for {
		p.mu.Lock()
		for p.pending.Length() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		ev := p.pending.Remove().(verbs.CMEvent)
		p.mu.Unlock()

		select {
		case p.events <- ev:
		case <-p.done:
			return
		}
	}
}

// Close destroys every id and completion queue and closes Events. It returns
// after every connection goroutine has exited, so no incoming frame lands in
// registered memory afterwards.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return verbs.ErrClosed
	}
	p.closed = true
	ids := make([]*connID, 0, len(p.ids))
	for _, c := range p.ids {
		ids = append(ids, c)
	}
	cqs := p.cqs
	p.cond.Broadcast()
	p.mu.Unlock()
	close(p.done)

	for _, c := range ids {
		_ = c.Destroy()
	}
	p.conns.Wait()
	for _, cq := range cqs {
		_ = cq.Close()
	}
	return nil
}
