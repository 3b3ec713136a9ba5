// File: transport/context.go
// Author: momentics <momentics@gmail.com>
//
// CompletionContext is one polling goroutine with its completion queue,
// send and receive buffer pools and a task queue for deferred work.

package transport

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-verbs/api"
	"github.com/momentics/hioload-verbs/internal/concurrency"
	"github.com/momentics/hioload-verbs/memory"
	"github.com/momentics/hioload-verbs/pool"
	"github.com/momentics/hioload-verbs/verbs"
)

const (
	pollBatch = 16
	taskBatch = 64
)

// CompletionContext runs every callback of the sockets attached to it on a
// single goroutine.
type CompletionContext struct {
	service  *Service
	index    int
	log      zerolog.Logger
	cq       verbs.CompletionQueue
	sendPool *pool.RegisteredPool
	recvPool *pool.RegisteredPool
	tasks    *concurrency.TaskQueue
	cycles   int
	cpu      int
	wcs      []verbs.WorkCompletion
}

func newCompletionContext(s *Service, index int) (*CompletionContext, error) {
	l := s.limits
	cq, err := s.provider.CreateCompletionQueue(l.CompletionQueueLength)
	if err != nil {
		return nil, err
	}
	recvPool, err := pool.NewRegisteredPool(s.pd, l.ReceiveBufferCount, l.BufferLength, verbs.AccessLocalWrite)
	if err != nil {
		_ = cq.Close()
		return nil, err
	}
	sendPool, err := pool.NewRegisteredPool(s.pd, l.SendBufferCount, l.BufferLength, verbs.AccessLocalWrite)
	if err != nil {
		_ = recvPool.Close()
		_ = cq.Close()
		return nil, err
	}

	c := &CompletionContext{
		service:  s,
		index:    index,
		log:      s.log.With().Int("context", index).Logger(),
		cq:       cq,
		sendPool: sendPool,
		recvPool: recvPool,
		tasks:    concurrency.NewTaskQueue(),
		cycles:   l.PollCycles,
		cpu:      l.PinCPU(index),
		wcs:      make([]verbs.WorkCompletion, pollBatch),
	}
	for i := 0; i < recvPool.Cap(); i++ {
		if err := c.postReceive(uint16(i)); err != nil {
			_ = c.close()
			return nil, err
		}
	}

	prefix := fmt.Sprintf("context.%d.", index)
	s.probes.RegisterProbe(prefix+"send_available", func() any { return sendPool.Available() })
	s.probes.RegisterProbe(prefix+"tasks", func() any { return c.tasks.Len() })
	return c, nil
}

// Index is the position of the context in the service.
func (c *CompletionContext) Index() int { return c.index }

// Execute runs fn on the context goroutine after the current batch.
func (c *CompletionContext) Execute(fn func()) error {
	if !c.tasks.Push(fn) {
		return ErrServiceClosed
	}
	return nil
}

func (c *CompletionContext) qpConfig() verbs.QPConfig {
	return verbs.QPConfig{CQ: c.cq, SendQueueLength: c.service.limits.SendQueueLength}
}

func (c *CompletionContext) postReceive(id uint16) error {
	buf := c.recvPool.Buffer(id)
	return c.cq.PostReceive(verbs.RecvWR{
		ID:  encodeWRID(0, id, workReceive),
		SGE: buf.SGE(),
	})
}

// run polls until ctx is done. After cycles empty polls it parks on the
// completion and task notifications with a growing timeout.
func (c *CompletionContext) run(ctx context.Context) error {
	if c.cpu >= 0 {
		if err := concurrency.PinCurrentThread(c.cpu); err != nil {
			c.log.Warn().Err(err).Int("cpu", c.cpu).Msg("cpu pinning failed")
		}
		defer concurrency.UnpinCurrentThread()
	}
	c.log.Debug().Int("cpu", c.cpu).Msg("completion context started")

	var backoff concurrency.Backoff
	idle := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		n := c.poll()
		n += c.tasks.Drain(taskBatch)
		if n > 0 {
			idle = 0
			backoff.Reset()
			continue
		}
		if idle < c.cycles {
			idle++
			if idle&63 == 0 {
				runtime.Gosched()
			}
			continue
		}
		if err := backoff.Wait(ctx, c.cq.Notify(), c.tasks.Notify()); err != nil {
			return nil
		}
	}
}

func (c *CompletionContext) poll() int {
	n := c.cq.Poll(c.wcs)
	for i := 0; i < n; i++ {
		c.complete(&c.wcs[i])
	}
	if n > 0 {
		c.service.metrics.Add("completions", int64(n))
	}
	return n
}

func (c *CompletionContext) complete(wc *verbs.WorkCompletion) {
	userID, bufferID, typ := decodeWRID(wc.WRID)
	var err error
	if wc.Status != verbs.WCSuccess {
		err = api.NewCompletionError(int(wc.Status), wc.Status.String())
		c.service.metrics.Add("completions.failed", 1)
	}
	sock := c.service.table.byQueuePair(wc.QPNum)

	switch typ {
	case workReceive:
		if sock != nil {
			var data []byte
			if err == nil {
				data = c.recvPool.Buffer(bufferID).Data()[:wc.ByteLen]
			}
			sock.onReceive(data, err)
		}
		if perr := c.postReceive(bufferID); perr != nil && !errors.Is(perr, verbs.ErrClosed) {
			c.log.Error().Err(perr).Uint16("buffer", bufferID).Msg("repost of receive buffer failed")
		}
		return
	case workSend:
		if bufferID != memory.InvalidID {
			c.sendPool.Release(bufferID)
		}
		if sock != nil {
			sock.onSend(userID, err)
		}
	case workRead:
		if sock != nil {
			sock.onRead(userID, err)
		}
	case workWrite:
		if sock != nil {
			sock.onWrite(userID, err)
		}
	case workDrain:
		if sock != nil {
			sock.onDrained()
		}
	default:
		c.log.Error().Uint64("wrid", wc.WRID).Msg("completion with unknown work type")
		return
	}
	if sock == nil {
		c.log.Debug().
			Stringer("work", typ).
			Uint32("qp", wc.QPNum).
			Msg("completion for unknown queue pair")
	}
}

func (c *CompletionContext) close() error {
	c.tasks.Close()
	err := c.cq.Close()
	if errors.Is(err, verbs.ErrClosed) {
		err = nil
	}
	return errors.Join(err, c.sendPool.Close(), c.recvPool.Close())
}
