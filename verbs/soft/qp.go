package soft

import (
	"sync"

	"github.com/momentics/hioload-verbs/verbs"
)

// pendingWR tracks a posted send queue request until it retires.
type pendingWR struct {
	wrid    uint64
	opcode  verbs.Opcode
	seq     uint64
	sgl     []verbs.SGE
	length  int
	done    bool
	status  verbs.WCStatus
	byteLen int
}

// queuePair retires send queue requests strictly in posting order, the way a
// reliable connected queue pair reports them.
type queuePair struct {
	num   uint32
	cq    *completionQueue
	depth int

	mu      sync.Mutex
	sq      []*pendingWR
	active  int
	bySeq   map[uint64]*pendingWR
	seq     uint64
	flushed bool
}

func newQueuePair(num uint32, cq *completionQueue, depth int) *queuePair {
	return &queuePair{
		num:   num,
		cq:    cq,
		depth: depth,
		bySeq: make(map[uint64]*pendingWR),
	}
}

// post registers wr. A nil result with nil error means the queue pair is
// already flushed and wr completed with a flush error.
func (qp *queuePair) post(wr *verbs.SendWR, status verbs.WCStatus) (*pendingWR, error) {
	qp.mu.Lock()
	defer qp.mu.Unlock()
	if !qp.flushed && qp.active >= qp.depth {
		return nil, verbs.ErrQueueFull
	}
	pw := &pendingWR{
		wrid:   wr.ID,
		opcode: wr.Opcode,
		length: wr.Length(),
	}
	qp.sq = append(qp.sq, pw)
	qp.active++
	switch {
	case qp.flushed:
		qp.finishLocked(pw, verbs.WCWRFlushErr, 0)
		return nil, nil
	case status != verbs.WCSuccess:
		qp.finishLocked(pw, status, 0)
		return nil, nil
	}
	if wr.Opcode == verbs.OpRDMARead || wr.Opcode == verbs.OpRDMAWrite {
		qp.seq++
		pw.seq = qp.seq
		qp.bySeq[pw.seq] = pw
		if wr.Opcode == verbs.OpRDMARead {
			pw.sgl = wr.SGL
		}
	}
	return pw, nil
}

// complete finishes a send once its frame left the wire.
func (qp *queuePair) complete(pw *pendingWR, status verbs.WCStatus) {
	qp.mu.Lock()
	defer qp.mu.Unlock()
	if pw.done {
		return
	}
	qp.finishLocked(pw, status, pw.length)
}

// completeSeq finishes an RDMA read or write answered by the peer. Read data
// is scattered into the request's gather list.
func (qp *queuePair) completeSeq(seq uint64, status verbs.WCStatus, data []byte) {
	qp.mu.Lock()
	defer qp.mu.Unlock()
	pw, ok := qp.bySeq[seq]
	if !ok {
		return
	}
	delete(qp.bySeq, seq)
	n := pw.length
	if status == verbs.WCSuccess && pw.opcode == verbs.OpRDMARead {
		if len(data) != pw.length {
			status = verbs.WCBadRespErr
			n = 0
		} else {
			off := 0
			for _, sge := range pw.sgl {
				off += copy(sge.Data, data[off:])
			}
		}
	}
	if status != verbs.WCSuccess {
		n = 0
	}
	pw.sgl = nil
	qp.finishLocked(pw, status, n)
}

// drain queues a marker that retires after every earlier request.
func (qp *queuePair) drain(wrid uint64) {
	qp.mu.Lock()
	defer qp.mu.Unlock()
	pw := &pendingWR{wrid: wrid, opcode: verbs.OpDrain, done: true, status: verbs.WCWRFlushErr}
	qp.sq = append(qp.sq, pw)
	qp.retireLocked()
}

// flush fails every outstanding request and every later post.
func (qp *queuePair) flush() {
	qp.mu.Lock()
	defer qp.mu.Unlock()
	qp.flushed = true
	for _, pw := range qp.sq {
		if !pw.done {
			pw.done = true
			pw.status = verbs.WCWRFlushErr
			pw.byteLen = 0
		}
	}
	clear(qp.bySeq)
	qp.retireLocked()
}

func (qp *queuePair) outstanding() int {
	qp.mu.Lock()
	defer qp.mu.Unlock()
	return len(qp.sq)
}

func (qp *queuePair) finishLocked(pw *pendingWR, status verbs.WCStatus, n int) {
	pw.done = true
	pw.status = status
	pw.byteLen = n
	qp.retireLocked()
}

func (qp *queuePair) retireLocked() {
	for len(qp.sq) > 0 && qp.sq[0].done {
		pw := qp.sq[0]
		qp.sq[0] = nil
		qp.sq = qp.sq[1:]
		if pw.opcode != verbs.OpDrain {
			qp.active--
		}
		qp.cq.push(verbs.WorkCompletion{
			WRID:    pw.wrid,
			Status:  pw.status,
			Opcode:  pw.opcode,
			ByteLen: pw.byteLen,
			QPNum:   qp.num,
		})
	}
}
