package soft

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-verbs/api"
	"github.com/momentics/hioload-verbs/verbs"
)

type idState int

const (
	idIdle idState = iota
	idBound
	idListening
	idAddrResolving
	idAddrResolved
	idRouteResolved
	idConnecting
	idPending
	idConnected
	idDisconnecting
	idClosed
)

var (
	errTimewait  = errors.New("soft: timewait expired")
	errDestroyed = errors.New("soft: id destroyed")
)

// connID is a connection manager id. Listening ids own a net.Listener,
// connected ids own a net.Conn served by one reader and one writer goroutine.
type connID struct {
	p      *Provider
	handle uint64
	log    zerolog.Logger

	mu          sync.Mutex
	state       idState
	remote      api.Endpoint
	dialAddr    string
	ln          net.Listener
	conn        net.Conn
	codec       *codec
	session     uuid.UUID
	qp          *queuePair
	out         *outbox
	localDisc   bool
	remoteDisc  bool
	discEmitted bool
	timer       *time.Timer
	destroyed   bool

	torn  atomic.Bool
	loops sync.WaitGroup
}

func (c *connID) Handle() uint64 { return c.handle }

func (c *connID) QPNum() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.qp == nil {
		return 0
	}
	return c.qp.num
}

func (c *connID) Bind(ep api.Endpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != idIdle {
		return verbs.ErrInvalidState
	}
	ln, err := c.p.net.Listen(ep.String())
	if err != nil {
		return fmt.Errorf("soft: bind %s: %w", ep, err)
	}
	c.ln = ln
	c.state = idBound
	c.log.Debug().Str("addr", ln.Addr().String()).Msg("bound")
	return nil
}

func (c *connID) Listen(backlog int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != idBound {
		return verbs.ErrInvalidState
	}
	c.state = idListening
	go c.acceptLoop(c.ln)
	c.log.Debug().Int("backlog", backlog).Msg("listening")
	return nil
}

func (c *connID) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			c.log.Debug().Err(err).Msg("accept loop stopped")
			return
		}
		go c.handshakePassive(conn)
	}
}

// handshakePassive reads the initiator's hello and raises a connect request
// on a fresh child id.
func (c *connID) handshakePassive(conn net.Conn) {
	cd := newCodec(conn)
	_ = conn.SetReadDeadline(time.Now().Add(c.p.connectTimeout))
	f, err := cd.read()
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil || f.Kind != frameHello {
		c.log.Warn().Err(err).Str("peer", conn.RemoteAddr().String()).Msg("dropping connection without hello")
		_ = conn.Close()
		return
	}
	session, err := uuid.FromBytes(f.Session)
	if err != nil {
		session = uuid.Nil
	}

	c.mu.Lock()
	listening := c.state == idListening && !c.destroyed
	c.mu.Unlock()
	if !listening {
		_ = conn.Close()
		return
	}

	child := c.p.newID()
	child.mu.Lock()
	child.state = idPending
	child.conn = conn
	child.codec = cd
	child.session = session
	child.log = child.log.With().Str("session", session.String()).Logger()
	child.mu.Unlock()

	child.log.Debug().Str("peer", conn.RemoteAddr().String()).Msg("connect request")
	c.p.emit(verbs.CMEvent{
		Type:        verbs.EventConnectRequest,
		ID:          child,
		Listener:    c,
		PrivateData: f.Data,
	})
}

func (c *connID) ResolveAddr(ep api.Endpoint, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != idIdle && c.state != idBound {
		return verbs.ErrInvalidState
	}
	c.state = idAddrResolving
	c.remote = ep
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		host, err := c.p.net.Resolve(ctx, ep.Host())

		c.mu.Lock()
		if c.destroyed {
			c.mu.Unlock()
			return
		}
		if err != nil {
			c.state = idIdle
			c.mu.Unlock()
			c.emit(verbs.EventAddrError, nil, err)
			return
		}
		c.dialAddr = net.JoinHostPort(host, strconv.Itoa(int(ep.Port())))
		c.state = idAddrResolved
		c.mu.Unlock()
		c.emit(verbs.EventAddrResolved, nil, nil)
	}()
	return nil
}

func (c *connID) ResolveRoute(time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != idAddrResolved {
		return verbs.ErrInvalidState
	}
	c.state = idRouteResolved
	c.p.emit(verbs.CMEvent{Type: verbs.EventRouteResolved, ID: c})
	return nil
}

func (c *connID) CreateQP(cfg verbs.QPConfig) error {
	cq, ok := cfg.CQ.(*completionQueue)
	if !ok {
		return fmt.Errorf("soft: completion queue %T not created by this provider", cfg.CQ)
	}
	depth := cfg.SendQueueLength
	if depth <= 0 {
		depth = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.qp != nil {
		return verbs.ErrInvalidState
	}
	c.qp = newQueuePair(c.p.nextQP.Add(1), cq, depth)
	return nil
}

func (c *connID) Connect(privateData []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != idRouteResolved {
		return verbs.ErrInvalidState
	}
	if c.qp == nil {
		return verbs.ErrNoQP
	}
	c.state = idConnecting
	c.session = uuid.New()
	c.log = c.log.With().Str("session", c.session.String()).Logger()
	data := append([]byte(nil), privateData...)
	go c.dialActive(c.dialAddr, data)
	return nil
}

func (c *connID) dialActive(addr string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), c.p.connectTimeout)
	defer cancel()
	conn, err := c.p.net.Dial(ctx, addr)
	if err != nil {
		c.log.Debug().Err(err).Str("addr", addr).Msg("dial failed")
		c.failConnect(verbs.EventUnreachable, err)
		return
	}

	cd := newCodec(conn)
	session := c.session
	_ = conn.SetDeadline(time.Now().Add(c.p.connectTimeout))
	err = cd.write(&frame{Kind: frameHello, Session: session[:], Data: data})
	var resp *frame
	if err == nil {
		resp, err = cd.read()
	}
	_ = conn.SetDeadline(time.Time{})
	if err != nil {
		_ = conn.Close()
		c.failConnect(verbs.EventConnectError, err)
		return
	}

	switch resp.Kind {
	case frameAccept:
		c.mu.Lock()
		if c.destroyed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.codec = cd
		if err := c.startLocked(); err != nil {
			c.state = idClosed
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.state = idConnected
		c.p.emit(verbs.CMEvent{Type: verbs.EventEstablished, ID: c, PrivateData: resp.Data})
		c.mu.Unlock()
		c.log.Debug().Str("peer", conn.RemoteAddr().String()).Msg("established")
	case frameReject:
		_ = conn.Close()
		c.mu.Lock()
		c.state = idClosed
		qp := c.qp
		c.mu.Unlock()
		if qp != nil {
			qp.flush()
		}
		c.emit(verbs.EventRejected, resp.Data, nil)
	default:
		_ = conn.Close()
		c.failConnect(verbs.EventConnectError, fmt.Errorf("soft: unexpected %s frame in handshake", resp.Kind))
	}
}

func (c *connID) failConnect(t verbs.CMEventType, err error) {
	c.mu.Lock()
	c.state = idClosed
	qp := c.qp
	c.mu.Unlock()
	if qp != nil {
		qp.flush()
	}
	c.emit(t, nil, err)
}

func (c *connID) Accept(privateData []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != idPending {
		return verbs.ErrInvalidState
	}
	if c.qp == nil {
		return verbs.ErrNoQP
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.p.connectTimeout))
	err := c.codec.write(&frame{Kind: frameAccept, Data: privateData})
	_ = c.conn.SetWriteDeadline(time.Time{})
	if err != nil {
		_ = c.conn.Close()
		c.state = idClosed
		return fmt.Errorf("soft: accept: %w", err)
	}
	if err := c.startLocked(); err != nil {
		_ = c.conn.Close()
		c.state = idClosed
		return fmt.Errorf("soft: accept: %w", err)
	}
	c.state = idConnected
	c.p.emit(verbs.CMEvent{Type: verbs.EventEstablished, ID: c})
	return nil
}

func (c *connID) Reject(privateData []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != idPending {
		return verbs.ErrInvalidState
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.p.connectTimeout))
	err := c.codec.write(&frame{Kind: frameReject, Data: privateData})
	_ = c.conn.Close()
	c.state = idClosed
	if err != nil {
		return fmt.Errorf("soft: reject: %w", err)
	}
	return nil
}

// startLocked spawns the connection goroutines. It fails once the provider
// is closed.
func (c *connID) startLocked() error {
	if !c.p.track() {
		return verbs.ErrClosed
	}
	c.out = newOutbox()
	c.loops.Add(2)
	go c.writeLoop(c.conn, c.codec, c.out)
	go c.readLoop(c.codec)
	go func() {
		defer c.p.conns.Done()
		c.loops.Wait()
		c.finish()
	}()
	return nil
}

func (c *connID) writeLoop(conn net.Conn, cd *codec, out *outbox) {
	defer c.loops.Done()
	defer conn.Close()
	for {
		it, ok := out.next()
		if !ok {
			return
		}
		if err := cd.write(it.f); err != nil {
			c.teardown(err)
			return
		}
		if it.pw != nil {
			c.qp.complete(it.pw, verbs.WCSuccess)
		}
	}
}

func (c *connID) readLoop(cd *codec) {
	defer c.loops.Done()
	for {
		f, err := cd.read()
		if err != nil {
			c.teardown(err)
			return
		}
		c.handleFrame(f)
	}
}

func (c *connID) handleFrame(f *frame) {
	switch f.Kind {
	case frameSend:
		c.deliver(f.Data)
	case frameWrite:
		dst, st := c.p.pd.remote(f.RKey, f.Addr, len(f.Data), verbs.AccessRemoteWrite)
		if st == verbs.WCSuccess {
			copy(dst, f.Data)
		}
		c.out.put(outItem{f: &frame{Kind: frameWriteAck, Seq: f.Seq, Status: uint8(st)}})
	case frameWriteAck:
		c.qp.completeSeq(f.Seq, verbs.WCStatus(f.Status), nil)
	case frameReadReq:
		src, st := c.p.pd.remote(f.RKey, f.Addr, int(f.Length), verbs.AccessRemoteRead)
		resp := &frame{Kind: frameReadResp, Seq: f.Seq, Status: uint8(st)}
		if st == verbs.WCSuccess {
			resp.Data = append([]byte(nil), src...)
		}
		c.out.put(outItem{f: resp})
	case frameReadResp:
		c.qp.completeSeq(f.Seq, verbs.WCStatus(f.Status), f.Data)
	case frameDisconnect:
		c.onPeerDisconnect()
	default:
		c.log.Warn().Str("kind", f.Kind.String()).Msg("unexpected frame")
	}
}

// deliver consumes a posted receive of the shared receive queue, waiting for
// one when none is posted.
func (c *connID) deliver(data []byte) {
	cq := c.qp.cq
	wr, ok := cq.takeReceive(c.torn.Load)
	if !ok {
		return
	}
	status := verbs.WCSuccess
	n := len(data)
	if n > len(wr.SGE.Data) {
		status = verbs.WCLocalLenErr
		n = 0
	} else {
		copy(wr.SGE.Data, data)
	}
	cq.push(verbs.WorkCompletion{
		WRID:    wr.ID,
		Status:  status,
		Opcode:  verbs.OpRecv,
		ByteLen: n,
		QPNum:   c.qp.num,
	})
}

func (c *connID) onPeerDisconnect() {
	c.mu.Lock()
	c.remoteDisc = true
	emit := !c.discEmitted
	c.discEmitted = true
	if c.state == idConnected {
		c.state = idDisconnecting
	}
	both := c.localDisc
	c.mu.Unlock()

	c.log.Debug().Bool("local_first", both).Msg("peer disconnect")
	if emit {
		c.emit(verbs.EventDisconnected, nil, nil)
	}
	if both {
		c.out.closeAfterDrain()
	}
}

func (c *connID) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case idConnected, idDisconnecting:
	case idClosed:
		return nil
	default:
		return verbs.ErrInvalidState
	}
	if c.localDisc {
		return nil
	}
	c.localDisc = true
	c.state = idDisconnecting
	c.out.put(outItem{f: &frame{Kind: frameDisconnect}})
	if c.remoteDisc {
		c.out.closeAfterDrain()
	}
	c.timer = time.AfterFunc(c.p.timewait, func() { c.teardown(errTimewait) })
	return nil
}

// teardown stops both connection goroutines. finish runs once they exit.
func (c *connID) teardown(reason error) {
	if !c.torn.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	out, conn, qp := c.out, c.conn, c.qp
	c.mu.Unlock()

	c.log.Debug().Err(reason).Msg("teardown")
	if out != nil {
		out.abort()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if qp != nil {
		qp.cq.wake()
	}
}

// finish flushes the queue pair and reports the end of the connection.
func (c *connID) finish() {
	c.torn.Store(true)
	c.mu.Lock()
	c.state = idClosed
	emitDisc := !c.discEmitted
	c.discEmitted = true
	destroyed := c.destroyed
	if c.timer != nil {
		c.timer.Stop()
	}
	qp := c.qp
	c.mu.Unlock()

	qp.flush()
	if destroyed {
		return
	}
	if emitDisc {
		c.emit(verbs.EventDisconnected, nil, nil)
	}
	c.emit(verbs.EventTimewaitExit, nil, nil)
}

func (c *connID) PostSend(wr *verbs.SendWR) error {
	c.mu.Lock()
	qp, out, state := c.qp, c.out, c.state
	c.mu.Unlock()
	if qp == nil {
		return verbs.ErrNoQP
	}
	switch state {
	case idConnected, idDisconnecting, idClosed:
	default:
		return verbs.ErrInvalidState
	}

	status := verbs.WCSuccess
	for _, sge := range wr.SGL {
		if !c.p.pd.validLKey(sge.LKey) {
			status = verbs.WCLocalProtErr
			break
		}
	}
	pw, err := qp.post(wr, status)
	if err != nil || pw == nil {
		return err
	}

	var f *frame
	switch wr.Opcode {
	case verbs.OpSend:
		f = &frame{Kind: frameSend, Data: gather(wr.SGL, pw.length)}
	case verbs.OpRDMAWrite:
		f = &frame{Kind: frameWrite, Seq: pw.seq, Addr: wr.RemoteAddr, RKey: wr.RKey, Data: gather(wr.SGL, pw.length)}
		pw = nil
	case verbs.OpRDMARead:
		f = &frame{Kind: frameReadReq, Seq: pw.seq, Addr: wr.RemoteAddr, RKey: wr.RKey, Length: uint32(pw.length)}
		pw = nil
	default:
		qp.complete(pw, verbs.WCLocalQPOpErr)
		return nil
	}
	// A refused frame stays pending until finish flushes it.
	if out != nil {
		out.put(outItem{f: f, pw: pw})
	}
	return nil
}

func (c *connID) PostDrain(wrID uint64) error {
	c.mu.Lock()
	qp := c.qp
	c.mu.Unlock()
	if qp == nil {
		return verbs.ErrNoQP
	}
	qp.drain(wrID)
	return nil
}

func (c *connID) Destroy() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	ln, conn, qp, started := c.ln, c.conn, c.qp, c.out != nil
	if !started {
		c.state = idClosed
	}
	c.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	if started {
		c.teardown(errDestroyed)
	} else {
		if conn != nil {
			_ = conn.Close()
		}
		if qp != nil {
			qp.flush()
		}
	}
	c.p.forget(c.handle)
	return nil
}

func (c *connID) emit(t verbs.CMEventType, data []byte, status error) {
	c.mu.Lock()
	destroyed := c.destroyed
	c.mu.Unlock()
	if destroyed {
		return
	}
	c.p.emit(verbs.CMEvent{Type: t, ID: c, PrivateData: data, Status: status})
}

func gather(sgl []verbs.SGE, n int) []byte {
	buf := make([]byte, 0, n)
	for _, sge := range sgl {
		buf = append(buf, sge.Data...)
	}
	return buf
}
