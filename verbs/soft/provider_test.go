package soft_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-verbs/api"
	"github.com/momentics/hioload-verbs/fake"
	"github.com/momentics/hioload-verbs/verbs"
	"github.com/momentics/hioload-verbs/verbs/soft"
)

const waitFor = 5 * time.Second

func expectEvent(t *testing.T, p *soft.Provider, want verbs.CMEventType) verbs.CMEvent {
	t.Helper()
	select {
	case ev := <-p.Events():
		require.Equal(t, want.String(), ev.Type.String(), "status: %v", ev.Status)
		return ev
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for %s", want)
	}
	return verbs.CMEvent{}
}

func pollOne(t *testing.T, cq verbs.CompletionQueue) verbs.WorkCompletion {
	t.Helper()
	wcs := make([]verbs.WorkCompletion, 1)
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if cq.Poll(wcs) == 1 {
			return wcs[0]
		}
		select {
		case <-cq.Notify():
		case <-time.After(time.Millisecond):
		}
	}
	t.Fatal("timed out polling completion queue")
	return verbs.WorkCompletion{}
}

type pair struct {
	client, server *soft.Provider
	cid, sid       verbs.ConnID
	ccq, scq       verbs.CompletionQueue
}

func connectPair(t *testing.T, opts ...soft.Option) *pair {
	t.Helper()
	n := fake.NewNetwork()
	opts = append([]soft.Option{soft.WithNetwork(n)}, opts...)
	pr := &pair{client: soft.New(opts...), server: soft.New(opts...)}
	t.Cleanup(func() {
		pr.client.Close()
		pr.server.Close()
	})

	ln, err := pr.server.CreateID()
	require.NoError(t, err)
	require.NoError(t, ln.Bind(api.NewEndpoint(api.FamilyIPv4, 7000)))
	require.NoError(t, ln.Listen(8))

	pr.scq, err = pr.server.CreateCompletionQueue(16)
	require.NoError(t, err)
	pr.ccq, err = pr.client.CreateCompletionQueue(16)
	require.NoError(t, err)

	pr.cid, err = pr.client.CreateID()
	require.NoError(t, err)
	require.NoError(t, pr.cid.ResolveAddr(api.NewHostEndpoint(api.FamilyIPv4, "localhost", 7000), time.Second))
	expectEvent(t, pr.client, verbs.EventAddrResolved)
	require.NoError(t, pr.cid.ResolveRoute(time.Second))
	expectEvent(t, pr.client, verbs.EventRouteResolved)
	require.NoError(t, pr.cid.CreateQP(verbs.QPConfig{CQ: pr.ccq, SendQueueLength: 4}))
	require.NoError(t, pr.cid.Connect([]byte("hello")))

	req := expectEvent(t, pr.server, verbs.EventConnectRequest)
	assert.Equal(t, []byte("hello"), req.PrivateData)
	assert.Equal(t, ln.Handle(), req.Listener.Handle())
	pr.sid = req.ID
	require.NoError(t, pr.sid.CreateQP(verbs.QPConfig{CQ: pr.scq, SendQueueLength: 4}))
	require.NoError(t, pr.sid.Accept([]byte("welcome")))

	expectEvent(t, pr.server, verbs.EventEstablished)
	est := expectEvent(t, pr.client, verbs.EventEstablished)
	assert.Equal(t, []byte("welcome"), est.PrivateData)
	return pr
}

func TestSendConsumesPostedReceive(t *testing.T) {
	pr := connectPair(t)

	recv, err := pr.server.ProtectionDomain().Register(make([]byte, 64), verbs.AccessLocalWrite)
	require.NoError(t, err)
	require.NoError(t, pr.scq.PostReceive(verbs.RecvWR{ID: 7, SGE: verbs.SGE{Data: recv.Bytes(), LKey: recv.LKey()}}))

	src, err := pr.client.ProtectionDomain().Register([]byte("ping"), verbs.AccessLocalWrite)
	require.NoError(t, err)
	require.NoError(t, pr.cid.PostSend(&verbs.SendWR{
		ID:     1,
		Opcode: verbs.OpSend,
		SGL:    []verbs.SGE{{Data: src.Bytes(), LKey: src.LKey()}},
	}))

	wc := pollOne(t, pr.ccq)
	assert.Equal(t, uint64(1), wc.WRID)
	assert.Equal(t, verbs.WCSuccess, wc.Status)
	assert.Equal(t, verbs.OpSend, wc.Opcode)

	wc = pollOne(t, pr.scq)
	assert.Equal(t, uint64(7), wc.WRID)
	assert.Equal(t, verbs.OpRecv, wc.Opcode)
	assert.Equal(t, 4, wc.ByteLen)
	assert.Equal(t, pr.sid.QPNum(), wc.QPNum)
	assert.Equal(t, []byte("ping"), recv.Bytes()[:4])
}

func TestRDMAWriteAndRead(t *testing.T) {
	pr := connectPair(t)

	target, err := pr.server.ProtectionDomain().Register(make([]byte, 32),
		verbs.AccessLocalWrite|verbs.AccessRemoteWrite|verbs.AccessRemoteRead)
	require.NoError(t, err)

	src, err := pr.client.ProtectionDomain().Register([]byte("abcd"), verbs.AccessLocalWrite)
	require.NoError(t, err)
	require.NoError(t, pr.cid.PostSend(&verbs.SendWR{
		ID:         2,
		Opcode:     verbs.OpRDMAWrite,
		SGL:        []verbs.SGE{{Data: src.Bytes(), LKey: src.LKey()}},
		RemoteAddr: target.Addr() + 8,
		RKey:       target.RKey(),
	}))
	wc := pollOne(t, pr.ccq)
	require.Equal(t, verbs.WCSuccess, wc.Status)
	assert.Equal(t, verbs.OpRDMAWrite, wc.Opcode)
	assert.Equal(t, []byte("abcd"), target.Bytes()[8:12])

	dst, err := pr.client.ProtectionDomain().Register(make([]byte, 4), verbs.AccessLocalWrite)
	require.NoError(t, err)
	require.NoError(t, pr.cid.PostSend(&verbs.SendWR{
		ID:         3,
		Opcode:     verbs.OpRDMARead,
		SGL:        []verbs.SGE{{Data: dst.Bytes(), LKey: dst.LKey()}},
		RemoteAddr: target.Addr() + 8,
		RKey:       target.RKey(),
	}))
	wc = pollOne(t, pr.ccq)
	require.Equal(t, verbs.WCSuccess, wc.Status)
	assert.Equal(t, 4, wc.ByteLen)
	assert.Equal(t, []byte("abcd"), dst.Bytes())
}

func TestRemoteAccessViolations(t *testing.T) {
	pr := connectPair(t)

	readOnly, err := pr.server.ProtectionDomain().Register(make([]byte, 16),
		verbs.AccessLocalWrite|verbs.AccessRemoteRead)
	require.NoError(t, err)
	src, err := pr.client.ProtectionDomain().Register(make([]byte, 8), verbs.AccessLocalWrite)
	require.NoError(t, err)

	// Write into a region without remote write access.
	require.NoError(t, pr.cid.PostSend(&verbs.SendWR{
		ID: 4, Opcode: verbs.OpRDMAWrite,
		SGL:        []verbs.SGE{{Data: src.Bytes(), LKey: src.LKey()}},
		RemoteAddr: readOnly.Addr(), RKey: readOnly.RKey(),
	}))
	assert.Equal(t, verbs.WCRemoteAccessErr, pollOne(t, pr.ccq).Status)

	// Read past the end of the region.
	require.NoError(t, pr.cid.PostSend(&verbs.SendWR{
		ID: 5, Opcode: verbs.OpRDMARead,
		SGL:        []verbs.SGE{{Data: src.Bytes(), LKey: src.LKey()}},
		RemoteAddr: readOnly.Addr() + 12, RKey: readOnly.RKey(),
	}))
	assert.Equal(t, verbs.WCRemoteAccessErr, pollOne(t, pr.ccq).Status)

	// Unknown local key.
	require.NoError(t, pr.cid.PostSend(&verbs.SendWR{
		ID: 6, Opcode: verbs.OpSend,
		SGL: []verbs.SGE{{Data: make([]byte, 4), LKey: 0xdead}},
	}))
	wc := pollOne(t, pr.ccq)
	assert.Equal(t, uint64(6), wc.WRID)
	assert.Equal(t, verbs.WCLocalProtErr, wc.Status)
}

func TestGracefulDisconnectAndDrain(t *testing.T) {
	pr := connectPair(t)

	require.NoError(t, pr.cid.Disconnect())
	require.NoError(t, pr.cid.Disconnect())
	expectEvent(t, pr.server, verbs.EventDisconnected)
	require.NoError(t, pr.sid.Disconnect())

	expectEvent(t, pr.client, verbs.EventDisconnected)
	expectEvent(t, pr.client, verbs.EventTimewaitExit)
	expectEvent(t, pr.server, verbs.EventTimewaitExit)

	src, err := pr.client.ProtectionDomain().Register(make([]byte, 4), verbs.AccessLocalWrite)
	require.NoError(t, err)
	require.NoError(t, pr.cid.PostSend(&verbs.SendWR{
		ID: 8, Opcode: verbs.OpSend,
		SGL: []verbs.SGE{{Data: src.Bytes(), LKey: src.LKey()}},
	}))
	require.NoError(t, pr.cid.PostDrain(9))

	wc := pollOne(t, pr.ccq)
	assert.Equal(t, uint64(8), wc.WRID)
	assert.Equal(t, verbs.WCWRFlushErr, wc.Status)
	wc = pollOne(t, pr.ccq)
	assert.Equal(t, uint64(9), wc.WRID)
	assert.Equal(t, verbs.OpDrain, wc.Opcode)
}

func TestTimewaitWithoutPeerAnswer(t *testing.T) {
	pr := connectPair(t, soft.WithTimewait(50*time.Millisecond))

	require.NoError(t, pr.cid.Disconnect())
	expectEvent(t, pr.server, verbs.EventDisconnected)

	expectEvent(t, pr.client, verbs.EventDisconnected)
	expectEvent(t, pr.client, verbs.EventTimewaitExit)
	expectEvent(t, pr.server, verbs.EventTimewaitExit)
}

func TestCloseWaitsForConnections(t *testing.T) {
	pr := connectPair(t)

	src, err := pr.client.ProtectionDomain().Register([]byte("data"), verbs.AccessLocalWrite)
	require.NoError(t, err)
	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, pr.cid.PostSend(&verbs.SendWR{
			ID: i, Opcode: verbs.OpSend,
			SGL: []verbs.SGE{{Data: src.Bytes(), LKey: src.LKey()}},
		}))
	}

	// No receive is posted, so the server reader is parked waiting for one.
	require.NoError(t, pr.server.Close())
	assert.True(t, soft.Finished(pr.sid), "connection goroutines outlived Close")
	assert.ErrorIs(t, pr.scq.PostReceive(verbs.RecvWR{ID: 1}), verbs.ErrClosed)
	assert.ErrorIs(t, pr.server.Close(), verbs.ErrClosed)
}

func TestRejectCarriesData(t *testing.T) {
	n := fake.NewNetwork()
	server := soft.New(soft.WithNetwork(n))
	client := soft.New(soft.WithNetwork(n))
	defer server.Close()
	defer client.Close()

	ln, _ := server.CreateID()
	require.NoError(t, ln.Bind(api.NewEndpoint(api.FamilyIPv4, 7001)))
	require.NoError(t, ln.Listen(1))
	cq, _ := client.CreateCompletionQueue(4)

	cid, _ := client.CreateID()
	require.NoError(t, cid.ResolveAddr(api.NewHostEndpoint(api.FamilyIPv4, "127.0.0.1", 7001), time.Second))
	expectEvent(t, client, verbs.EventAddrResolved)
	require.NoError(t, cid.ResolveRoute(time.Second))
	expectEvent(t, client, verbs.EventRouteResolved)
	require.NoError(t, cid.CreateQP(verbs.QPConfig{CQ: cq, SendQueueLength: 1}))
	require.NoError(t, cid.Connect(nil))

	req := expectEvent(t, server, verbs.EventConnectRequest)
	require.NoError(t, req.ID.Reject([]byte("busy")))
	assert.ErrorIs(t, req.ID.Accept(nil), verbs.ErrInvalidState)

	ev := expectEvent(t, client, verbs.EventRejected)
	assert.Equal(t, []byte("busy"), ev.PrivateData)
}

func TestResolutionAndDialFailures(t *testing.T) {
	n := fake.NewNetwork()
	client := soft.New(soft.WithNetwork(n))
	defer client.Close()
	cq, _ := client.CreateCompletionQueue(4)

	cid, _ := client.CreateID()
	require.NoError(t, cid.ResolveAddr(api.NewHostEndpoint(api.FamilyIPv4, "nowhere", 1), time.Second))
	ev := expectEvent(t, client, verbs.EventAddrError)
	assert.ErrorIs(t, ev.Status, fake.ErrUnknownHost)

	cid, _ = client.CreateID()
	require.NoError(t, cid.ResolveAddr(api.NewHostEndpoint(api.FamilyIPv4, "127.0.0.1", 9), time.Second))
	expectEvent(t, client, verbs.EventAddrResolved)
	assert.ErrorIs(t, cid.Connect(nil), verbs.ErrInvalidState)
	require.NoError(t, cid.ResolveRoute(time.Second))
	expectEvent(t, client, verbs.EventRouteResolved)
	assert.ErrorIs(t, cid.Connect(nil), verbs.ErrNoQP)
	require.NoError(t, cid.CreateQP(verbs.QPConfig{CQ: cq, SendQueueLength: 1}))
	require.NoError(t, cid.Connect(nil))
	expectEvent(t, client, verbs.EventUnreachable)
}

func TestCompletionQueueOverrunKeepsOrder(t *testing.T) {
	pr := connectPair(t)

	recv, err := pr.server.ProtectionDomain().Register(make([]byte, 1024), verbs.AccessLocalWrite)
	require.NoError(t, err)
	for i := 0; i < 32; i++ {
		require.NoError(t, pr.scq.PostReceive(verbs.RecvWR{
			ID:  uint64(i),
			SGE: verbs.SGE{Data: recv.Bytes()[i*32 : (i+1)*32], LKey: recv.LKey()},
		}))
	}

	src, err := pr.client.ProtectionDomain().Register([]byte("x"), verbs.AccessLocalWrite)
	require.NoError(t, err)
	for i := 0; i < 32; i++ {
		for {
			err := pr.cid.PostSend(&verbs.SendWR{
				ID: uint64(i), Opcode: verbs.OpSend,
				SGL: []verbs.SGE{{Data: src.Bytes(), LKey: src.LKey()}},
			})
			if err == nil {
				break
			}
			require.ErrorIs(t, err, verbs.ErrQueueFull)
			pollOne(t, pr.ccq)
		}
	}

	// 32 receives into a CQ of depth 16 spill and come back in order.
	for i := 0; i < 32; i++ {
		wc := pollOne(t, pr.scq)
		require.Equal(t, uint64(i), wc.WRID)
	}
}
