package transport

import "sync"

// slotRef names a table slot. The generation rejects stale references after
// the slot is reused.
type slotRef struct {
	idx uint32
	gen uint32
}

type tableSlot struct {
	sock   *Socket
	gen    uint32
	handle uint64
	qpNum  uint32
}

// handleTable maps provider connection handles and queue pair numbers to
// sockets. Each live entry holds one socket reference.
type handleTable struct {
	mu       sync.RWMutex
	slots    []tableSlot
	free     []uint32
	byHandle map[uint64]uint32
	byQP     map[uint32]uint32
}

func newHandleTable() *handleTable {
	return &handleTable{
		byHandle: make(map[uint64]uint32),
		byQP:     make(map[uint32]uint32),
	}
}

func (t *handleTable) insert(s *Socket, handle uint64) slotRef {
	s.Retain()
	t.mu.Lock()
	defer t.mu.Unlock()
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, tableSlot{gen: 1})
	}
	slot := &t.slots[idx]
	slot.sock = s
	slot.handle = handle
	slot.qpNum = 0
	t.byHandle[handle] = idx
	return slotRef{idx: idx, gen: slot.gen}
}

// bindQP indexes the slot by its queue pair number.
func (t *handleTable) bindQP(ref slotRef, qpNum uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot := t.slotLocked(ref)
	if slot == nil {
		return false
	}
	slot.qpNum = qpNum
	t.byQP[qpNum] = ref.idx
	return true
}

func (t *handleTable) byConn(handle uint64) *Socket {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.byHandle[handle]
	if !ok {
		return nil
	}
	return t.slots[idx].sock
}

func (t *handleTable) byQueuePair(qpNum uint32) *Socket {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.byQP[qpNum]
	if !ok {
		return nil
	}
	return t.slots[idx].sock
}

// remove drops the slot and the reference it held. Stale refs are ignored.
func (t *handleTable) remove(ref slotRef) bool {
	t.mu.Lock()
	slot := t.slotLocked(ref)
	if slot == nil {
		t.mu.Unlock()
		return false
	}
	s := slot.sock
	delete(t.byHandle, slot.handle)
	if slot.qpNum != 0 {
		delete(t.byQP, slot.qpNum)
	}
	*slot = tableSlot{gen: slot.gen + 1}
	t.free = append(t.free, ref.idx)
	t.mu.Unlock()

	s.Release()
	return true
}

func (t *handleTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byHandle)
}

func (t *handleTable) slotLocked(ref slotRef) *tableSlot {
	if int(ref.idx) >= len(t.slots) {
		return nil
	}
	slot := &t.slots[ref.idx]
	if slot.gen != ref.gen || slot.sock == nil {
		return nil
	}
	return slot
}
