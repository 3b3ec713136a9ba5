package soft

import (
	"sync"
	"syscall"
	"unsafe"

	"github.com/momentics/hioload-verbs/verbs"
)

// protectionDomain keys registrations by local and remote key.
type protectionDomain struct {
	mu      sync.RWMutex
	nextKey uint32
	byLKey  map[uint32]*registration
	byRKey  map[uint32]*registration
}

// NewProtectionDomain returns a standalone protection domain.
func NewProtectionDomain() verbs.ProtectionDomain {
	return newProtectionDomain()
}

func newProtectionDomain() *protectionDomain {
	return &protectionDomain{
		nextKey: 1,
		byLKey:  make(map[uint32]*registration),
		byRKey:  make(map[uint32]*registration),
	}
}

// Register validates access the way ibv_reg_mr does: remote write requires
// local write. Failures are syscall.Errno values.
func (pd *protectionDomain) Register(mem []byte, access verbs.AccessFlags) (verbs.Registration, error) {
	if len(mem) == 0 {
		return nil, syscall.EINVAL
	}
	if access.Has(verbs.AccessRemoteWrite) && !access.Has(verbs.AccessLocalWrite) {
		return nil, syscall.EINVAL
	}
	pd.mu.Lock()
	defer pd.mu.Unlock()
	key := pd.nextKey
	pd.nextKey++
	r := &registration{
		pd:     pd,
		mem:    mem,
		addr:   uint64(uintptr(unsafe.Pointer(unsafe.SliceData(mem)))),
		lkey:   key,
		rkey:   key | 0x80000000,
		access: access,
	}
	pd.byLKey[r.lkey] = r
	pd.byRKey[r.rkey] = r
	return r, nil
}

func (pd *protectionDomain) validLKey(lkey uint32) bool {
	pd.mu.RLock()
	defer pd.mu.RUnlock()
	_, ok := pd.byLKey[lkey]
	return ok
}

// remote resolves [addr, addr+length) under rkey with the wanted access.
func (pd *protectionDomain) remote(rkey uint32, addr uint64, length int, want verbs.AccessFlags) ([]byte, verbs.WCStatus) {
	pd.mu.RLock()
	r, ok := pd.byRKey[rkey]
	pd.mu.RUnlock()
	if !ok || !r.access.Has(want) {
		return nil, verbs.WCRemoteAccessErr
	}
	if addr < r.addr || length < 0 {
		return nil, verbs.WCRemoteAccessErr
	}
	off := addr - r.addr
	if off+uint64(length) > uint64(len(r.mem)) {
		return nil, verbs.WCRemoteAccessErr
	}
	return r.mem[off : off+uint64(length)], verbs.WCSuccess
}

type registration struct {
	pd     *protectionDomain
	mem    []byte
	addr   uint64
	lkey   uint32
	rkey   uint32
	access verbs.AccessFlags
}

func (r *registration) Bytes() []byte             { return r.mem }
func (r *registration) Addr() uint64              { return r.addr }
func (r *registration) Len() int                  { return len(r.mem) }
func (r *registration) LKey() uint32              { return r.lkey }
func (r *registration) RKey() uint32              { return r.rkey }
func (r *registration) Access() verbs.AccessFlags { return r.access }

func (r *registration) Deregister() error {
	r.pd.mu.Lock()
	defer r.pd.mu.Unlock()
	if r.pd.byLKey[r.lkey] != r {
		return syscall.EINVAL
	}
	delete(r.pd.byLKey, r.lkey)
	delete(r.pd.byRKey, r.rkey)
	return nil
}
