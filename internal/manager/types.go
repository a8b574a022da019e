package manager

import (
	"sync"
	"time"

	"modelserve/internal/backend"
	"modelserve/pkg/types"
)

// State represents the lifecycle state of one model entry.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateDraining State = "draining"
)

// entry is the per-name lifecycle record. op holds one token while a load or unload
// is running for the name; mu guards the remaining fields and is never held across
// a backend call.
type entry struct {
	name string
	op   chan struct{}

	mu       sync.Mutex
	state    State
	handle   backend.Handle
	adapter  backend.Adapter
	kind     types.BackendKind
	inflight int
	draining bool
	drained  chan struct{} // closed by the last Release while draining
	loadedAt time.Time
	lastUsed time.Time
	estBytes int64
}

func newEntry(name string) *entry {
	return &entry{name: name, op: make(chan struct{}, 1), state: StateUnloaded}
}

func (e *entry) loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle != nil
}

func (e *entry) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// commit publishes a fully initialized handle.
func (e *entry) commit(h backend.Handle, a backend.Adapter, kind types.BackendKind, estBytes int64) {
	e.mu.Lock()
	now := time.Now()
	e.handle = h
	e.adapter = a
	e.kind = kind
	e.estBytes = estBytes
	e.state = StateReady
	e.loadedAt = now
	e.lastUsed = now
	e.mu.Unlock()
}

// tryLease pins the current handle, or returns nil when there is none to hand out.
func (e *entry) tryLease() *Lease {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle == nil || e.draining {
		return nil
	}
	e.inflight++
	e.lastUsed = time.Now()
	return &Lease{e: e, Handle: e.handle, Adapter: e.adapter, Kind: e.kind}
}

func (e *entry) release() {
	e.mu.Lock()
	e.inflight--
	if e.inflight == 0 && e.drained != nil {
		close(e.drained)
		e.drained = nil
	}
	e.mu.Unlock()
}

func (e *entry) status() (types.InstanceStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateUnloaded {
		return types.InstanceStatus{}, false
	}
	st := types.InstanceStatus{
		Name:     e.name,
		State:    string(e.state),
		Inflight: e.inflight,
		EstMemMB: bytesToMB(e.estBytes),
	}
	if e.handle != nil {
		st.Kind = e.kind.String()
		st.LoadedAt = e.loadedAt.Unix()
		st.LastUsed = e.lastUsed.Unix()
	}
	return st, true
}

// Lease pins a loaded handle so that Unload waits for it. Release must be called once
// the caller is done with Handle; extra calls are no-ops.
type Lease struct {
	e    *entry
	once sync.Once

	Handle  backend.Handle
	Adapter backend.Adapter
	Kind    types.BackendKind
}

// Release unpins the handle.
func (l *Lease) Release() {
	l.once.Do(l.e.release)
}
