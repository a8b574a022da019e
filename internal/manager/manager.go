package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"modelserve/internal/backend"
	"modelserve/internal/registry"
	"modelserve/pkg/types"
)

// Manager serves the models of a catalog: it loads them lazily, one handle per name,
// runs requests against them and unloads them on demand.
type Manager struct {
	reg       *registry.Registry
	modelsDir string
	adapters  map[types.BackendKind]backend.Adapter

	entries *xsync.MapOf[string, *entry]
	group   singleflight.Group
	pool    *semaphore.Weighted
	workers int

	loadTimeout time.Duration
	memProbe    MemProbe
	publisher   EventPublisher
	log         zerolog.Logger

	// baseCtx parents every background load; Close cancels it.
	baseCtx context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool
	// lifeMu orders a load's commit against Close: a commit either lands before
	// Close sweeps the entries or observes closed and releases its own handle.
	lifeMu sync.RWMutex

	startTime time.Time
	loads     atomic.Uint64
	unloads   atomic.Uint64

	errMu   sync.Mutex
	lastErr string
}

// Registry returns the catalog the manager serves.
func (m *Manager) Registry() *registry.Registry { return m.reg }

// Done is closed once Close begins. HTTP handlers use it to end requests in flight.
func (m *Manager) Done() <-chan struct{} { return m.baseCtx.Done() }

// Workers returns the worker pool capacity.
func (m *Manager) Workers() int { return m.workers }

func (m *Manager) entry(name string) *entry {
	e, _ := m.entries.LoadOrCompute(name, func() *entry { return newEntry(name) })
	return e
}

func (m *Manager) setLastErr(err error) {
	m.errMu.Lock()
	if err == nil {
		m.lastErr = ""
	} else {
		m.lastErr = err.Error()
	}
	m.errMu.Unlock()
}

func (m *Manager) lastError() string {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.lastErr
}
