package manager

import (
	"context"
	"runtime"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"modelserve/internal/backend"
	"modelserve/internal/registry"
	"modelserve/pkg/types"
)

// MemProbe reports the bytes of system memory currently available for a new model.
type MemProbe func() (uint64, error)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// Registry is the catalog to serve. Nil means an empty catalog.
	Registry *registry.Registry
	// ModelsDir is the root re-read by Rescan.
	ModelsDir string
	// Adapters maps each backend kind to its adapter. Nil uses backend.Defaults.
	Adapters map[types.BackendKind]backend.Adapter
	// Workers bounds concurrent loads and executions (default runtime.NumCPU()).
	Workers int
	// LoadTimeout bounds a background load; zero means no bound beyond Close.
	LoadTimeout time.Duration
	// Logger receives lifecycle logs (default: discard).
	Logger *zerolog.Logger
	// Publisher receives lifecycle events (default: drop).
	Publisher EventPublisher
	// MemProbe is consulted before each load (default: gopsutil virtual memory).
	// Set DisableMemCheck to skip the preflight.
	MemProbe        MemProbe
	DisableMemCheck bool
}

// New builds a Manager over reg with the standard adapters.
func New(reg *registry.Registry, adapters map[types.BackendKind]backend.Adapter) *Manager {
	// Delegate to NewWithConfig to centralize defaults
	return NewWithConfig(ManagerConfig{Registry: reg, Adapters: adapters})
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		reg:         cfg.Registry,
		modelsDir:   cfg.ModelsDir,
		adapters:    cfg.Adapters,
		entries:     xsync.NewMapOf[string, *entry](),
		workers:     cfg.Workers,
		loadTimeout: cfg.LoadTimeout,
		publisher:   cfg.Publisher,
		memProbe:    cfg.MemProbe,
		startTime:   time.Now(),
	}
	if m.reg == nil {
		m.reg = registry.New(nil)
	}
	if m.adapters == nil {
		m.adapters = backend.Defaults(backend.Config{})
	}
	if m.workers <= 0 {
		m.workers = runtime.NumCPU()
	}
	m.pool = semaphore.NewWeighted(int64(m.workers))
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "manager").Logger()
	} else {
		m.log = zerolog.Nop()
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if cfg.DisableMemCheck {
		m.memProbe = nil
	} else if m.memProbe == nil {
		m.memProbe = systemAvailable
	}
	m.baseCtx, m.cancel = context.WithCancel(context.Background())
	return m
}
