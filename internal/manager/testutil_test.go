package manager

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"modelserve/internal/backend"
	"modelserve/internal/registry"
	"modelserve/pkg/types"
)

// fakeAdapter is a lightweight in-memory adapter used for tests.
type fakeAdapter struct {
	kind types.BackendKind

	// loadGate, when set, blocks Load until closed.
	loadGate  chan struct{}
	// ignoreCtx makes Load wait on loadGate alone, like a cgo loader.
	ignoreCtx bool
	loadDelay time.Duration
	loadPanic atomic.Bool
	execDelay time.Duration

	mu      sync.Mutex
	loadErr error
	execErr error

	text  string
	image []byte

	loads  atomic.Int32
	execs  atomic.Int32
	closes atomic.Int32
}

func newFake(kind types.BackendKind) *fakeAdapter {
	return &fakeAdapter{kind: kind, text: "ok", image: []byte("\x89PNG fake")}
}

func (f *fakeAdapter) setLoadErr(err error) {
	f.mu.Lock()
	f.loadErr = err
	f.mu.Unlock()
}

func (f *fakeAdapter) setExecErr(err error) {
	f.mu.Lock()
	f.execErr = err
	f.mu.Unlock()
}

func (f *fakeAdapter) Kind() types.BackendKind { return f.kind }

func (f *fakeAdapter) Load(ctx context.Context, path string) (backend.Handle, error) {
	f.loads.Add(1)
	if f.loadGate != nil && f.ignoreCtx {
		<-f.loadGate
	} else if f.loadGate != nil {
		select {
		case <-f.loadGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.loadDelay > 0 {
		select {
		case <-time.After(f.loadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.loadPanic.Load() {
		panic("loader exploded")
	}
	f.mu.Lock()
	err := f.loadErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &fakeHandle{f: f, path: path}, nil
}

func (f *fakeAdapter) Execute(ctx context.Context, h backend.Handle, req backend.Request) (backend.Response, error) {
	fh := h.(*fakeHandle)
	if fh.closed.Load() {
		return backend.Response{}, backend.ErrHandleClosed
	}
	f.execs.Add(1)
	if f.execDelay > 0 {
		select {
		case <-time.After(f.execDelay):
		case <-ctx.Done():
			return backend.Response{}, ctx.Err()
		}
	}
	f.mu.Lock()
	err := f.execErr
	f.mu.Unlock()
	if err != nil {
		return backend.Response{}, err
	}
	switch f.kind {
	case types.KindTextGeneration:
		return backend.Response{Text: f.text}, nil
	case types.KindImageDiffusion:
		return backend.Response{Image: f.image}, nil
	default:
		return backend.Response{Tensor: req.Tensor}, nil
	}
}

type fakeHandle struct {
	f      *fakeAdapter
	path   string
	closed atomic.Bool
}

func (h *fakeHandle) Close() error {
	if h.closed.CompareAndSwap(false, true) {
		h.f.closes.Add(1)
	}
	return nil
}

// fakes bundles one fake adapter per kind.
type fakes struct {
	text, image, tensor *fakeAdapter
}

func (fs fakes) adapters() map[types.BackendKind]backend.Adapter {
	return map[types.BackendKind]backend.Adapter{
		types.KindTextGeneration: fs.text,
		types.KindImageDiffusion: fs.image,
		types.KindTensorGraph:    fs.tensor,
	}
}

func newFakes() fakes {
	return fakes{
		text:   newFake(types.KindTextGeneration),
		image:  newFake(types.KindImageDiffusion),
		tensor: newFake(types.KindTensorGraph),
	}
}

// testCatalog is the default catalog used by newTestManager.
func testCatalog() []types.Model {
	return []types.Model{
		{Name: "mistral-7b", Path: "/models/mistral-7b", Kind: types.KindTextGeneration},
		{Name: "sd15", Path: "/models/sd15", Kind: types.KindImageDiffusion},
		{Name: "resnet", Path: "/models/resnet.onnx", Kind: types.KindTensorGraph},
	}
}

// newTestManager builds a Manager over models with fake adapters and no memory preflight.
func newTestManager(t *testing.T, models []types.Model, fs fakes) (*Manager, *MemoryPublisher) {
	t.Helper()
	pub := NewMemoryPublisher()
	m := NewWithConfig(ManagerConfig{
		Registry:        registry.New(models),
		Adapters:        fs.adapters(),
		Workers:         4,
		Publisher:       pub,
		DisableMemCheck: true,
	})
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, pub
}

// writeFile creates a file of n bytes under dir and returns its path.
func writeFile(t *testing.T, dir, name string, n int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, make([]byte, n), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func isLoaded(m *Manager, name string) bool {
	for _, mdl := range m.ListAvailableModels() {
		if mdl.Name == name {
			return mdl.Loaded
		}
	}
	return false
}

func modelAt(name, path string) types.Model {
	return types.Model{Name: name, Path: path, Kind: types.KindTextGeneration}
}

func registryOf(models ...types.Model) *registry.Registry { return registry.New(models) }
