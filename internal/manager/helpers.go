package manager

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"

	"modelserve/internal/backend"
	"modelserve/internal/common/fsutil"
	"modelserve/pkg/types"
)

const mib = 1 << 20

// Helper: estimate resident size from the artifact on disk. Returns 0 on error.
func estimateBytes(mdl types.Model) int64 {
	n, err := fsutil.Size(mdl.Path)
	if err != nil {
		return 0
	}
	return n
}

func bytesToMB(n int64) int {
	if n <= 0 {
		return 0
	}
	return int((n + mib - 1) / mib)
}

// systemAvailable reads available memory from the OS.
func systemAvailable() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// preflight refuses a load whose artifact is larger than the memory currently available.
// A probe failure skips the check.
func (m *Manager) preflight(name string, need int64) error {
	if m.memProbe == nil || need <= 0 {
		return nil
	}
	avail, err := m.memProbe()
	if err != nil {
		m.log.Debug().Err(err).Str("model", name).Msg("memory probe failed; skipping preflight")
		return nil
	}
	if uint64(need) > avail {
		return newError(ResourceExhausted, name,
			fmt.Errorf("%w: model needs ~%d MB, %d MB available", backend.ErrResourceExhausted, bytesToMB(need), avail/mib))
	}
	return nil
}

// safeLoad calls the adapter and converts a panic into an error.
func safeLoad(ctx context.Context, a backend.Adapter, path string) (h backend.Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			h = nil
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	h, err = a.Load(ctx, path)
	if err == nil && h == nil {
		err = fmt.Errorf("adapter returned no handle")
	}
	return h, err
}

// safeExecute calls the adapter and converts a panic into an error.
func safeExecute(ctx context.Context, a backend.Adapter, h backend.Handle, req backend.Request) (resp backend.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = backend.Response{}
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return a.Execute(ctx, h, req)
}

// tokensUsed is a whitespace-count heuristic over prompt and output, not a tokenizer count.
func tokensUsed(prompt, text string) int {
	return len(strings.Fields(prompt)) + len(strings.Fields(text))
}
