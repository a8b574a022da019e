package manager

import (
	"context"
	"errors"
	"time"
)

// Unload drains and releases the handle for name.
//   - Marks the entry draining so no new lease is handed out.
//   - Waits for in-flight leases; if ctx expires first the entry is restored and
//     Timeout is returned.
//   - Closes the handle exactly once; the entry reads as not loaded afterwards.
func (m *Manager) Unload(ctx context.Context, name string) error {
	e, ok := m.entries.Load(name)
	if !ok {
		return newError(NotLoaded, name, nil)
	}
	select {
	case e.op <- struct{}{}:
	case <-ctx.Done():
		return newError(Timeout, name, ctx.Err())
	}
	defer func() { <-e.op }()

	e.mu.Lock()
	if e.handle == nil {
		e.mu.Unlock()
		return newError(NotLoaded, name, nil)
	}
	e.draining = true
	e.state = StateDraining
	var wait chan struct{}
	if e.inflight > 0 {
		wait = make(chan struct{})
		e.drained = wait
	}
	inflight := e.inflight
	e.mu.Unlock()
	m.publish(EventUnloadStart, name, map[string]any{"inflight": inflight})

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			e.mu.Lock()
			e.draining = false
			e.drained = nil
			e.state = StateReady
			left := e.inflight
			e.mu.Unlock()
			m.log.Warn().Str("model", name).Int("inflight", left).Msg("unload timed out while draining")
			m.publish(EventUnloadTimeout, name, map[string]any{"inflight": left})
			return newError(Timeout, name, ctx.Err())
		}
	}

	e.mu.Lock()
	h := e.handle
	e.handle = nil
	e.adapter = nil
	e.draining = false
	e.state = StateUnloaded
	e.loadedAt = time.Time{}
	e.estBytes = 0
	e.mu.Unlock()

	if err := h.Close(); err != nil {
		m.log.Warn().Err(err).Str("model", name).Msg("handle close failed")
	}
	m.unloads.Add(1)
	unloadsTotal.Inc()
	loadedModels.Dec()
	m.log.Info().Str("model", name).Msg("model unloaded")
	m.publish(EventUnloadDone, name, nil)
	return nil
}

// UnloadModel is the dispatcher-facing name for Unload.
func (m *Manager) UnloadModel(ctx context.Context, name string) error {
	return m.Unload(ctx, name)
}

// Close stops new loads, cancels loads in progress and unloads every loaded model.
// A load that finishes after Close releases its own handle instead of committing it.
func (m *Manager) Close(ctx context.Context) error {
	m.lifeMu.Lock()
	first := m.closed.CompareAndSwap(false, true)
	m.lifeMu.Unlock()
	if !first {
		return nil
	}
	m.cancel()
	var errs []error
	m.entries.Range(func(name string, e *entry) bool {
		if !e.loaded() {
			return true
		}
		if err := m.Unload(ctx, name); err != nil && !IsNotLoaded(err) {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}
