package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"modelserve/pkg/types"
)

// EnsureLoaded makes sure name has a loaded handle. It returns immediately when one
// exists; otherwise concurrent callers share a single adapter Load and observe its
// outcome. A caller whose ctx expires gets Timeout while the load itself continues
// and commits on success.
func (m *Manager) EnsureLoaded(ctx context.Context, name string) error {
	l, err := m.Acquire(ctx, name)
	if err != nil {
		return err
	}
	l.Release()
	return nil
}

// Acquire loads name if needed and pins its handle. The caller must Release the lease.
func (m *Manager) Acquire(ctx context.Context, name string) (*Lease, error) {
	mdl, ok := m.reg.Lookup(name)
	if !ok {
		return nil, newError(NotFound, name, nil)
	}
	return m.acquire(ctx, mdl)
}

func (m *Manager) acquire(ctx context.Context, mdl types.Model) (*Lease, error) {
	e := m.entry(mdl.Name)
	for {
		if l := e.tryLease(); l != nil {
			return l, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, newError(Timeout, mdl.Name, err)
		}
		ch := m.group.DoChan(mdl.Name, func() (any, error) {
			return nil, m.materialize(e, mdl)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			// Loaded; loop to take a lease. An unload may slip in between, in
			// which case the next pass loads again.
		case <-ctx.Done():
			return nil, newError(Timeout, mdl.Name, ctx.Err())
		}
	}
}

// materialize performs one load for e. It runs detached from any caller so that an
// abandoned wait does not abort a load other callers may still be waiting on.
func (m *Manager) materialize(e *entry, mdl types.Model) error {
	ctx := m.baseCtx
	if m.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.loadTimeout)
		defer cancel()
	}

	select {
	case e.op <- struct{}{}:
	case <-ctx.Done():
		return classifyLoad(mdl.Name, ctx.Err())
	}
	defer func() { <-e.op }()

	if e.loaded() {
		return nil
	}
	if m.closed.Load() {
		return newError(LoadFailure, mdl.Name, errClosed)
	}
	adapter, ok := m.adapters[mdl.Kind]
	if !ok {
		return newError(LoadFailure, mdl.Name, fmt.Errorf("no adapter for backend kind %s", mdl.Kind))
	}

	est := estimateBytes(mdl)
	if err := m.preflight(mdl.Name, est); err != nil {
		m.loadFailed(mdl, err, 0)
		return err
	}

	e.setState(StateLoading)
	m.log.Info().Str("model", mdl.Name).Str("kind", mdl.Kind.String()).Str("path", mdl.Path).Msg("loading model")
	m.publish(EventLoadStart, mdl.Name, map[string]any{"kind": mdl.Kind.String(), "path": mdl.Path})

	if err := m.pool.Acquire(ctx, 1); err != nil {
		e.setState(StateUnloaded)
		kerr := classifyLoad(mdl.Name, err)
		m.loadFailed(mdl, kerr, 0)
		return kerr
	}
	start := time.Now()
	h, err := safeLoad(ctx, adapter, mdl.Path)
	m.pool.Release(1)
	dur := time.Since(start)
	if err == nil && m.loadTimeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		// The loader overran load_timeout without honoring ctx; drop its handle.
		if cerr := h.Close(); cerr != nil {
			m.log.Warn().Err(cerr).Str("model", mdl.Name).Msg("handle close failed")
		}
		err = ctx.Err()
	}

	if err != nil {
		e.setState(StateUnloaded)
		kerr := classifyLoad(mdl.Name, err)
		m.loadFailed(mdl, kerr, dur)
		return kerr
	}

	m.lifeMu.RLock()
	if m.closed.Load() {
		m.lifeMu.RUnlock()
		e.setState(StateUnloaded)
		if cerr := h.Close(); cerr != nil {
			m.log.Warn().Err(cerr).Str("model", mdl.Name).Msg("handle close failed")
		}
		kerr := newError(LoadFailure, mdl.Name, errClosed)
		m.loadFailed(mdl, kerr, dur)
		return kerr
	}
	e.commit(h, adapter, mdl.Kind, est)
	m.lifeMu.RUnlock()
	m.loads.Add(1)
	loadedModels.Inc()
	observeLoad(mdl.Kind, nil, dur.Seconds())
	m.log.Info().Str("model", mdl.Name).Dur("dur", dur).Int("est_mb", bytesToMB(est)).Msg("model ready")
	m.publish(EventLoadReady, mdl.Name, map[string]any{"dur_ms": dur.Milliseconds(), "est_mb": bytesToMB(est)})
	return nil
}

func (m *Manager) loadFailed(mdl types.Model, err error, dur time.Duration) {
	m.setLastErr(err)
	observeLoad(mdl.Kind, err, dur.Seconds())
	m.log.Error().Err(err).Str("model", mdl.Name).Str("kind", mdl.Kind.String()).Msg("load failed")
	m.publish(EventLoadFailed, mdl.Name, map[string]any{"error": err.Error(), "kind": resultLabel(err)})
}
