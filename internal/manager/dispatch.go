package manager

import (
	"context"
	"errors"
	"fmt"

	"modelserve/internal/backend"
	"modelserve/internal/registry"
	"modelserve/pkg/types"
)

// ListAvailableModels returns the catalog sorted by name with Loaded reflecting whether
// each model currently holds a handle.
func (m *Manager) ListAvailableModels() []types.Model {
	models := m.reg.List()
	for i := range models {
		if e, ok := m.entries.Load(models[i].Name); ok {
			models[i].Loaded = e.loaded()
		}
	}
	return models
}

// Rescan re-reads the models directory and swaps the catalog. Loaded handles are left
// alone, including ones whose name disappeared; they stay unloadable.
func (m *Manager) Rescan(ctx context.Context) ([]types.Model, error) {
	if m.modelsDir == "" {
		return nil, errors.New("rescan: no models directory configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	models, err := registry.NewScanner(m.log).Scan(m.modelsDir)
	if err != nil {
		return nil, fmt.Errorf("rescan: %w", err)
	}
	m.reg.Replace(models)
	m.log.Info().Int("models", m.reg.Len()).Str("dir", m.modelsDir).Msg("catalog rescanned")
	m.publish(EventRescan, "", map[string]any{"models": m.reg.Len()})
	return m.ListAvailableModels(), nil
}

// GenerateText runs a text-generation model.
func (m *Manager) GenerateText(ctx context.Context, name string, req types.TextRequest) (types.TextResponse, error) {
	resp, err := m.dispatch(ctx, name, types.KindTextGeneration, backend.Request{Text: &req})
	if err != nil {
		return types.TextResponse{}, err
	}
	return types.TextResponse{
		Text:       resp.Text,
		TokensUsed: tokensUsed(req.Prompt, resp.Text),
		Model:      name,
	}, nil
}

// GenerateImage runs an image-diffusion model and returns PNG bytes.
func (m *Manager) GenerateImage(ctx context.Context, name string, req types.ImageRequest) ([]byte, error) {
	resp, err := m.dispatch(ctx, name, types.KindImageDiffusion, backend.Request{Image: &req})
	if err != nil {
		return nil, err
	}
	return resp.Image, nil
}

// RunTensorGraph runs a tensor-graph model over named float32 inputs.
func (m *Manager) RunTensorGraph(ctx context.Context, name string, inputs map[string]types.Tensor) (map[string]types.Tensor, error) {
	resp, err := m.dispatch(ctx, name, types.KindTensorGraph, backend.Request{Tensor: inputs})
	if err != nil {
		return nil, err
	}
	return resp.Tensor, nil
}

type execResult struct {
	resp backend.Response
	err  error
}

// dispatch resolves name, checks its kind before any load, pins the handle and runs the
// request on the worker pool. Request parameters are passed through unvalidated.
func (m *Manager) dispatch(ctx context.Context, name string, want types.BackendKind, req backend.Request) (backend.Response, error) {
	mdl, ok := m.reg.Lookup(name)
	if !ok {
		return backend.Response{}, newError(NotFound, name, nil)
	}
	if mdl.Kind != want {
		return backend.Response{}, newError(TypeMismatch, name,
			fmt.Errorf("model is %s, request needs %s", mdl.Kind, want))
	}

	lease, err := m.acquire(ctx, mdl)
	if err != nil {
		observeExec(want, err)
		return backend.Response{}, err
	}
	if lease.Kind != want {
		// The catalog changed kind under a handle loaded earlier.
		lease.Release()
		return backend.Response{}, newError(TypeMismatch, name,
			fmt.Errorf("loaded handle is %s, request needs %s", lease.Kind, want))
	}
	if err := m.pool.Acquire(ctx, 1); err != nil {
		lease.Release()
		kerr := newError(Timeout, name, err)
		observeExec(want, kerr)
		return backend.Response{}, kerr
	}

	done := make(chan execResult, 1)
	go func() {
		defer m.pool.Release(1)
		defer lease.Release()
		resp, err := safeExecute(ctx, lease.Adapter, lease.Handle, req)
		done <- execResult{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			kerr := classifyExec(name, r.err)
			observeExec(want, kerr)
			m.log.Error().Err(r.err).Str("model", name).Str("kind", kerr.Kind.String()).Msg("execution failed")
			m.publish(EventExecFailed, name, map[string]any{"error": r.err.Error(), "kind": kerr.Kind.String()})
			return backend.Response{}, kerr
		}
		observeExec(want, nil)
		return r.resp, nil
	case <-ctx.Done():
		kerr := newError(Timeout, name, ctx.Err())
		observeExec(want, kerr)
		return backend.Response{}, kerr
	}
}
