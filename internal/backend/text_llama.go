//go:build llama

package backend

import (
	"context"
	"fmt"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"

	"modelserve/pkg/types"
)

// llamaTextAdapter runs GGUF text models in-process through go-llama.cpp.
type llamaTextAdapter struct {
	cfg TextConfig
}

// NewTextAdapter returns the text-generation adapter.
func NewTextAdapter(cfg TextConfig) Adapter {
	return &llamaTextAdapter{cfg: cfg}
}

// llamaHandle owns one loaded model. The llama context is not safe for concurrent
// prediction, so Execute serializes on mu.
type llamaHandle struct {
	mu      sync.Mutex
	model   *llama.LLama
	weights string
}

func (a *llamaTextAdapter) Kind() types.BackendKind { return types.KindTextGeneration }

func (a *llamaTextAdapter) Load(ctx context.Context, path string) (Handle, error) {
	weights, err := resolveWeights(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := []llama.ModelOption{llama.EnableMemoryMapping}
	if a.cfg.ContextSize > 0 {
		opts = append(opts, llama.SetContext(a.cfg.ContextSize))
	}
	if a.cfg.GPULayers > 0 {
		opts = append(opts, llama.SetGPULayers(a.cfg.GPULayers))
	}
	m, err := llama.New(weights, opts...)
	if err != nil {
		if isOOM(err.Error()) {
			return nil, fmt.Errorf("%w: %v", ErrResourceExhausted, err)
		}
		return nil, fmt.Errorf("load %s: %w", weights, err)
	}
	return &llamaHandle{model: m, weights: weights}, nil
}

func (a *llamaTextAdapter) Execute(ctx context.Context, h Handle, req Request) (Response, error) {
	if err := textRequest(req); err != nil {
		return Response{}, err
	}
	lh, ok := h.(*llamaHandle)
	if !ok {
		return Response{}, fmt.Errorf("%w: unexpected handle %T", ErrBadInput, h)
	}
	lh.mu.Lock()
	defer lh.mu.Unlock()
	if lh.model == nil {
		return Response{}, ErrHandleClosed
	}

	p := req.Text
	po := []llama.PredictOption{
		llama.SetTokens(p.MaxTokens),
		llama.SetTemperature(float32(p.Temperature)),
		llama.SetTopP(float32(p.TopP)),
		llama.SetFrequencyPenalty(float32(p.FrequencyPenalty)),
		llama.SetPresencePenalty(float32(p.PresencePenalty)),
		llama.SetTokenCallback(func(string) bool {
			// Returning false stops generation once the caller is gone.
			return ctx.Err() == nil
		}),
	}
	if a.cfg.Threads > 0 {
		po = append(po, llama.SetThreads(a.cfg.Threads))
	}
	text, err := lh.model.Predict(p.Prompt, po...)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, err
	}
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}
	return Response{Text: text}, nil
}

func (h *llamaHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.model != nil {
		h.model.Free()
		h.model = nil
	}
	return nil
}
