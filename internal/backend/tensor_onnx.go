//go:build onnx

package backend

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"modelserve/pkg/types"
)

var (
	ortOnce    sync.Once
	ortInitErr error
)

// initRuntime initializes the process-wide ONNX Runtime environment once.
func initRuntime(lib string) error {
	ortOnce.Do(func() {
		if lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

type onnxAdapter struct {
	cfg TensorConfig
}

// NewTensorAdapter returns the tensor-graph adapter.
func NewTensorAdapter(cfg TensorConfig) Adapter {
	return &onnxAdapter{cfg: cfg}
}

// onnxHandle owns one inference session. Session.Run is safe for concurrent use;
// mu only orders Run against Destroy.
type onnxHandle struct {
	mu      sync.RWMutex
	session *ort.DynamicAdvancedSession
	inputs  []string
	outputs []string
}

func (a *onnxAdapter) Kind() types.BackendKind { return types.KindTensorGraph }

func (a *onnxAdapter) Load(ctx context.Context, path string) (Handle, error) {
	if err := initRuntime(a.cfg.SharedLibraryPath); err != nil {
		return nil, fmt.Errorf("%w: onnx runtime: %v", ErrDependencyUnavailable, err)
	}
	ins, outs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	h := &onnxHandle{}
	for _, in := range ins {
		h.inputs = append(h.inputs, in.Name)
	}
	for _, out := range outs {
		h.outputs = append(h.outputs, out.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()
	if a.cfg.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(a.cfg.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("session options: %w", err)
		}
	}
	sess, err := ort.NewDynamicAdvancedSession(path, h.inputs, h.outputs, opts)
	if err != nil {
		if isOOM(err.Error()) {
			return nil, fmt.Errorf("%w: %v", ErrResourceExhausted, err)
		}
		return nil, fmt.Errorf("open session: %w", err)
	}
	h.session = sess
	return h, nil
}

func (a *onnxAdapter) Execute(ctx context.Context, h Handle, req Request) (Response, error) {
	oh, ok := h.(*onnxHandle)
	if !ok {
		return Response{}, fmt.Errorf("%w: unexpected handle %T", ErrBadInput, h)
	}
	if err := checkInputs(oh.inputs, req.Tensor); err != nil {
		return Response{}, err
	}
	oh.mu.RLock()
	defer oh.mu.RUnlock()
	if oh.session == nil {
		return Response{}, ErrHandleClosed
	}

	ins := make([]ort.Value, 0, len(oh.inputs))
	defer func() {
		for _, v := range ins {
			_ = v.Destroy()
		}
	}()
	for _, name := range oh.inputs {
		t := req.Tensor[name]
		v, err := ort.NewTensor(ort.NewShape(t.Shape...), t.Data)
		if err != nil {
			return Response{}, fmt.Errorf("%w: input %q: %v", ErrBadInput, name, err)
		}
		ins = append(ins, v)
	}

	// Nil outputs are allocated by the runtime.
	outs := make([]ort.Value, len(oh.outputs))
	defer func() {
		for _, v := range outs {
			if v != nil {
				_ = v.Destroy()
			}
		}
	}()
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if err := oh.session.Run(ins, outs); err != nil {
		if isOOM(err.Error()) {
			return Response{}, fmt.Errorf("%w: %v", ErrResourceExhausted, err)
		}
		return Response{}, fmt.Errorf("run: %w", err)
	}

	res := make(map[string]types.Tensor, len(outs))
	for i, v := range outs {
		ft, ok := v.(*ort.Tensor[float32])
		if !ok {
			return Response{}, fmt.Errorf("output %q: unsupported element type %T", oh.outputs[i], v)
		}
		res[oh.outputs[i]] = types.Tensor{
			Shape: append([]int64(nil), ft.GetShape()...),
			Data:  append([]float32(nil), ft.GetData()...),
		}
	}
	return Response{Tensor: res}, nil
}

func (h *onnxHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		return nil
	}
	err := h.session.Destroy()
	h.session = nil
	return err
}
