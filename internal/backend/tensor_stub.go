//go:build !onnx

package backend

// No-CGO stub for the tensor-graph adapter, compiled when the 'onnx' build tag is NOT set.

import (
	"context"
	"fmt"

	"modelserve/internal/common/fsutil"
	"modelserve/pkg/types"
)

type onnxAdapter struct {
	cfg TensorConfig
}

// NewTensorAdapter returns the tensor-graph adapter.
func NewTensorAdapter(cfg TensorConfig) Adapter {
	return &onnxAdapter{cfg: cfg}
}

func (a *onnxAdapter) Kind() types.BackendKind { return types.KindTensorGraph }

func (a *onnxAdapter) Load(ctx context.Context, path string) (Handle, error) {
	if !fsutil.PathExists(path) {
		return nil, fmt.Errorf("%w: %s does not exist", ErrInvalidArtifact, path)
	}
	return nil, fmt.Errorf("%w: onnx runtime support not built (missing 'onnx' build tag)", ErrDependencyUnavailable)
}

func (a *onnxAdapter) Execute(ctx context.Context, h Handle, req Request) (Response, error) {
	return Response{}, fmt.Errorf("%w: onnx runtime support not built (missing 'onnx' build tag)", ErrDependencyUnavailable)
}
