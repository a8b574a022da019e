// Package backend implements the execution adapters, one per backend kind.
//
// Each adapter turns an on-disk artifact into a Handle (Load) and runs requests against
// that handle (Execute). Adapters never touch catalog state; they only own the resources
// behind their handles, and Handle.Close releases those resources deterministically.
//
// Build tags:
//
//   - llama: in-process text generation through go-llama.cpp (cgo). Without the tag each
//     text handle owns a llama.cpp server process (llama-server) spoken to over HTTP.
//   - onnx: tensor graphs through ONNX Runtime (cgo + shared library). Without the tag the
//     tensor adapter refuses to load with ErrDependencyUnavailable.
//
// The diffusion adapter keeps a stable-diffusion.cpp server (sd-server) per handle and
// needs no tag. A missing server binary fails Load with ErrDependencyUnavailable.
package backend

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"modelserve/pkg/types"
)

var (
	// ErrDependencyUnavailable reports that the runtime needed by an adapter is not
	// compiled in or cannot be found on this host.
	ErrDependencyUnavailable = errors.New("backend dependency unavailable")
	// ErrResourceExhausted reports an out-of-memory condition in the backend.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrInvalidArtifact reports a malformed or incomplete model artifact.
	ErrInvalidArtifact = errors.New("invalid model artifact")
	// ErrMissingInput reports that a required named input was not supplied.
	ErrMissingInput = errors.New("missing required input")
	// ErrBadInput reports an input that does not match what the model expects.
	ErrBadInput = errors.New("bad input")
	// ErrHandleClosed reports use of a handle after Close.
	ErrHandleClosed = errors.New("handle closed")
)

// Handle is a loaded, backend-specific resource.
type Handle interface {
	// Close releases everything the handle owns. It is called exactly once, after the
	// last Execute on the handle has returned.
	Close() error
}

// Request carries the modality-specific parameters of one execution. Exactly one field
// is set, matching the adapter's kind.
type Request struct {
	Text   *types.TextRequest
	Image  *types.ImageRequest
	Tensor map[string]types.Tensor
}

// Response carries the modality-specific result of one execution.
type Response struct {
	Text   string
	Image  []byte
	Tensor map[string]types.Tensor
}

// Adapter loads artifacts of one backend kind and executes requests against them.
type Adapter interface {
	Kind() types.BackendKind
	Load(ctx context.Context, path string) (Handle, error)
	Execute(ctx context.Context, h Handle, req Request) (Response, error)
}

// Config groups per-adapter settings.
type Config struct {
	Text      TextConfig
	Diffusion DiffusionConfig
	Tensor    TensorConfig
	// Logger is handed to adapters whose own config leaves it nil.
	Logger *zerolog.Logger
}

// Defaults builds the standard adapter set keyed by kind.
func Defaults(cfg Config) map[types.BackendKind]Adapter {
	if cfg.Text.Logger == nil {
		cfg.Text.Logger = cfg.Logger
	}
	if cfg.Diffusion.Logger == nil {
		cfg.Diffusion.Logger = cfg.Logger
	}
	return map[types.BackendKind]Adapter{
		types.KindTextGeneration: NewTextAdapter(cfg.Text),
		types.KindImageDiffusion: NewDiffusionAdapter(cfg.Diffusion),
		types.KindTensorGraph:    NewTensorAdapter(cfg.Tensor),
	}
}

// isOOM reports whether a backend error message describes an allocation failure.
func isOOM(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "out of memory") ||
		strings.Contains(msg, "failed to allocate") ||
		strings.Contains(msg, "cuda error 2")
}
