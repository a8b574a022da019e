package types

import (
	"fmt"
	"strings"
)

// BackendKind identifies which execution backend serves a model.
type BackendKind int

const (
	// KindUnknown is the zero value and never appears in a scanned catalog.
	KindUnknown BackendKind = iota
	KindTextGeneration
	KindImageDiffusion
	KindTensorGraph
)

var kindNames = map[BackendKind]string{
	KindTextGeneration: "text-generation",
	KindImageDiffusion: "image-diffusion",
	KindTensorGraph:    "tensor-graph",
}

func (k BackendKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// Valid reports whether k is one of the known backend kinds.
func (k BackendKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseBackendKind parses the textual form produced by String.
func ParseBackendKind(s string) (BackendKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown backend kind %q", s)
}

func (k BackendKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid backend kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *BackendKind) UnmarshalText(b []byte) error {
	v, err := ParseBackendKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Model describes a discoverable model artifact on disk.
type Model struct {
	// Unique catalog name.
	// example: mistral-7b
	Name string `json:"name" example:"mistral-7b"`
	// Absolute path of the artifact (directory or file).
	// example: /srv/models/mistral-7b
	Path string `json:"path" example:"/srv/models/mistral-7b"`
	// Backend kind the artifact was classified as.
	// example: text-generation
	Kind BackendKind `json:"backend_kind" example:"text-generation"`
	// Whether a live handle currently exists for this model.
	Loaded bool `json:"loaded"`
}

// Tensor is a dense float32 tensor exchanged with tensor-graph models.
type Tensor struct {
	Shape []int64   `json:"shape"`
	Data  []float32 `json:"data"`
}

// Elements returns the number of elements implied by Shape. An empty shape is a
// scalar and holds one element.
func (t Tensor) Elements() int64 {
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}
