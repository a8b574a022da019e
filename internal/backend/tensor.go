package backend

import (
	"fmt"
	"sort"
	"strings"

	"modelserve/pkg/types"
)

// TensorConfig configures the tensor-graph adapter.
type TensorConfig struct {
	// SharedLibraryPath points at libonnxruntime; empty uses the platform default.
	SharedLibraryPath string
	// IntraOpThreads bounds per-session parallelism when positive.
	IntraOpThreads int
}

// checkInputs verifies that every required input is present and that each supplied
// tensor's data length matches its shape.
func checkInputs(required []string, got map[string]types.Tensor) error {
	var missing []string
	for _, name := range required {
		if _, ok := got[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrMissingInput, strings.Join(missing, ", "))
	}
	for _, name := range required {
		t := got[name]
		if n := t.Elements(); n != int64(len(t.Data)) {
			return fmt.Errorf("%w: input %q has %d values for shape %v (%d elements)", ErrBadInput, name, len(t.Data), t.Shape, n)
		}
	}
	return nil
}
