package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"modelserve/internal/manager"
	"modelserve/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status, Kind: kind})
}

// writeError maps err onto a status code and writes it. It returns the status written.
func writeError(w http.ResponseWriter, err error) int {
	status := http.StatusInternalServerError
	var he HTTPError
	if errors.As(err, &he) {
		status = he.StatusCode()
	}
	kind := ""
	if k, ok := manager.KindOf(err); ok {
		kind = k.String()
	}
	incrementErrors(kind)
	writeJSONError(w, status, err.Error(), kind)
	return status
}
