package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelserve/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListAvailableModels() []types.Model
	Rescan(ctx context.Context) ([]types.Model, error)
	GenerateText(ctx context.Context, name string, req types.TextRequest) (types.TextResponse, error)
	GenerateImage(ctx context.Context, name string, req types.ImageRequest) ([]byte, error)
	RunTensorGraph(ctx context.Context, name string, inputs map[string]types.Tensor) (map[string]types.Tensor, error)
	EnsureLoaded(ctx context.Context, name string) error
	UnloadModel(ctx context.Context, name string) error
	Status() types.StatusResponse
	Ready() bool
}

// NewMux builds the HTTP API over svc. If svc implements Done() <-chan struct{}, model
// requests in flight are canceled once it is closed.
func NewMux(svc Service) http.Handler {
	var done <-chan struct{}
	if sn, ok := svc.(shutdownNotifier); ok {
		done = sn.Done()
	}
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5, "application/json"))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: orDefault(corsAllowedOrigins, []string{"*"}),
			AllowedMethods: orDefault(corsAllowedMethods, []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
			AllowedHeaders: orDefault(corsAllowedHeaders, []string{"Content-Type", "X-Log-Level"}),
			MaxAge:         300,
		}))
	}

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: svc.ListAvailableModels()})
	})

	r.Post("/models/rescan", func(w http.ResponseWriter, r *http.Request) {
		models, err := svc.Rescan(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: models})
	})

	r.Post("/models/{name}/text", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		req := types.DefaultTextRequest()
		if !decodeJSON(w, r, &req) {
			return
		}
		serveModel(w, r, done, "text", name, func(ctx context.Context, w http.ResponseWriter) error {
			resp, err := svc.GenerateText(ctx, name, req)
			if err != nil {
				return err
			}
			writeJSON(w, http.StatusOK, resp)
			return nil
		})
	})

	r.Post("/models/{name}/image", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		req := types.DefaultImageRequest()
		if !decodeJSON(w, r, &req) {
			return
		}
		serveModel(w, r, done, "image", name, func(ctx context.Context, w http.ResponseWriter) error {
			img, err := svc.GenerateImage(ctx, name, req)
			if err != nil {
				return err
			}
			w.Header().Set("Content-Type", "image/png")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(img)
			return nil
		})
	})

	r.Post("/models/{name}/tensor", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		var req types.TensorRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		serveModel(w, r, done, "tensor", name, func(ctx context.Context, w http.ResponseWriter) error {
			out, err := svc.RunTensorGraph(ctx, name, req.Inputs)
			if err != nil {
				return err
			}
			writeJSON(w, http.StatusOK, types.TensorResponse{Outputs: out, Model: name})
			return nil
		})
	})

	r.Post("/models/{name}/load", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		serveModel(w, r, done, "load", name, func(ctx context.Context, w http.ResponseWriter) error {
			if err := svc.EnsureLoaded(ctx, name); err != nil {
				return err
			}
			w.WriteHeader(http.StatusNoContent)
			return nil
		})
	})

	r.Delete("/models/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		serveModel(w, r, done, "unload", name, func(ctx context.Context, w http.ResponseWriter) error {
			if err := svc.UnloadModel(ctx, name); err != nil {
				return err
			}
			w.WriteHeader(http.StatusNoContent)
			return nil
		})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// serveModel runs fn under the request context, maps its error and logs the request
// with the status actually written. fn writes the success response itself.
func serveModel(w http.ResponseWriter, r *http.Request, done <-chan struct{}, op, name string, fn func(ctx context.Context, w http.ResponseWriter) error) {
	start := time.Now()
	logStart(r, op, name)

	ctx, cancel := requestContext(r, done)
	defer cancel()

	sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	err := fn(ctx, sr)
	switch {
	case err == nil:
	case r.Context().Err() != nil:
		// Client went away; nothing useful to write.
		sr.status = 499
	case shutdownCause(ctx):
		incrementErrors("")
		writeJSONError(sr, http.StatusServiceUnavailable, errShuttingDown.Error(), "")
	default:
		writeError(sr, err)
	}
	logEnd(r, op, name, sr.status, start, err)
}

// decodeJSON enforces the JSON content type and body limit, then decodes into v.
// It writes the error response and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", "")
		return false
	}
	// Limit body size (configurable, default 1MiB)
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooBig.Limit), "")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body", "")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger().Warn().Err(err).Msg("encode response")
	}
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
