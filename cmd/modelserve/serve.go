package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"modelserve/internal/backend"
	"modelserve/internal/config"
	"modelserve/internal/httpapi"
	"modelserve/internal/journal"
	"modelserve/internal/manager"
	"modelserve/internal/registry"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(fv *flagValues) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Scan the models directory and serve the HTTP API",
		Example: "  modelserve serve --models-dir ./models --addr :8000",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := fv.resolve()
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log, nil)
		},
	}
}

// serve runs the HTTP API until ctx is done, then shuts down in order: HTTP server,
// manager handles, journal. ready, when non-nil, receives the bound address.
func serve(ctx context.Context, cfg config.Config, log zerolog.Logger, ready chan<- string) error {
	reg, err := registry.LoadDir(cfg.ModelsDir, log)
	if err != nil {
		return err
	}
	log.Info().Str("models_dir", cfg.ModelsDir).Int("models", reg.Len()).Msg("catalog scanned")

	var pub manager.EventPublisher
	var store *journal.Store
	if cfg.JournalPath != "" {
		store, err = journal.Open(cfg.JournalPath, log)
		if err != nil {
			return err
		}
		pub = store
	}

	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Registry:    reg,
		ModelsDir:   cfg.ModelsDir,
		Adapters:    backend.Defaults(adapterConfig(cfg, &log)),
		Workers:     cfg.Workers,
		LoadTimeout: cfg.LoadTimeout.Std(),
		Logger:      &log,
		Publisher:   pub,
	})

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetLogger(log)
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetRequestTimeout(cfg.RequestTimeout.Std())
	httpapi.SetCORSOptions(len(cfg.CORSOrigins) > 0, cfg.CORSOrigins, nil, nil)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = mgr.Close(context.Background())
		if store != nil {
			_ = store.Close()
		}
		return err
	}
	srv := &http.Server{
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Int("workers", mgr.Workers()).Msg("modelserve listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	if ready != nil {
		ready <- ln.Addr().String()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown incomplete; canceling in-flight requests")
		cancelBase()
	}
	if err := mgr.Close(sctx); err != nil {
		log.Warn().Err(err).Msg("unload on shutdown")
	}
	if store != nil {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("close journal")
		}
	}
	return serveErr
}

func adapterConfig(cfg config.Config, log *zerolog.Logger) backend.Config {
	return backend.Config{
		Text: backend.TextConfig{
			ContextSize: cfg.LlamaCtx,
			Threads:     cfg.LlamaThreads,
			GPULayers:   cfg.LlamaGPU,
			ServerBin:   cfg.LlamaServerBin,
		},
		Diffusion: backend.DiffusionConfig{
			Bin:     cfg.SDBin,
			Threads: cfg.SDThreads,
		},
		Tensor: backend.TensorConfig{
			SharedLibraryPath: cfg.ONNXLib,
		},
		Logger: log,
	}
}
