package main

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"modelserve/internal/config"
)

// flagValues mirrors config.Config for the CLI. Zero values mean "not given" so that
// file values survive.
type flagValues struct {
	configPath   string
	addr         string
	modelsDir    string
	workers      int
	loadTimeout  time.Duration
	reqTimeout   time.Duration
	llamaCtx     int
	llamaThreads int
	llamaGPU     int
	llamaBin     string
	sdBin        string
	sdThreads    int
	onnxLib      string
	journalPath  string
	maxBodyBytes int64
	logLevel     string
	logFormat    string
	corsOrigins  string
}

func newRootCmd() *cobra.Command { return newRootCmdWith(&flagValues{}) }

// newRootCmdWith builds the command tree with flags bound to fv.
func newRootCmdWith(fv *flagValues) *cobra.Command {
	root := &cobra.Command{
		Use:           "modelserve",
		Short:         "Serve local text, image and tensor models over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags; MODELSERVE_* env vars provide the defaults.
	pf := root.PersistentFlags()
	pf.StringVar(&fv.configPath, "config", env("MODELSERVE_CONFIG", ""), "Config file (.yaml, .yml, .json, .toml)")
	pf.StringVar(&fv.addr, "addr", env("MODELSERVE_ADDR", ""), "HTTP listen address (default "+config.DefaultAddr+")")
	pf.StringVar(&fv.modelsDir, "models-dir", env("MODELSERVE_MODELS_DIR", ""), "Artifact root to scan (default "+config.DefaultModelsDir+")")
	pf.IntVar(&fv.workers, "workers", envInt("MODELSERVE_WORKERS", 0), "Concurrent loads and executions (0=number of CPUs)")
	pf.DurationVar(&fv.loadTimeout, "load-timeout", envDuration("MODELSERVE_LOAD_TIMEOUT", 0), "Bound on a single model load (0=unbounded)")
	pf.DurationVar(&fv.reqTimeout, "request-timeout", envDuration("MODELSERVE_REQUEST_TIMEOUT", 0), "Bound on a single HTTP model request (0=unbounded)")
	pf.IntVar(&fv.llamaCtx, "llama-ctx", envInt("MODELSERVE_LLAMA_CTX", 0), "Context size for text models (0=backend default)")
	pf.IntVar(&fv.llamaThreads, "llama-threads", envInt("MODELSERVE_LLAMA_THREADS", 0), "Threads per text generation (0=backend default)")
	pf.IntVar(&fv.llamaGPU, "llama-gpu-layers", envInt("MODELSERVE_LLAMA_GPU_LAYERS", 0), "Layers offloaded to the GPU for text models")
	pf.StringVar(&fv.llamaBin, "llama-server-bin", env("MODELSERVE_LLAMA_SERVER_BIN", ""), "llama.cpp server started per text model (default llama-server)")
	pf.StringVar(&fv.sdBin, "sd-bin", env("MODELSERVE_SD_BIN", ""), "stable-diffusion.cpp server started per image model (default sd-server)")
	pf.IntVar(&fv.sdThreads, "sd-threads", envInt("MODELSERVE_SD_THREADS", 0), "Threads per image generation (0=backend default)")
	pf.StringVar(&fv.onnxLib, "onnx-lib", env("MODELSERVE_ONNX_LIB", ""), "Path to the onnxruntime shared library")
	pf.StringVar(&fv.journalPath, "journal", env("MODELSERVE_JOURNAL", ""), "SQLite file for lifecycle events (empty=disabled)")
	pf.Int64Var(&fv.maxBodyBytes, "max-body-bytes", envInt64("MODELSERVE_MAX_BODY_BYTES", 0), "Maximum JSON request body size")
	pf.StringVar(&fv.logLevel, "log-level", env("MODELSERVE_LOG_LEVEL", ""), "Log level: debug|info|warn|error")
	pf.StringVar(&fv.logFormat, "log-format", env("MODELSERVE_LOG_FORMAT", ""), "Log format: console|json")
	pf.StringVar(&fv.corsOrigins, "cors-origins", env("MODELSERVE_CORS_ORIGINS", ""), "Comma-separated CORS origins (empty=CORS disabled)")

	root.AddCommand(newServeCmd(fv), newScanCmd(fv), newJournalCmd(fv))
	return root
}

// resolve loads the config file (if any), overlays given flags and applies defaults.
func (fv *flagValues) resolve() (config.Config, error) {
	var cfg config.Config
	if fv.configPath != "" {
		c, err := config.Load(fv.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	overlay(&cfg.Addr, fv.addr)
	overlay(&cfg.ModelsDir, fv.modelsDir)
	overlay(&cfg.LlamaServerBin, fv.llamaBin)
	overlay(&cfg.SDBin, fv.sdBin)
	overlay(&cfg.ONNXLib, fv.onnxLib)
	overlay(&cfg.JournalPath, fv.journalPath)
	overlay(&cfg.LogLevel, fv.logLevel)
	overlay(&cfg.LogFormat, fv.logFormat)
	overlay(&cfg.Workers, fv.workers)
	overlay(&cfg.LlamaCtx, fv.llamaCtx)
	overlay(&cfg.LlamaThreads, fv.llamaThreads)
	overlay(&cfg.LlamaGPU, fv.llamaGPU)
	overlay(&cfg.SDThreads, fv.sdThreads)
	overlay(&cfg.MaxBodyBytes, fv.maxBodyBytes)
	overlay(&cfg.LoadTimeout, config.Duration(fv.loadTimeout))
	overlay(&cfg.RequestTimeout, config.Duration(fv.reqTimeout))
	if origins := splitCSV(fv.corsOrigins); len(origins) > 0 {
		cfg.CORSOrigins = origins
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func overlay[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

// newLogger builds the process logger from the configured level and format.
func newLogger(level, format string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if strings.EqualFold(format, "json") {
		return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).Level(lvl).With().Timestamp().Logger()
}

// splitCSV splits a comma-separated list, trimming spaces and dropping empty items.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if n, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil {
		return n
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return def
}
