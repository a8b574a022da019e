package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"modelserve/internal/common/fsutil"
	"modelserve/pkg/types"
)

const (
	defaultDiffusionBin = "sd-server"
	diffusionIndexFile  = "model_index.json"
)

// DiffusionConfig configures the image-diffusion adapter.
type DiffusionConfig struct {
	// Bin is the stable-diffusion.cpp server, as a path or a name resolved via PATH.
	Bin string
	// BinArgs are passed before the generated arguments.
	BinArgs []string
	// Threads is forwarded as -t when positive.
	Threads int
	// Env is appended to the inherited environment of the server.
	Env []string
	// Host the server binds to (default 127.0.0.1).
	Host string
	// ReadyTimeout bounds the wait for the server to answer (default 30s).
	ReadyTimeout time.Duration
	Logger       *zerolog.Logger
}

// diffusionAdapter keeps one stable-diffusion.cpp server per loaded pipeline, so the
// weights are read once on Load rather than on every request.
type diffusionAdapter struct {
	cfg DiffusionConfig
}

// NewDiffusionAdapter returns the image-diffusion adapter.
func NewDiffusionAdapter(cfg DiffusionConfig) Adapter {
	if strings.TrimSpace(cfg.Bin) == "" {
		cfg.Bin = defaultDiffusionBin
	}
	return &diffusionAdapter{cfg: cfg}
}

type diffusionHandle struct {
	proc    *serverProcess
	weights string

	mu     sync.RWMutex
	closed bool
}

func (a *diffusionAdapter) Kind() types.BackendKind { return types.KindImageDiffusion }

func (a *diffusionAdapter) Load(ctx context.Context, path string) (Handle, error) {
	if !fsutil.PathExists(filepath.Join(path, diffusionIndexFile)) {
		return nil, fmt.Errorf("%w: %s has no %s", ErrInvalidArtifact, path, diffusionIndexFile)
	}
	weights := path
	if p, ok := fsutil.FindByExt(path, ".safetensors", ".gguf", ".ckpt"); ok {
		weights = p
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proc, err := startServer(ctx, serverSpec{
		name:    "sd-server",
		bin:     a.cfg.Bin,
		preArgs: a.cfg.BinArgs,
		args: func(host string, port int) []string {
			args := []string{"-m", weights, "--listen-ip", host, "--listen-port", strconv.Itoa(port)}
			if a.cfg.Threads > 0 {
				args = append(args, "-t", strconv.Itoa(a.cfg.Threads))
			}
			return args
		},
		env:          a.cfg.Env,
		host:         a.cfg.Host,
		readyPath:    "/",
		readyTimeout: a.cfg.ReadyTimeout,
		log:          loggerOrNop(a.cfg.Logger),
	})
	if err != nil {
		return nil, err
	}
	return &diffusionHandle{proc: proc, weights: weights}, nil
}

// txt2imgRequest is the /sdapi/v1/txt2img payload.
type txt2imgRequest struct {
	Prompt    string  `json:"prompt"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Steps     int     `json:"steps"`
	CFGScale  float64 `json:"cfg_scale"`
	BatchSize int     `json:"batch_size"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
}

func (a *diffusionAdapter) Execute(ctx context.Context, h Handle, req Request) (Response, error) {
	if req.Image == nil {
		return Response{}, fmt.Errorf("%w: diffusion adapter requires an image request", ErrBadInput)
	}
	dh, ok := h.(*diffusionHandle)
	if !ok {
		return Response{}, fmt.Errorf("%w: unexpected handle %T", ErrBadInput, h)
	}
	dh.mu.RLock()
	defer dh.mu.RUnlock()
	if dh.closed {
		return Response{}, ErrHandleClosed
	}
	if err := dh.proc.alive(); err != nil {
		return Response{}, err
	}

	p := req.Image
	body, err := json.Marshal(txt2imgRequest{
		Prompt:    p.Prompt,
		Width:     p.Width,
		Height:    p.Height,
		Steps:     p.Steps,
		CFGScale:  p.GuidanceScale,
		BatchSize: 1,
	})
	if err != nil {
		return Response{}, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, dh.proc.baseURL+"/sdapi/v1/txt2img", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	resp, err := dh.proc.client.Do(hreq)
	if err != nil {
		return Response{}, dh.proc.requestError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return Response{}, dh.proc.responseError(resp)
	}

	var out txt2imgResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, dh.proc.requestError(ctx, fmt.Errorf("decode response: %w", err))
	}
	if len(out.Images) == 0 {
		return Response{}, fmt.Errorf("sd-server returned no image")
	}
	b, err := base64.StdEncoding.DecodeString(out.Images[0])
	if err != nil {
		return Response{}, fmt.Errorf("decode image: %w", err)
	}
	if _, err := png.DecodeConfig(bytes.NewReader(b)); err != nil {
		return Response{}, fmt.Errorf("decode output: %w", err)
	}
	return Response{Image: b}, nil
}

// Close waits for running executions and stops the server.
func (h *diffusionHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.proc.stop()
	return nil
}
