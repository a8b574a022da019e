//go:build !llama

package backend

// Default text adapter: each handle owns a llama.cpp server process started on Load
// and stopped on Close. Builds stay CGO-free; the 'llama' tag swaps in go-llama.cpp.

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"modelserve/pkg/types"
)

const defaultLlamaServerBin = "llama-server"

type serverTextAdapter struct {
	cfg TextConfig
}

// NewTextAdapter returns the text-generation adapter.
func NewTextAdapter(cfg TextConfig) Adapter {
	if strings.TrimSpace(cfg.ServerBin) == "" {
		cfg.ServerBin = defaultLlamaServerBin
	}
	return &serverTextAdapter{cfg: cfg}
}

type serverTextHandle struct {
	proc    *serverProcess
	weights string

	mu     sync.RWMutex
	closed bool
}

func (a *serverTextAdapter) Kind() types.BackendKind { return types.KindTextGeneration }

func (a *serverTextAdapter) Load(ctx context.Context, path string) (Handle, error) {
	weights, err := resolveWeights(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proc, err := startServer(ctx, serverSpec{
		name:    "llama-server",
		bin:     a.cfg.ServerBin,
		preArgs: a.cfg.ServerArgs,
		args: func(host string, port int) []string {
			args := []string{"-m", weights, "--host", host, "--port", strconv.Itoa(port)}
			if a.cfg.ContextSize > 0 {
				args = append(args, "-c", strconv.Itoa(a.cfg.ContextSize))
			}
			if a.cfg.GPULayers > 0 {
				args = append(args, "-ngl", strconv.Itoa(a.cfg.GPULayers))
			}
			if a.cfg.Threads > 0 {
				args = append(args, "-t", strconv.Itoa(a.cfg.Threads))
			}
			return args
		},
		env:          a.cfg.Env,
		host:         a.cfg.Host,
		readyPath:    "/v1/models",
		readyTimeout: a.cfg.ReadyTimeout,
		log:          loggerOrNop(a.cfg.Logger),
	})
	if err != nil {
		return nil, err
	}
	return &serverTextHandle{proc: proc, weights: weights}, nil
}

func (a *serverTextAdapter) Execute(ctx context.Context, h Handle, req Request) (Response, error) {
	if err := textRequest(req); err != nil {
		return Response{}, err
	}
	th, ok := h.(*serverTextHandle)
	if !ok {
		return Response{}, fmt.Errorf("%w: unexpected handle %T", ErrBadInput, h)
	}
	th.mu.RLock()
	defer th.mu.RUnlock()
	if th.closed {
		return Response{}, ErrHandleClosed
	}
	if err := th.proc.alive(); err != nil {
		return Response{}, err
	}

	p := req.Text
	body, err := json.Marshal(completionRequest{
		Prompt:           p.Prompt,
		MaxTokens:        p.MaxTokens,
		Temperature:      p.Temperature,
		TopP:             p.TopP,
		FrequencyPenalty: p.FrequencyPenalty,
		PresencePenalty:  p.PresencePenalty,
		Stream:           true,
	})
	if err != nil {
		return Response{}, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, th.proc.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")
	resp, err := th.proc.client.Do(hreq)
	if err != nil {
		return Response{}, th.proc.requestError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return Response{}, th.proc.responseError(resp)
	}

	var sb strings.Builder
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk completionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil || len(chunk.Choices) == 0 {
			continue
		}
		c := chunk.Choices[0]
		if c.Text != "" {
			sb.WriteString(c.Text)
		} else {
			sb.WriteString(c.Delta.Content)
		}
	}
	if err := sc.Err(); err != nil {
		return Response{}, th.proc.requestError(ctx, err)
	}
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}
	return Response{Text: sb.String()}, nil
}

// Close waits for running executions and stops the server.
func (h *serverTextHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.proc.stop()
	return nil
}
