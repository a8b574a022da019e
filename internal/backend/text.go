package backend

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"modelserve/internal/common/fsutil"
)

// TextConfig configures the text-generation adapter. ContextSize, Threads and
// GPULayers apply to both builds; the remaining fields only to the llama-server one.
type TextConfig struct {
	ContextSize int
	Threads     int
	GPULayers   int

	// ServerBin is the llama.cpp server, as a path or a name resolved via PATH.
	ServerBin string
	// ServerArgs are passed before the generated arguments.
	ServerArgs []string
	// Env is appended to the inherited environment of the server.
	Env []string
	// Host the server binds to (default 127.0.0.1).
	Host string
	// ReadyTimeout bounds the wait for the server to answer (default 30s).
	ReadyTimeout time.Duration
	Logger       *zerolog.Logger
}

// resolveWeights finds the GGUF weights for a text model. path may point at the
// weights file itself or at the model directory (the one holding config.json).
func resolveWeights(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: model path is empty", ErrInvalidArtifact)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if !fi.IsDir() {
		return path, nil
	}
	if p, ok := fsutil.FindByExt(path, ".gguf"); ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: no .gguf weights in %s", ErrInvalidArtifact, path)
}

func textRequest(req Request) error {
	if req.Text == nil {
		return fmt.Errorf("%w: text adapter requires a text request", ErrBadInput)
	}
	return nil
}

// completionRequest is the /v1/completions payload.
type completionRequest struct {
	Prompt           string  `json:"prompt"`
	MaxTokens        int     `json:"max_tokens,omitempty"`
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"top_p"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty"`
	Stream           bool    `json:"stream"`
}

// completionChunk is one streamed event. Completion servers fill Text; chat-style
// servers fill Delta.Content.
type completionChunk struct {
	Choices []struct {
		Text  string `json:"text"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}
