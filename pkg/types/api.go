package types

// TextRequest is the payload of a text-generation call.
type TextRequest struct {
	// Prompt text to continue.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	// Maximum number of new tokens to generate.
	// example: 100
	MaxTokens int `json:"max_tokens" example:"100"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature" example:"0.7"`
	// Nucleus sampling probability.
	// example: 1.0
	TopP float64 `json:"top_p" example:"1.0"`
	// Penalty applied to tokens proportionally to their frequency so far.
	// example: 0.0
	FrequencyPenalty float64 `json:"frequency_penalty" example:"0.0"`
	// Penalty applied once to any token already present.
	// example: 0.0
	PresencePenalty float64 `json:"presence_penalty" example:"0.0"`
}

// DefaultTextRequest returns a TextRequest carrying the documented defaults.
// Callers decode user input on top of it so that omitted fields keep their defaults
// while explicit zero values are preserved.
func DefaultTextRequest() TextRequest {
	return TextRequest{
		MaxTokens:        100,
		Temperature:      0.7,
		TopP:             1.0,
		FrequencyPenalty: 0.0,
		PresencePenalty:  0.0,
	}
}

// TextResponse is returned by a text-generation call.
type TextResponse struct {
	// Generated continuation.
	Text string `json:"text"`
	// Approximate whitespace-token count of prompt plus output. A billing heuristic,
	// not a tokenizer count.
	// example: 42
	TokensUsed int `json:"tokens_used" example:"42"`
	// Model that served the request.
	// example: mistral-7b
	Model string `json:"model" example:"mistral-7b"`
}

// ImageRequest is the payload of an image-diffusion call.
type ImageRequest struct {
	// Prompt describing the image.
	// example: a lighthouse at dusk, oil painting
	Prompt string `json:"prompt" example:"a lighthouse at dusk, oil painting"`
	// example: 512
	Width int `json:"width" example:"512"`
	// example: 512
	Height int `json:"height" example:"512"`
	// Number of denoising iterations.
	// example: 50
	Steps int `json:"num_inference_steps" example:"50"`
	// Classifier-free guidance scale.
	// example: 7.5
	GuidanceScale float64 `json:"guidance_scale" example:"7.5"`
}

// DefaultImageRequest returns an ImageRequest carrying the documented defaults.
func DefaultImageRequest() ImageRequest {
	return ImageRequest{
		Width:         512,
		Height:        512,
		Steps:         50,
		GuidanceScale: 7.5,
	}
}

// TensorRequest is the payload of a tensor-graph call.
type TensorRequest struct {
	Inputs map[string]Tensor `json:"inputs"`
}

// TensorResponse is returned by a tensor-graph call.
type TensorResponse struct {
	Outputs map[string]Tensor `json:"outputs"`
	Model   string            `json:"model"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: model not found: mistral-7b
	Error string `json:"error" example:"model not found: mistral-7b"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
	// Error classification (not_found, type_mismatch, ...), when known.
	// example: not_found
	Kind string `json:"kind,omitempty" example:"not_found"`
}

// InstanceStatus summarizes a loaded model for /status.
type InstanceStatus struct {
	// example: mistral-7b
	Name string `json:"name" example:"mistral-7b"`
	// example: text-generation
	Kind string `json:"backend_kind" example:"text-generation"`
	// Lifecycle state (loading, ready, draining).
	// example: ready
	State string `json:"state" example:"ready"`
	// Time the handle was committed (unix seconds).
	LoadedAt int64 `json:"loaded_at_unix,omitempty"`
	// Last time this handle served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// Number of requests currently holding the handle.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Estimated resident size in MB, from the artifact size on disk.
	// example: 1200
	EstMemMB int `json:"est_mem_mb" example:"1200"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Entries that are loading, loaded or draining.
	Instances []InstanceStatus `json:"instances"`
	// Number of models in the catalog.
	// example: 4
	CatalogSize int `json:"catalog_size" example:"4"`
	// Worker pool capacity.
	// example: 8
	Workers int `json:"workers" example:"8"`
	// Estimated memory held by loaded models, in MB.
	// example: 2048
	UsedMB int `json:"used_est_mb" example:"2048"`
	// Available system memory in MB, when it could be read.
	// example: 16384
	AvailableMB uint64 `json:"available_mb,omitempty" example:"16384"`
	// Last load error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the manager in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total number of successful loads.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Total number of unloads.
	// example: 5
	UnloadsTotal uint64 `json:"unloads_total" example:"5"`
}
