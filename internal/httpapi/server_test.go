package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"modelserve/pkg/types"
)

type mockService struct {
	models  []types.Model
	status  types.StatusResponse
	ready   bool
	err     error
	text    types.TextResponse
	image   []byte
	tensors map[string]types.Tensor

	gotText  types.TextRequest
	gotImage types.ImageRequest
	gotName  string
	unloaded string
	loaded   string
}

func (m *mockService) ListAvailableModels() []types.Model {
	return append([]types.Model(nil), m.models...)
}
func (m *mockService) Rescan(ctx context.Context) ([]types.Model, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.models, nil
}
func (m *mockService) GenerateText(ctx context.Context, name string, req types.TextRequest) (types.TextResponse, error) {
	m.gotName, m.gotText = name, req
	if m.err != nil {
		return types.TextResponse{}, m.err
	}
	return m.text, nil
}
func (m *mockService) GenerateImage(ctx context.Context, name string, req types.ImageRequest) ([]byte, error) {
	m.gotName, m.gotImage = name, req
	if m.err != nil {
		return nil, m.err
	}
	return m.image, nil
}
func (m *mockService) RunTensorGraph(ctx context.Context, name string, in map[string]types.Tensor) (map[string]types.Tensor, error) {
	m.gotName = name
	if m.err != nil {
		return nil, m.err
	}
	return m.tensors, nil
}
func (m *mockService) EnsureLoaded(ctx context.Context, name string) error {
	m.loaded = name
	return m.err
}
func (m *mockService) UnloadModel(ctx context.Context, name string) error {
	m.unloaded = name
	return m.err
}
func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) Ready() bool                  { return m.ready }

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var body types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v body=%q", err, w.Body.String())
	}
	return body
}

func TestModelsHandler(t *testing.T) {
	svc := &mockService{models: []types.Model{
		{Name: "mistral-7b", Path: "/m/mistral-7b", Kind: types.KindTextGeneration, Loaded: true},
		{Name: "sd15", Path: "/m/sd15", Kind: types.KindImageDiffusion},
	}}
	r := NewMux(svc)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%s", ct)
	}
	var body types.ModelsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(body.Models) != 2 || body.Models[1].Kind != types.KindImageDiffusion || !body.Models[0].Loaded {
		t.Fatalf("unexpected models: %+v", body.Models)
	}
	if !strings.Contains(w.Body.String(), `"backend_kind":"image-diffusion"`) {
		t.Fatalf("kind not encoded by name: %s", w.Body.String())
	}
}

func TestStatusHandler(t *testing.T) {
	svc := &mockService{status: types.StatusResponse{CatalogSize: 4, Workers: 2}}
	r := NewMux(svc)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.CatalogSize != 4 || body.Workers != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestReadyz(t *testing.T) {
	r := NewMux(&mockService{ready: true})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}

	r = NewMux(&mockService{ready: false})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestTextAppliesDefaults(t *testing.T) {
	svc := &mockService{text: types.TextResponse{Text: "hi there", TokensUsed: 4, Model: "mistral-7b"}}
	w := postJSON(t, NewMux(svc), "/models/mistral-7b/text", `{"prompt":"say hi","temperature":0}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if svc.gotName != "mistral-7b" {
		t.Fatalf("name=%q", svc.gotName)
	}
	got := svc.gotText
	if got.MaxTokens != 100 || got.TopP != 1.0 || got.Temperature != 0 {
		t.Fatalf("defaults not applied or explicit zero lost: %+v", got)
	}
	var body types.TextResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.TokensUsed != 4 || body.Text != "hi there" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestImageReturnsPNG(t *testing.T) {
	svc := &mockService{image: []byte("\x89PNG\r\n\x1a\nrest")}
	w := postJSON(t, NewMux(svc), "/models/sd15/image", `{"prompt":"a cat","width":256}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content-type=%q", ct)
	}
	if !bytes.Equal(w.Body.Bytes(), svc.image) {
		t.Fatalf("body mismatch")
	}
	if svc.gotImage.Width != 256 || svc.gotImage.Height != 512 || svc.gotImage.Steps != 50 || svc.gotImage.GuidanceScale != 7.5 {
		t.Fatalf("unexpected image request: %+v", svc.gotImage)
	}
}

func TestTensorHandler(t *testing.T) {
	svc := &mockService{tensors: map[string]types.Tensor{"y": {Shape: []int64{1}, Data: []float32{0.5}}}}
	w := postJSON(t, NewMux(svc), "/models/resnet/tensor", `{"inputs":{"x":{"shape":[1],"data":[1]}}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var body types.TensorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Model != "resnet" || body.Outputs["y"].Data[0] != 0.5 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestLoadAndUnload(t *testing.T) {
	svc := &mockService{}
	h := NewMux(svc)
	w := postJSON(t, h, "/models/mistral-7b/load", `{}`)
	if w.Code != http.StatusNoContent || svc.loaded != "mistral-7b" {
		t.Fatalf("load status=%d loaded=%q", w.Code, svc.loaded)
	}
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/models/mistral-7b", nil))
	if w.Code != http.StatusNoContent || svc.unloaded != "mistral-7b" {
		t.Fatalf("unload status=%d unloaded=%q", w.Code, svc.unloaded)
	}
}

func TestRescanHandler(t *testing.T) {
	svc := &mockService{models: []types.Model{{Name: "a", Kind: types.KindTensorGraph}}}
	w := postJSON(t, NewMux(svc), "/models/rescan", ``)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var body types.ModelsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(body.Models) != 1 || body.Models[0].Name != "a" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestBadJSON(t *testing.T) {
	w := postJSON(t, NewMux(&mockService{}), "/models/m/text", `{"prompt":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestUnsupportedMediaType(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/models/m/text", bytes.NewBufferString(`{"prompt":"hi"}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestBodyTooLarge(t *testing.T) {
	SetMaxBodyBytes(16)
	defer SetMaxBodyBytes(0)
	w := postJSON(t, NewMux(&mockService{}), "/models/m/text", `{"prompt":"`+strings.Repeat("x", 64)+`"}`)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestBlankPromptReachesService(t *testing.T) {
	svc := &mockService{image: []byte("\x89PNG")}
	h := NewMux(svc)
	if w := postJSON(t, h, "/models/m/text", `{"prompt":""}`); w.Code != http.StatusOK || svc.gotName != "m" {
		t.Fatalf("text: status=%d name=%q", w.Code, svc.gotName)
	}
	if svc.gotText.MaxTokens != types.DefaultTextRequest().MaxTokens {
		t.Fatalf("defaults not applied to a blank prompt: %+v", svc.gotText)
	}
	if w := postJSON(t, h, "/models/sd15/image", `{}`); w.Code != http.StatusOK || svc.gotImage.Prompt != "" {
		t.Fatalf("image: status=%d req=%+v", w.Code, svc.gotImage)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	svc := &mockService{err: mockHTTPError{msg: "nope", code: http.StatusTeapot}}
	w := postJSON(t, NewMux(svc), "/models/m/text", `{"prompt":"hi"}`)
	if w.Code != http.StatusTeapot {
		t.Fatalf("status=%d", w.Code)
	}
	if body := decodeError(t, w); body.Error != "nope" || body.Code != http.StatusTeapot {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestGenericErrorMaps500(t *testing.T) {
	svc := &mockService{err: errors.New("boom")}
	w := postJSON(t, NewMux(svc), "/models/m/image", `{"prompt":"hi"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	if body := decodeError(t, w); body.Kind != "" {
		t.Fatalf("unexpected kind %q", body.Kind)
	}
}

func TestCORSOptIn(t *testing.T) {
	SetCORSOptions(true, []string{"https://ui.example"}, nil, nil)
	defer SetCORSOptions(false, nil, nil, nil)
	req := httptest.NewRequest(http.MethodOptions, "/models", nil)
	req.Header.Set("Origin", "https://ui.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://ui.example" {
		t.Fatalf("allow-origin=%q", got)
	}
}
