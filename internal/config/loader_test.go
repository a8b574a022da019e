package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :9999\nmodels_dir: /tmp\nworkers: 3\nload_timeout: 90s\nsd_bin: /opt/sd\nllama_server_bin: /opt/llama/llama-server\ncors_origins:\n  - https://a.example\n  - https://b.example\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.ModelsDir != "/tmp" || cfg.Workers != 3 || cfg.SDBin != "/opt/sd" || cfg.LlamaServerBin != "/opt/llama/llama-server" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.LoadTimeout.Std() != 90*time.Second {
		t.Fatalf("load_timeout: got %s", cfg.LoadTimeout.Std())
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("cors_origins: %v", cfg.CORSOrigins)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","models_dir":"/m","llama_ctx":4096,"llama_threads":8,"load_timeout":"2m","max_body_bytes":2048}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.ModelsDir != "/m" || cfg.LlamaCtx != 4096 || cfg.LlamaThreads != 8 || cfg.MaxBodyBytes != 2048 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.LoadTimeout.Std() != 2*time.Minute {
		t.Fatalf("load_timeout: got %s", cfg.LoadTimeout.Std())
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\nmodels_dir=\"/x\"\nonnx_lib=\"/usr/lib/libonnxruntime.so\"\njournal_path=\"/var/lib/ms/journal.db\"\nload_timeout=\"45s\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.ModelsDir != "/x" || cfg.ONNXLib != "/usr/lib/libonnxruntime.so" || cfg.JournalPath != "/var/lib/ms/journal.db" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.LoadTimeout.Std() != 45*time.Second {
		t.Fatalf("load_timeout: got %s", cfg.LoadTimeout.Std())
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	p = writeTempFile(t, d, "bad.yaml", "load_timeout: soon\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected invalid duration error")
	}
}

func TestApplyDefaultsAndValidate(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.Addr != DefaultAddr || cfg.ModelsDir != DefaultModelsDir || cfg.MaxBodyBytes != DefaultMaxBodyBytes ||
		cfg.LogLevel != DefaultLogLevel || cfg.LogFormat != DefaultLogFormat {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate defaults: %v", err)
	}

	cfg = Config{Addr: ":1", Workers: 2}
	cfg.ApplyDefaults()
	if cfg.Addr != ":1" || cfg.Workers != 2 {
		t.Fatalf("explicit values overwritten: %+v", cfg)
	}

	if err := (Config{Workers: -1}).Validate(); err == nil {
		t.Fatalf("expected error for negative workers")
	}
	if err := (Config{LogFormat: "xml"}).Validate(); err == nil {
		t.Fatalf("expected error for log format")
	}
}
