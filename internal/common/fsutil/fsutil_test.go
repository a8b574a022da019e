package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestExpandHome(t *testing.T) {
	// Set a deterministic HOME for the duration of this test so we never skip.
	origHome, hadHome := os.LookupEnv("HOME")
	origUserProfile, hadUserProfile := os.LookupEnv("USERPROFILE")
	t.Cleanup(func() {
		if hadHome {
			_ = os.Setenv("HOME", origHome)
		} else {
			_ = os.Unsetenv("HOME")
		}
		if hadUserProfile {
			_ = os.Setenv("USERPROFILE", origUserProfile)
		} else {
			_ = os.Unsetenv("USERPROFILE")
		}
	})

	home := t.TempDir()
	// Configure both env vars for cross-platform behavior of os.UserHomeDir.
	_ = os.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		_ = os.Setenv("USERPROFILE", home)
	}
	// raw path unaffected
	if got, err := ExpandHome("/tmp"); err != nil || got != "/tmp" {
		t.Fatalf("got %q err=%v", got, err)
	}
	// empty path
	if got, err := ExpandHome(""); err != nil || got != "" {
		t.Fatalf("got %q err=%v", got, err)
	}
	// ~ expansion
	p, err := ExpandHome("~")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if p != home {
		t.Fatalf("expected %q, got %q", home, p)
	}
	// ~/subdir
	sub := "test-sub"
	exp, err := ExpandHome("~/" + sub)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if runtime.GOOS == "windows" {
		if filepath.Base(exp) != sub {
			t.Fatalf("unexpected expanded path: %q", exp)
		}
	} else {
		expected := filepath.Join(home, sub)
		if exp != expected {
			t.Fatalf("expected %q, got %q", expected, exp)
		}
	}
}

func TestPathExists(t *testing.T) {
	dir := t.TempDir()
	if !PathExists(dir) {
		t.Fatalf("expected %s to exist", dir)
	}
	if PathExists(filepath.Join(dir, "nope")) {
		t.Fatalf("expected missing path")
	}
}

func TestSizeFileAndDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.bin"), make([]byte, 100), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b.bin"), make([]byte, 50), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	n, err := Size(filepath.Join(dir, "a.bin"))
	if err != nil || n != 100 {
		t.Fatalf("file size=%d err=%v", n, err)
	}
	n, err = Size(dir)
	if err != nil || n != 150 {
		t.Fatalf("dir size=%d err=%v", n, err)
	}
	if _, err := Size(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("expected error for missing path")
	}
}

func TestFindByExt(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"b.GGUF", "a.txt", "c.gguf"} {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	p, ok := FindByExt(dir, ".gguf")
	if !ok || filepath.Base(p) != "b.GGUF" {
		t.Fatalf("got %q ok=%v", p, ok)
	}
	if _, ok := FindByExt(dir, ".safetensors"); ok {
		t.Fatalf("expected no match")
	}
}
