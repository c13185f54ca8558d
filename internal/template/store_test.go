package template

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
}

func TestStoreLoadsAndCaches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "landing.html")
	writeFile(t, path, "v1")

	s := NewStore(path, zap.NewNop())
	if s.Status() != StatusEmpty {
		t.Fatalf("status before first Get = %q", s.Status())
	}

	data, err := s.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "v1" {
		t.Fatalf("got %q, want v1", data)
	}
	if s.Status() != StatusLoaded {
		t.Fatalf("status = %q, want loaded", s.Status())
	}
}

func TestStoreReloadsOnMtimeChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "landing.html")
	writeFile(t, path, "v1")

	s := NewStore(path, zap.NewNop())
	if _, err := s.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}

	writeFile(t, path, "v2")
	// Force a distinct mtime; some filesystems have coarse resolution.
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	data, err := s.Get()
	if err != nil {
		t.Fatalf("Get after change: %v", err)
	}
	if string(data) != "v2" {
		t.Fatalf("got %q, want v2", data)
	}
}

func TestStoreServesLastKnownWhenFileRemoved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "landing.html")
	writeFile(t, path, "v1")

	s := NewStore(path, zap.NewNop())
	if _, err := s.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	data, err := s.Get()
	if err != nil {
		t.Fatalf("Get after remove: %v", err)
	}
	if string(data) != "v1" {
		t.Fatalf("got %q, want last-known v1", data)
	}
	if s.Status() != StatusStale {
		t.Fatalf("status = %q, want stale", s.Status())
	}
}

func TestStoreNeverLoaded(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing.html"), zap.NewNop())
	if _, err := s.Get(); err != ErrNotLoaded {
		t.Fatalf("err = %v, want ErrNotLoaded", err)
	}
	if s.Status() != StatusEmpty {
		t.Fatalf("status = %q, want empty", s.Status())
	}
}
