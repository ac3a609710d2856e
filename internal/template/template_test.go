package template

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_EmptyPath(t *testing.T) {
	m, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != nil {
		t.Fatalf("expected nil map for empty path, got %v", m)
	}
	if _, ok := m.Lookup("BMP_ROUTER"); ok {
		t.Fatal("expected lookup on nil map to miss")
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")
	content := "bindings:\n  BMP_ROUTER: routers.v1\n  BMP_PEER: peers.v1\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	topic, ok := m.Lookup("BMP_ROUTER")
	if !ok || topic != "routers.v1" {
		t.Fatalf("expected BMP_ROUTER -> routers.v1, got %q, %v", topic, ok)
	}

	if _, ok := m.Lookup("BMP_UNKNOWN"); ok {
		t.Fatal("expected lookup miss for unbound entity")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/templates.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
