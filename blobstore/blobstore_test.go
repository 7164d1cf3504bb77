package blobstore

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := New(filepath.Join(root, "tar"), filepath.Join(root, "layers"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestHasLayerAbsent(t *testing.T) {
	s := newTestStore(t)
	has, err := s.HasLayer("sha256:abc")
	if err != nil {
		t.Fatalf("HasLayer: %v", err)
	}
	if has {
		t.Error("HasLayer on never-created digest = true, want false")
	}
}

func TestHasLayerEmptyDirectoryCountsAsAbsent(t *testing.T) {
	s := newTestStore(t)
	if err := os.MkdirAll(s.ExtractedDir("sha256:abc"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	has, err := s.HasLayer("sha256:abc")
	if err != nil {
		t.Fatalf("HasLayer: %v", err)
	}
	if has {
		t.Error("HasLayer on empty directory = true, want false")
	}
}

func TestHasLayerNonEmpty(t *testing.T) {
	s := newTestStore(t)
	dir := s.ExtractedDir("sha256:abc")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "file"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	has, err := s.HasLayer("sha256:abc")
	if err != nil {
		t.Fatalf("HasLayer: %v", err)
	}
	if !has {
		t.Error("HasLayer on non-empty directory = false, want true")
	}
}

func TestRemoveExtractedIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.RemoveExtracted("sha256:missing"); err != nil {
		t.Errorf("RemoveExtracted on absent digest returned error: %v", err)
	}

	dir := s.ExtractedDir("sha256:abc")
	os.MkdirAll(dir, 0o755)
	os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644)

	if err := s.RemoveExtracted("sha256:abc"); err != nil {
		t.Fatalf("RemoveExtracted: %v", err)
	}
	if has, _ := s.HasLayer("sha256:abc"); has {
		t.Error("HasLayer after RemoveExtracted = true, want false")
	}
}

func TestTarPathAndExtractedDirDeterministic(t *testing.T) {
	s := newTestStore(t)
	digest := "sha256:abc123"

	if got := s.TarPath(digest); got != s.TarPath(digest) {
		t.Errorf("TarPath not deterministic: %q != %q", got, s.TarPath(digest))
	}
	if got := s.ExtractedDir(digest); got != s.ExtractedDir(digest) {
		t.Errorf("ExtractedDir not deterministic: %q != %q", got, s.ExtractedDir(digest))
	}
}
