// Package blobstore implements the two content-addressed directories
// on disk: a transient tar download area and the persistent
// extracted-layers cache. It encapsulates the single on-disk question
// every other package needs answered — "does this digest exist, and is
// it non-empty" — so that question is asked the same way everywhere.
package blobstore

import (
	"os"
	"path/filepath"
	"strings"

	coreerrors "github.com/microsandbox/msbcore/internal/errors"
)

const extractedSuffix = ".extracted"

// Store holds the paths to the two directories and creates them on
// first use.
type Store struct {
	tarDownloadDir    string
	extractedLayerDir string
}

// New returns a Store rooted at tarDownloadDir (scratch, may be a temp
// directory) and extractedLayerDir (persistent, survives across
// pulls), creating both if absent.
func New(tarDownloadDir, extractedLayerDir string) (*Store, error) {
	for _, dir := range []string{tarDownloadDir, extractedLayerDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, coreerrors.NewBlobStoreError("init_blob_store", "", "failed to create "+dir, err)
		}
	}
	return &Store{tarDownloadDir: tarDownloadDir, extractedLayerDir: extractedLayerDir}, nil
}

// TarPath returns the deterministic path a layer's downloaded tar is
// stored at.
func (s *Store) TarPath(digest string) string {
	return filepath.Join(s.tarDownloadDir, sanitizeDigest(digest)+".tar")
}

// ExtractedDir returns the deterministic path a layer's extracted
// content is stored at.
func (s *Store) ExtractedDir(digest string) string {
	return filepath.Join(s.extractedLayerDir, sanitizeDigest(digest)+extractedSuffix)
}

// HasLayer reports whether digest's extracted directory exists and is
// non-empty; an empty directory (a partial or interrupted extraction)
// counts as absent.
func (s *Store) HasLayer(digest string) (bool, error) {
	dir := s.ExtractedDir(digest)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, coreerrors.NewBlobStoreError("has_layer", digest, "failed to read extracted directory", err)
	}
	return len(entries) > 0, nil
}

// RemoveExtracted deletes digest's extracted directory if present,
// reclaiming space after a failed or abandoned extraction.
func (s *Store) RemoveExtracted(digest string) error {
	if err := os.RemoveAll(s.ExtractedDir(digest)); err != nil {
		return coreerrors.NewBlobStoreError("remove_extracted", digest, "failed to remove extracted directory", err)
	}
	return nil
}

// RemoveTar deletes digest's downloaded tar file; it is not an error
// for the file to already be absent.
func (s *Store) RemoveTar(digest string) error {
	if err := os.Remove(s.TarPath(digest)); err != nil && !os.IsNotExist(err) {
		return coreerrors.NewBlobStoreError("remove_tar", digest, "failed to remove tar file", err)
	}
	return nil
}

// sanitizeDigest replaces the algorithm separator so digests produce a
// single path component rather than "sha256:<hex>" being read as a
// colon-qualified filename on filesystems that reject it.
func sanitizeDigest(digest string) string {
	return strings.Replace(digest, ":", "-", 1)
}
