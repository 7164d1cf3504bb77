package layers

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	coreerrors "github.com/microsandbox/msbcore/internal/errors"
)

// BlobStore is the subset of blobstore.Store a Layer needs; declared
// here so this package doesn't import blobstore directly and tests can
// supply a minimal fake.
type BlobStore interface {
	TarPath(digest string) string
	ExtractedDir(digest string) string
	HasLayer(digest string) (bool, error)
	RemoveExtracted(digest string) error
}

// ParentContext lists the extracted directories of the layers ordered
// before this one, base-first (base layer at index 0). ExtractAll fills
// it in; the Extraction Engine does not read it, so whiteouts and
// opaque markers are applied only within the layer's own directory.
type ParentContext struct {
	ParentDirs []string
}

// Layer is a single compressed-digest-identified unit of extraction.
// Its mutex serializes state-changing operations on that digest within
// this process, the same role the host repository's
// resource manager gives a per-key semaphore.
type Layer struct {
	Digest    string
	MediaType string
	store     BlobStore
	log       *logrus.Entry
	mu        *sync.Mutex
}

// digestLocks holds one mutex per digest, shared by every Layer handle
// constructed for that digest in this process.
var digestLocks sync.Map

// New returns a Layer handle for digest. Constructing a Layer performs
// no I/O; state is only touched by its methods, each under the lock.
func New(digest, mediaType string, store BlobStore, log *logrus.Logger) *Layer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	mu, _ := digestLocks.LoadOrStore(digest, &sync.Mutex{})
	return &Layer{
		Digest:    digest,
		MediaType: mediaType,
		store:     store,
		log:       log.WithField("digest", digest),
		mu:        mu.(*sync.Mutex),
	}
}

// TarPath is the deterministic path of this layer's downloaded tar.
func (l *Layer) TarPath() string {
	return l.store.TarPath(l.Digest)
}

// ExtractedDir is the deterministic path of this layer's extracted
// content.
func (l *Layer) ExtractedDir() string {
	return l.store.ExtractedDir(l.Digest)
}

// Extracted acquires the layer's lock and reports whether it is
// already extracted, per the Blob Store's non-empty-directory rule.
// The returned unlock function must be called by the caller once it is
// done acting on the result, so the check and any follow-up action
// (extract, cleanup) are atomic with respect to other goroutines
// holding the same digest.
func (l *Layer) Extracted() (bool, func(), error) {
	l.mu.Lock()
	unlock := func() { l.mu.Unlock() }

	extracted, err := l.store.HasLayer(l.Digest)
	if err != nil {
		unlock()
		return false, func() {}, err
	}
	return extracted, unlock, nil
}

// CleanupExtracted removes the extracted directory under the lock, to
// reclaim space after a failed extraction.
func (l *Layer) CleanupExtracted() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.RemoveExtracted(l.Digest)
}

// Extract decodes this layer's tar onto its extracted directory under
// the lock. It is a no-op if the layer is already extracted. On any
// mid-extraction error, the partially written directory is removed so
// a subsequent call observes a clean "not extracted" state (the
// single recovery rule).
func (l *Layer) Extract(ctx context.Context, parent ParentContext) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	extracted, err := l.store.HasLayer(l.Digest)
	if err != nil {
		return err
	}
	if extracted {
		l.log.Debug("layer already extracted, skipping")
		return nil
	}

	tarPath := l.TarPath()
	target := l.ExtractedDir()

	if err := os.MkdirAll(target, 0o755); err != nil {
		return coreerrors.NewLayerExtractionError(l.Digest, "failed to create extraction target", err)
	}

	f, err := os.Open(tarPath)
	if err != nil {
		os.RemoveAll(target)
		return coreerrors.NewLayerExtractionError(l.Digest, "failed to open downloaded tar", err)
	}
	defer f.Close()

	if err := extractArchive(ctx, f, l.MediaType, target, parent); err != nil {
		os.RemoveAll(target)
		return coreerrors.NewLayerExtractionError(l.Digest, "failed to decode layer archive", err)
	}

	l.log.Info("layer extracted")
	return nil
}

// FindDir returns the canonical path of a subdirectory inside this
// layer's extracted content if it exists.
func (l *Layer) FindDir(path string) (string, bool) {
	full := filepath.Join(l.ExtractedDir(), path)
	info, err := os.Stat(full)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return full, true
}
