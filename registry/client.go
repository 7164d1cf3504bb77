package registry

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	ggcrv1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	ggcrtypes "github.com/google/go-containerregistry/pkg/v1/types"
	digest "github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/microsandbox/msbcore/blobstore"
	"github.com/microsandbox/msbcore/catalog"
	"github.com/microsandbox/msbcore/credentials"
	coreerrors "github.com/microsandbox/msbcore/internal/errors"
	msbtypes "github.com/microsandbox/msbcore/internal/types"
	"github.com/microsandbox/msbcore/layers"
	"github.com/microsandbox/msbcore/reference"
)

// Client talks to an OCI distribution endpoint on behalf of a single
// pull: it resolves auth, fetches the index/manifest/config, streams
// layer blobs into the Blob Store, records rows in the Catalog, and
// drives the Extraction Engine. It is parametrized by a platform
// selector, which the Image Pipeline defaults to linux/amd64 because
// the downstream hypervisor only mounts a Linux root.
type Client struct {
	Platform    msbtypes.Platform
	Credentials *credentials.Store
	Blobs       *blobstore.Store
	Catalog     *catalog.Catalog
	Transport   http.RoundTripper

	log *logrus.Entry
}

// NewClient constructs a Client wired to the given collaborators.
// platform is chosen by the caller; the Image Pipeline passes
// PullOptions.Platform, which defaults to msbtypes.LinuxPlatform() and
// is not restricted to a Linux OS when set explicitly.
func NewClient(creds *credentials.Store, blobs *blobstore.Store, cat *catalog.Catalog, platform msbtypes.Platform, log *logrus.Logger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		Platform:    platform,
		Credentials: creds,
		Blobs:       blobs,
		Catalog:     cat,
		log:         log.WithField("component", "registry"),
	}
}

// PullResult summarizes a completed pull: the set of layer digests the
// image resolved to and whether each was already present in the
// shared cache or freshly downloaded and extracted this call.
type PullResult struct {
	Reference string
	Config    ResolvedManifest
	Layers    []PulledLayerResult
}

// PulledLayerResult records the outcome for one layer of a pull.
type PulledLayerResult struct {
	Digest         string
	SizeBytes      int64
	AlreadyInCache bool
}

// nameReference builds the go-containerregistry reference for ref,
// using ref's own normalized host and repository directly rather than
// re-parsing ref.Render() through a second grammar.
func nameReference(ref reference.Reference) (name.Reference, error) {
	repo := ref.Host + "/" + ref.Repository
	var full string
	if ref.Digest != "" {
		full = repo + "@" + ref.Digest
	} else {
		full = repo + ":" + ref.Tag
	}
	nameRef, err := name.ParseReference(full)
	if err != nil {
		return nil, coreerrors.NewInvalidReferenceError("parse_registry_reference", "go-containerregistry rejected "+full, err)
	}
	return nameRef, nil
}

// authenticator resolves the authn.Authenticator for ref's registry
// host, folding in environment overrides ahead of anything stored.
func (c *Client) authenticator(ref reference.Reference) (authn.Authenticator, error) {
	auth, err := resolveAuthenticator(c.Credentials, ref.CredentialKey())
	if err != nil {
		return nil, coreerrors.NewRegistryAuthError("resolve_auth", ref.Host, "failed to resolve credentials", err)
	}
	return auth, nil
}

func (c *Client) remoteOptions(ctx context.Context, ref reference.Reference) ([]remote.Option, error) {
	auth, err := c.authenticator(ref)
	if err != nil {
		return nil, err
	}
	opts := []remote.Option{remote.WithContext(ctx), remote.WithAuth(auth)}
	if c.Transport != nil {
		opts = append(opts, remote.WithTransport(c.Transport))
	}
	return opts, nil
}

// PullImage runs the full pull flow against a single reference:
// resolve auth, fetch the index and select a platform, fetch the
// manifest and config, download any layers not already cached, record
// catalog rows, and extract every layer.
func (c *Client) PullImage(ctx context.Context, ref reference.Reference) (*PullResult, error) {
	log := c.log.WithField("reference", ref.Render())

	nameRef, err := nameReference(ref)
	if err != nil {
		return nil, err
	}

	opts, err := c.remoteOptions(ctx, ref)
	if err != nil {
		return nil, err
	}

	img, err := c.fetchIndex(ctx, ref, nameRef, opts)
	if err != nil {
		return nil, err
	}

	resolved, err := fetchManifestAndConfig(img)
	if err != nil {
		return nil, err
	}
	if err := resolved.Validate(); err != nil {
		return nil, coreerrors.NewUnsupportedManifestError("validate_manifest", err.Error(), err)
	}
	log.Info("manifest and config resolved")

	ggcrLayers, err := img.Layers()
	if err != nil {
		return nil, coreerrors.NewRegistryIOError("get_layers", ref.Host, "failed to list image layers", err)
	}
	if len(ggcrLayers) != len(resolved.Layers) {
		return nil, coreerrors.NewUnsupportedManifestError("validate_manifest", "layer count mismatch between manifest and image", nil)
	}

	results := make([]PulledLayerResult, len(resolved.Layers))
	for i, desc := range resolved.Layers {
		cached, err := c.Blobs.HasLayer(desc.Digest)
		if err != nil {
			return nil, err
		}
		if cached {
			log.WithField("digest", desc.Digest).Info("layer already extracted, skipping download")
			results[i] = PulledLayerResult{Digest: desc.Digest, SizeBytes: desc.Size, AlreadyInCache: true}
			continue
		}

		if err := c.downloadLayer(ref, ggcrLayers[i], desc); err != nil {
			return nil, err
		}
		log.WithField("digest", desc.Digest).Infof("downloaded layer %d/%d", i+1, len(resolved.Layers))
		results[i] = PulledLayerResult{Digest: desc.Digest, SizeBytes: desc.Size}
	}

	if err := c.recordPull(ref, resolved); err != nil {
		return nil, err
	}

	layerHandles := make([]*layers.Layer, len(resolved.Layers))
	for i, desc := range resolved.Layers {
		layerHandles[i] = layers.New(desc.Digest, desc.MediaType, c.Blobs, nil)
	}
	if err := layers.ExtractAll(ctx, layerHandles); err != nil {
		return nil, err
	}
	log.Info("all layers extracted")

	for i := range results {
		c.Blobs.RemoveTar(results[i].Digest)
	}

	return &PullResult{Reference: ref.Render(), Config: resolved, Layers: results}, nil
}

// downloadLayer streams layer's compressed content to its tar path,
// verifying the stream hashes to desc.Digest as it goes. A mismatch
// removes the partial tar file and fails the download.
func (c *Client) downloadLayer(ref reference.Reference, layer ggcrv1.Layer, desc Descriptor) error {
	rc, err := layer.Compressed()
	if err != nil {
		return coreerrors.NewRegistryIOError("fetch_layer", ref.Host, "failed to open layer stream for "+desc.Digest, err)
	}
	defer rc.Close()

	tarPath := c.Blobs.TarPath(desc.Digest)
	f, err := os.Create(tarPath)
	if err != nil {
		return coreerrors.NewBlobStoreError("fetch_layer", desc.Digest, "failed to create tar file", err)
	}

	verifier := digest.Digest(desc.Digest).Verifier()
	_, copyErr := io.Copy(io.MultiWriter(f, verifier), rc)
	closeErr := f.Close()

	if copyErr != nil {
		os.Remove(tarPath)
		return coreerrors.NewRegistryIOError("fetch_layer", ref.Host, "failed to stream layer "+desc.Digest, copyErr)
	}
	if closeErr != nil {
		os.Remove(tarPath)
		return coreerrors.NewBlobStoreError("fetch_layer", desc.Digest, "failed to finalize tar file", closeErr)
	}
	if !verifier.Verified() {
		os.Remove(tarPath)
		return coreerrors.NewDigestMismatchError(ref.Host, desc.Digest, "downloaded layer does not match advertised digest")
	}

	return nil
}

func (c *Client) recordPull(ref reference.Reference, resolved ResolvedManifest) error {
	var totalSize int64
	layerRows := make([]catalog.PulledLayer, len(resolved.Layers))
	for i, l := range resolved.Layers {
		layerRows[i] = catalog.PulledLayer{Digest: l.Digest, SizeBytes: l.Size, MediaType: l.MediaType}
		totalSize += l.Size
	}

	return c.Catalog.RecordPull(catalog.PulledManifest{
		Reference:     ref.Render(),
		SizeBytes:     totalSize,
		SchemaVersion: resolved.SchemaVersion,
		MediaType:     resolved.MediaType,
		ConfigDigest:  resolved.Config.Digest,
		OS:            resolved.OS,
		Architecture:  resolved.Architecture,
		RootfsDiffIDs: resolved.RootfsDiffIDs,
		Env:           resolved.Env,
		Cmd:           resolved.Cmd,
		Entrypoint:    resolved.Entrypoint,
		WorkingDir:    resolved.WorkingDir,
		Layers:        layerRows,
	})
}

// AllLayersExtracted is the fast path used to skip a pull entirely: it
// reports true only when the image row exists, every recorded layer
// digest has a non-empty extracted directory, and the stored config's
// diff-id count equals the recorded layer count. Any read error or
// missing row is treated as "not ready" rather than surfaced, per the
// original implementation's catch-and-log-and-return-false contract.
func (c *Client) AllLayersExtracted(ref string) bool {
	log := c.log.WithField("reference", ref)

	exists, err := c.Catalog.ImageExists(ref)
	if err != nil {
		log.WithError(err).Warn("all_layers_extracted: catalog read failed, assuming not extracted")
		return false
	}
	if !exists {
		return false
	}

	digests, err := c.Catalog.GetImageLayerDigests(ref)
	if err != nil {
		log.WithError(err).Warn("all_layers_extracted: failed to load layer digests")
		return false
	}

	config, err := c.Catalog.GetImageConfig(ref)
	if err != nil {
		log.WithError(err).Warn("all_layers_extracted: failed to load config")
		return false
	}
	if len(digests) != len(config.RootfsDiffIDs) {
		log.Warn("all_layers_extracted: layer count does not match diff-id count")
		return false
	}

	for _, dg := range digests {
		has, err := c.Blobs.HasLayer(dg)
		if err != nil {
			log.WithError(err).WithField("digest", dg).Warn("all_layers_extracted: blob store read failed")
			return false
		}
		if !has {
			return false
		}
	}

	return true
}

// isManifestList reports whether mt names a multi-platform image index
// rather than a single-platform manifest.
func isManifestList(mt ggcrtypes.MediaType) bool {
	return mt == ggcrtypes.MediaType(MediaTypeOCIIndex) || mt == ggcrtypes.MediaType(MediaTypeDockerManifestList)
}
