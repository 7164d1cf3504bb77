package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/go-containerregistry/pkg/name"
	ggcrv1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"

	coreerrors "github.com/microsandbox/msbcore/internal/errors"
	msbtypes "github.com/microsandbox/msbcore/internal/types"
	"github.com/microsandbox/msbcore/reference"
)

// fetchIndex requests nameRef's manifest. If the response is a fat
// manifest index, it selects the entry matching c.Platform, skipping
// attestation-only entries, and re-fetches that entry as the chosen
// single-platform image. Otherwise the original response is already a
// single manifest.
func (c *Client) fetchIndex(ctx context.Context, ref reference.Reference, nameRef name.Reference, opts []remote.Option) (ggcrv1.Image, error) {
	desc, err := remote.Get(nameRef, opts...)
	if err != nil {
		return nil, wrapRemoteError(ref, "fetch_index", err)
	}

	if !isManifestList(desc.MediaType) {
		img, err := desc.Image()
		if err != nil {
			return nil, coreerrors.NewUnsupportedManifestError("fetch_index", "failed to decode single-platform image", err)
		}
		return img, nil
	}

	index, err := desc.ImageIndex()
	if err != nil {
		return nil, coreerrors.NewUnsupportedManifestError("fetch_index", "failed to decode image index", err)
	}
	indexManifest, err := index.IndexManifest()
	if err != nil {
		return nil, coreerrors.NewUnsupportedManifestError("fetch_index", "failed to read index manifest", err)
	}

	for _, entry := range indexManifest.Manifests {
		if (Descriptor{Annotations: entry.Annotations}).IsAttestationOnly() {
			continue
		}
		if entry.Platform == nil {
			continue
		}
		if !c.Platform.Matches(platformFromDescriptor(entry)) {
			continue
		}

		childRef, err := name.NewDigest(nameRef.Context().String() + "@" + entry.Digest.String())
		if err != nil {
			return nil, coreerrors.NewInvalidReferenceError("fetch_index", "failed to build digest reference for index entry", err)
		}
		childDesc, err := remote.Get(childRef, opts...)
		if err != nil {
			return nil, wrapRemoteError(ref, "fetch_index", err)
		}
		img, err := childDesc.Image()
		if err != nil {
			return nil, coreerrors.NewUnsupportedManifestError("fetch_index", "failed to decode selected platform image", err)
		}
		return img, nil
	}

	return nil, coreerrors.NewNoMatchingPlatformError(ref.Host, fmt.Sprintf("no index entry matches platform %s", c.Platform.String()))
}

func platformFromDescriptor(d ggcrv1.Descriptor) msbtypes.Platform {
	return msbtypes.Platform{OS: d.Platform.OS, Architecture: d.Platform.Architecture, Variant: d.Platform.Variant}
}

// fetchManifestAndConfig retrieves img's manifest and decodes its
// config blob into a ResolvedManifest. Validation of schema version,
// config size and layer descriptors happens in ResolvedManifest.Validate,
// called by the pull orchestration right after this returns.
func fetchManifestAndConfig(img ggcrv1.Image) (ResolvedManifest, error) {
	manifest, err := img.Manifest()
	if err != nil {
		return ResolvedManifest{}, coreerrors.NewUnsupportedManifestError("fetch_manifest", "failed to read manifest", err)
	}

	configFile, err := img.ConfigFile()
	if err != nil {
		return ResolvedManifest{}, coreerrors.NewUnsupportedManifestError("fetch_config", "failed to read config blob", err)
	}

	resolved := ResolvedManifest{
		SchemaVersion: int(manifest.SchemaVersion),
		MediaType:     string(manifest.MediaType),
		Config: Descriptor{
			MediaType: string(manifest.Config.MediaType),
			Size:      manifest.Config.Size,
			Digest:    manifest.Config.Digest.String(),
		},
		OS:           configFile.OS,
		Architecture: configFile.Architecture,
		Env:          configFile.Config.Env,
		Cmd:          configFile.Config.Cmd,
		Entrypoint:   configFile.Config.Entrypoint,
		WorkingDir:   configFile.Config.WorkingDir,
	}

	resolved.Layers = make([]Descriptor, len(manifest.Layers))
	for i, l := range manifest.Layers {
		resolved.Layers[i] = Descriptor{
			MediaType: string(l.MediaType),
			Size:      l.Size,
			Digest:    l.Digest.String(),
		}
	}

	resolved.RootfsDiffIDs = make([]string, len(configFile.RootFS.DiffIDs))
	for i, d := range configFile.RootFS.DiffIDs {
		resolved.RootfsDiffIDs[i] = d.String()
	}

	return resolved, nil
}

// FetchDigestBlob opens digest as a byte stream from ref's registry,
// optionally restricted to the byte range [start, end] via an HTTP
// Range header, supporting resumable downloads of partially fetched
// blobs.
func (c *Client) FetchDigestBlob(ctx context.Context, ref reference.Reference, dgst string, start, end int64) (io.ReadCloser, error) {
	nameRef, err := nameReference(ref)
	if err != nil {
		return nil, err
	}
	repo := nameRef.Context()

	auth, err := c.authenticator(ref)
	if err != nil {
		return nil, err
	}

	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	rt, err := transport.NewWithContext(ctx, repo.Registry, auth, base, []string{repo.Scope(transport.PullScope)})
	if err != nil {
		return nil, coreerrors.NewRegistryAuthError("fetch_digest_blob", ref.Host, "failed to negotiate transport", err)
	}

	url := fmt.Sprintf("https://%s/v2/%s/blobs/%s", repo.RegistryStr(), repo.RepositoryStr(), dgst)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, coreerrors.NewRegistryIOError("fetch_digest_blob", ref.Host, "failed to build blob request", err)
	}
	if start > 0 || end >= 0 {
		if end >= 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
		}
	}

	resp, err := (&http.Client{Transport: rt}).Do(req)
	if err != nil {
		return nil, coreerrors.NewRegistryIOError("fetch_digest_blob", ref.Host, "blob request failed", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, coreerrors.NewRegistryIOError("fetch_digest_blob", ref.Host, fmt.Sprintf("unexpected status %d fetching blob %s", resp.StatusCode, dgst), nil)
	}

	return resp.Body, nil
}

// wrapRemoteError classifies a go-containerregistry transport error as
// an auth failure when the registry responded 401/403, or a generic
// registry I/O failure otherwise.
func wrapRemoteError(ref reference.Reference, operation string, err error) error {
	if terr, ok := err.(*transport.Error); ok {
		if terr.StatusCode == http.StatusUnauthorized || terr.StatusCode == http.StatusForbidden {
			return coreerrors.NewRegistryAuthError(operation, ref.Host, "registry rejected credentials", err)
		}
	}
	return coreerrors.NewRegistryIOError(operation, ref.Host, "registry request failed", err)
}
