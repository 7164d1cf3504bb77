// Package image composes the reference, credentials, catalog, blob
// store and registry packages into the single entry point the CLI and
// any other caller use to pull an image: Pull.
package image

import (
	"context"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/microsandbox/msbcore/blobstore"
	"github.com/microsandbox/msbcore/catalog"
	"github.com/microsandbox/msbcore/credentials"
	coreerrors "github.com/microsandbox/msbcore/internal/errors"
	msbtypes "github.com/microsandbox/msbcore/internal/types"
	"github.com/microsandbox/msbcore/reference"
	"github.com/microsandbox/msbcore/registry"
)

const (
	homeEnvVar        = "MICROSANDBOX_HOME"
	defaultHomeSubdir = ".microsandbox"

	layersSubdir  = "layers"
	catalogDBName = "oci.db"
)

// Home resolves the microsandbox home directory: the MICROSANDBOX_HOME
// environment variable if set, otherwise ~/.microsandbox.
func Home() (string, error) {
	if home := os.Getenv(homeEnvVar); home != "" {
		return home, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", coreerrors.NewBlobStoreError("resolve_home", "", "failed to resolve user home directory", err)
	}
	return filepath.Join(userHome, defaultHomeSubdir), nil
}

// PullOptions customizes a single Pull call. The zero value pulls with
// every default: home resolved from the environment, Linux platform,
// and the standard extraction directory under home.
type PullOptions struct {
	// Home overrides the microsandbox home directory; empty uses Home().
	Home string
	// ExtractionDir overrides the persistent layers directory; empty
	// uses "<home>/layers".
	ExtractionDir string
	// Platform overrides the platform pin; the zero value defaults to
	// msbtypes.LinuxPlatform().
	Platform msbtypes.Platform
	Log      *logrus.Logger
}

func (o PullOptions) resolve() (PullOptions, error) {
	resolved := o
	if resolved.Home == "" {
		home, err := Home()
		if err != nil {
			return PullOptions{}, err
		}
		resolved.Home = home
	}
	if resolved.ExtractionDir == "" {
		resolved.ExtractionDir = filepath.Join(resolved.Home, layersSubdir)
	}
	if resolved.Platform == (msbtypes.Platform{}) {
		resolved.Platform = msbtypes.LinuxPlatform()
	}
	if resolved.Log == nil {
		resolved.Log = logrus.StandardLogger()
	}
	return resolved, nil
}

// Pull resolves refString, opens the home directory's catalog and blob
// store, and constructs a registry client pinned to opts.Platform. If
// the image is already fully extracted it returns a result rebuilt
// from the catalog; otherwise it runs the pull. The temporary tar-download directory is created
// under the OS temp directory and removed once the pull returns,
// successful or not; the extraction directory persists.
func Pull(ctx context.Context, refString string, opts PullOptions) (*registry.PullResult, error) {
	opts, err := opts.resolve()
	if err != nil {
		return nil, err
	}
	log := opts.Log.WithField("component", "image")

	ref, err := reference.Parse(refString)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.Home, 0o755); err != nil {
		return nil, coreerrors.NewBlobStoreError("pull", "", "failed to create home directory", err)
	}

	catalogPath := filepath.Join(opts.Home, catalogDBName)
	cat, err := catalog.Open(catalogPath, opts.Log)
	if err != nil {
		return nil, err
	}
	defer cat.Close()

	tarDir, err := os.MkdirTemp("", "msbcore-pull-*")
	if err != nil {
		return nil, coreerrors.NewBlobStoreError("pull", "", "failed to create tar download directory", err)
	}
	defer os.RemoveAll(tarDir)

	blobs, err := blobstore.New(tarDir, opts.ExtractionDir)
	if err != nil {
		return nil, err
	}

	creds := credentials.NewStore(opts.Home)

	client := registry.NewClient(creds, blobs, cat, opts.Platform, opts.Log)

	rendered := ref.Render()
	if client.AllLayersExtracted(rendered) {
		log.WithField("reference", rendered).Info("image already fully extracted, skipping pull")
		digests, err := cat.GetImageLayerDigests(rendered)
		if err != nil {
			return nil, err
		}
		config, err := cat.GetImageConfig(rendered)
		if err != nil {
			return nil, err
		}
		return cachedPullResult(rendered, digests, config), nil
	}

	log.WithField("reference", rendered).Info("pulling image")
	return client.PullImage(ctx, ref)
}

// cachedPullResult reconstructs the PullResult shape for an image whose
// layers were already extracted by a previous call, so callers that
// inspect the result do not need to special-case the fast path.
func cachedPullResult(ref string, digests []string, config *catalog.PulledConfig) *registry.PullResult {
	layerResults := make([]registry.PulledLayerResult, len(digests))
	for i, d := range digests {
		layerResults[i] = registry.PulledLayerResult{Digest: d, AlreadyInCache: true}
	}
	return &registry.PullResult{
		Reference: ref,
		Config: registry.ResolvedManifest{
			OS:            config.OS,
			Architecture:  config.Architecture,
			RootfsDiffIDs: config.RootfsDiffIDs,
			Env:           config.Env,
			Cmd:           config.Cmd,
			Entrypoint:    config.Entrypoint,
			WorkingDir:    config.WorkingDir,
		},
		Layers: layerResults,
	}
}
