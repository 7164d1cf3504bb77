// Package registry talks to an OCI distribution endpoint: it resolves
// auth, negotiates content type, picks a platform variant from an
// image index, and downloads manifest, config and layer blobs.
package registry

import (
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// MediaTypeOCIIndex identifies a multi-platform image index, aliased
// from the upstream image-spec constant rather than hand-copied so an
// OCI media type revision only needs a dependency bump. isManifestList
// is what actually consults it.
const MediaTypeOCIIndex = ocispec.MediaTypeImageIndex

// MediaTypeDockerManifestList is the pre-OCI Docker Distribution
// equivalent of MediaTypeOCIIndex; image-spec carries no
// Docker-namespaced constants so this stays hand-declared.
const MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
