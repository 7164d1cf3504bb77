// Package layers implements the Layer and Extraction Engine
// components: a digest-identified, per-instance-locked
// unit of extraction, and the tar-to-directory decoder that honors
// OverlayFS whiteout and opaque-directory semantics.
package layers

import (
	"crypto/sha256"
	"fmt"
	"io"
)

// OCI media types this module understands for layer blobs.
const (
	MediaTypeImageLayer     = "application/vnd.oci.image.layer.v1.tar"
	MediaTypeImageLayerGzip = "application/vnd.oci.image.layer.v1.tar+gzip"
	MediaTypeImageLayerZstd = "application/vnd.oci.image.layer.v1.tar+zstd"

	// whiteoutPrefix marks a single deleted path; opaqueMarker marks an
	// entire directory's parent-layer contents as masked.
	whiteoutPrefix = ".wh."
	opaqueMarker   = ".wh..wh..opq"
)

// DigestFromReader computes the sha256 digest and byte count of r.
func DigestFromReader(r io.Reader) (string, int64, error) {
	hasher := sha256.New()
	size, err := io.Copy(hasher, r)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("sha256:%x", hasher.Sum(nil)), size, nil
}

// ValidateDigest checks that digest has the sha256:<64-hex> shape used
// throughout the catalog and blob store.
func ValidateDigest(digest string) error {
	if len(digest) != 71 || digest[:7] != "sha256:" {
		return fmt.Errorf("invalid digest format: %s", digest)
	}
	for _, c := range digest[7:] {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return fmt.Errorf("invalid digest format: %s", digest)
		}
	}
	return nil
}
