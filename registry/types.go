package registry

import (
	"fmt"

	"github.com/microsandbox/msbcore/internal/types"
)

// Descriptor is the OCI content descriptor shape shared by manifest,
// config and layer references.
type Descriptor struct {
	MediaType   string            `json:"mediaType"`
	Size        int64             `json:"size"`
	Digest      string            `json:"digest"`
	Platform    *types.Platform   `json:"platform,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// IsAttestationOnly reports whether this descriptor is an attestation
// manifest rather than a pullable platform image, identified by the
// "vnd.docker.reference.type" annotation the Docker buildx attestation
// convention attaches to index entries (the index-selection skip
// rule).
func (d Descriptor) IsAttestationOnly() bool {
	return d.Annotations["vnd.docker.reference.type"] == "attestation-manifest"
}

// ResolvedManifest is a chosen single-platform manifest plus its
// decoded config, returned by fetchManifestAndConfig.
type ResolvedManifest struct {
	SchemaVersion int
	MediaType     string
	Config        Descriptor
	Layers        []Descriptor
	OS            string
	Architecture  string
	RootfsDiffIDs []string
	Env           []string
	Cmd           []string
	Entrypoint    []string
	WorkingDir    string
}

// Validate enforces the registry client's manifest/config acceptance rules.
func (m ResolvedManifest) Validate() error {
	if m.SchemaVersion != 2 {
		return fmt.Errorf("unsupported schema version %d", m.SchemaVersion)
	}
	if m.Config.Size <= 0 {
		return fmt.Errorf("config blob has non-positive size %d", m.Config.Size)
	}
	for _, l := range m.Layers {
		if l.Digest == "" {
			return fmt.Errorf("layer descriptor missing digest")
		}
		if l.Size <= 0 {
			return fmt.Errorf("layer %s has non-positive size %d", l.Digest, l.Size)
		}
	}
	return nil
}
