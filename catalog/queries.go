package catalog

import (
	"encoding/json"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	coreerrors "github.com/microsandbox/msbcore/internal/errors"
)

// PulledConfig is the decoded form of a Config row returned to callers
// that don't want to unmarshal the JSON columns themselves.
type PulledConfig struct {
	OS             string
	Architecture   string
	RootfsDiffIDs  []string
	Env            []string
	Cmd            []string
	Entrypoint     []string
	WorkingDir     string
}

// ImageExists reports whether reference has a recorded image row.
func (c *Catalog) ImageExists(reference string) (bool, error) {
	var count int64
	if err := c.db.Model(&Image{}).Where("reference = ?", reference).Count(&count).Error; err != nil {
		return false, coreerrors.NewCatalogError("image_exists", "failed to query images table", err)
	}
	return count > 0, nil
}

// GetImageLayerDigests returns reference's layer digests in manifest
// order (base first).
func (c *Catalog) GetImageLayerDigests(reference string) ([]string, error) {
	var image Image
	if err := c.db.Where("reference = ?", reference).First(&image).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, coreerrors.NewCatalogError("get_image_layer_digests", "no image row for "+reference, err)
		}
		return nil, coreerrors.NewCatalogError("get_image_layer_digests", "failed to load image row", err)
	}

	var digests []string
	err := c.db.Table("manifest_layers").
		Select("layers.digest").
		Joins("JOIN layers ON layers.id = manifest_layers.layer_id").
		Where("manifest_layers.manifest_id = ?", image.ManifestID).
		Order("manifest_layers.ordinal ASC").
		Pluck("layers.digest", &digests).Error
	if err != nil {
		return nil, coreerrors.NewCatalogError("get_image_layer_digests", "failed to load layer digests", err)
	}

	return digests, nil
}

// GetImageConfig returns the decoded config row for reference.
func (c *Catalog) GetImageConfig(reference string) (*PulledConfig, error) {
	var image Image
	if err := c.db.Where("reference = ?", reference).First(&image).Error; err != nil {
		return nil, coreerrors.NewCatalogError("get_image_config", "no image row for "+reference, err)
	}

	var config Config
	if err := c.db.Where("manifest_id = ?", image.ManifestID).First(&config).Error; err != nil {
		return nil, coreerrors.NewCatalogError("get_image_config", "no config row for manifest", err)
	}

	decoded := &PulledConfig{OS: config.OS, Architecture: config.Architecture, WorkingDir: config.WorkingDir}
	if err := json.Unmarshal([]byte(config.RootfsDiffIDsJSON), &decoded.RootfsDiffIDs); err != nil {
		return nil, coreerrors.NewCatalogError("get_image_config", "failed to decode rootfs diff-ids", err)
	}
	json.Unmarshal([]byte(config.EnvJSON), &decoded.Env)
	json.Unmarshal([]byte(config.CmdJSON), &decoded.Cmd)
	json.Unmarshal([]byte(config.EntrypointJSON), &decoded.Entrypoint)

	return decoded, nil
}

// ListImages returns the reference of every image row in the catalog.
func (c *Catalog) ListImages() ([]string, error) {
	var refs []string
	if err := c.db.Model(&Image{}).Pluck("reference", &refs).Error; err != nil {
		return nil, coreerrors.NewCatalogError("list_images", "failed to list images", err)
	}
	return refs, nil
}

// RemoveImage deletes reference's image row. The manifest, config and
// layer rows it pointed to are left in place, since another image may
// share them; they are only orphaned, not dangling, and a future
// migration could add a sweep for manifests with no remaining image.
func (c *Catalog) RemoveImage(reference string) error {
	result := c.db.Where("reference = ?", reference).Delete(&Image{})
	if result.Error != nil {
		return coreerrors.NewCatalogError("remove_image", "failed to delete image row for "+reference, result.Error)
	}
	if result.RowsAffected == 0 {
		return coreerrors.NewCatalogError("remove_image", "no image row for "+reference, nil)
	}
	return nil
}

// PulledManifest is the full set of rows RecordPull inserts for one
// successful pull, passed in as a unit so the insert happens inside a
// single transaction.
type PulledManifest struct {
	Reference     string
	SizeBytes     int64
	SchemaVersion int
	MediaType     string
	ConfigDigest  string
	OS            string
	Architecture  string
	RootfsDiffIDs []string
	Env           []string
	Cmd           []string
	Entrypoint    []string
	WorkingDir    string
	Layers        []PulledLayer
}

// PulledLayer is one layer descriptor of a PulledManifest, in manifest
// order.
type PulledLayer struct {
	Digest    string
	SizeBytes int64
	MediaType string
}

// RecordPull inserts the image/manifest/config/layers/manifest_layers
// rows for a completed pull inside one transaction, upserting the
// layers table by digest since a layer row is shared across manifests.
func (c *Catalog) RecordPull(p PulledManifest) error {
	return c.db.Transaction(func(tx *gorm.DB) error {
		manifest := Manifest{
			SchemaVersion: p.SchemaVersion,
			MediaType:     p.MediaType,
			ConfigDigest:  p.ConfigDigest,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "config_digest"}},
			DoUpdates: clause.AssignmentColumns([]string{"schema_version", "media_type"}),
		}).Create(&manifest).Error; err != nil {
			return coreerrors.NewCatalogError("record_pull", "failed to upsert manifest", err)
		}
		if manifest.ID == 0 {
			if err := tx.Where("config_digest = ?", p.ConfigDigest).First(&manifest).Error; err != nil {
				return coreerrors.NewCatalogError("record_pull", "failed to reload upserted manifest", err)
			}
		}

		diffIDs, _ := json.Marshal(p.RootfsDiffIDs)
		envJSON, _ := json.Marshal(p.Env)
		cmdJSON, _ := json.Marshal(p.Cmd)
		entrypointJSON, _ := json.Marshal(p.Entrypoint)

		config := Config{
			ManifestID:        manifest.ID,
			OS:                p.OS,
			Architecture:      p.Architecture,
			RootfsDiffIDsJSON: string(diffIDs),
			EnvJSON:           string(envJSON),
			CmdJSON:           string(cmdJSON),
			EntrypointJSON:    string(entrypointJSON),
			WorkingDir:        p.WorkingDir,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "manifest_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"rootfs_diff_ids_json", "env_json", "cmd_json", "entrypoint_json", "working_dir"}),
		}).Create(&config).Error; err != nil {
			return coreerrors.NewCatalogError("record_pull", "failed to upsert config", err)
		}

		for ordinal, l := range p.Layers {
			layer := Layer{Digest: l.Digest, SizeBytes: l.SizeBytes, MediaType: l.MediaType}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "digest"}},
				DoNothing: true,
			}).Create(&layer).Error; err != nil {
				return coreerrors.NewCatalogError("record_pull", "failed to upsert layer "+l.Digest, err)
			}
			if layer.ID == 0 {
				if err := tx.Where("digest = ?", l.Digest).First(&layer).Error; err != nil {
					return coreerrors.NewCatalogError("record_pull", "failed to reload upserted layer", err)
				}
			}

			join := ManifestLayer{ManifestID: manifest.ID, LayerID: layer.ID, Ordinal: ordinal}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&join).Error; err != nil {
				return coreerrors.NewCatalogError("record_pull", "failed to link layer to manifest", err)
			}
		}

		image := Image{Reference: p.Reference, SizeBytes: p.SizeBytes, ManifestID: manifest.ID}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reference"}},
			DoUpdates: clause.AssignmentColumns([]string{"size_bytes", "manifest_id"}),
		}).Create(&image).Error; err != nil {
			return coreerrors.NewCatalogError("record_pull", "failed to upsert image", err)
		}

		return nil
	})
}
