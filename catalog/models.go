// Package catalog is the relational metadata store: what has
// been pulled, independent of what is actually present on disk. The
// Blob Store answers "what can we mount"; the catalog answers "what
// have we seen" — the two are reconciled, never collapsed.
package catalog

import "time"

// Image is one row per successfully pulled reference. Recording a pull
// for a reference that already has a row updates that row's SizeBytes
// and ManifestID in place rather than inserting a second row.
type Image struct {
	ID         uint `gorm:"primaryKey"`
	Reference  string `gorm:"uniqueIndex;not null"`
	SizeBytes  int64
	ManifestID uint
	Manifest   Manifest `gorm:"foreignKey:ManifestID"`
	CreatedAt  time.Time
}

// Manifest is inserted after the manifest fetch step of a pull. Its
// layer membership is recorded explicitly through ManifestLayer rather
// than a gorm many2many association, so ordinal ordering is queried
// directly instead of relying on association-loading order. The owning
// image is looked up the other way, through Image.ManifestID, since one
// manifest (deduplicated by config digest) can be shared by more than
// one image reference.
type Manifest struct {
	ID            uint `gorm:"primaryKey"`
	SchemaVersion int
	MediaType     string
	ConfigDigest  string `gorm:"uniqueIndex;not null"`
}

// Config is inserted after the config blob fetch. RootfsDiffIDsJSON is
// the ordered JSON array of uncompressed layer digests ("diff-ids")
// that identifies layer content to the runtime.
type Config struct {
	ManifestID        uint `gorm:"primaryKey"`
	OS                string
	Architecture      string
	RootfsDiffIDsJSON string
	EnvJSON           string
	CmdJSON           string
	EntrypointJSON    string
	WorkingDir        string
}

// Layer is one row per distinct compressed digest, shared across any
// manifest that references it via the manifest_layers join table.
type Layer struct {
	ID        uint   `gorm:"primaryKey"`
	Digest    string `gorm:"uniqueIndex;not null"`
	SizeBytes int64
	MediaType string
}

// ManifestLayer is the ordered join row between a manifest and its
// layers; Ordinal preserves the manifest's base-first layer order.
type ManifestLayer struct {
	ManifestID uint `gorm:"primaryKey"`
	LayerID    uint `gorm:"primaryKey"`
	Ordinal    int
}

func (ManifestLayer) TableName() string { return "manifest_layers" }
