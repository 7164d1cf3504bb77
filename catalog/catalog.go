package catalog

import (
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	coreerrors "github.com/microsandbox/msbcore/internal/errors"
)

// Catalog is the opened handle to the metadata store: migrations have
// already been applied by the time Open returns one.
type Catalog struct {
	db  *gorm.DB
	log *logrus.Entry
}

// Open applies the migration chain against the sqlite database at
// path (creating it if absent) and returns a Catalog backed by it.
func Open(path string, log *logrus.Logger) (*Catalog, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	entry := log.WithField("component", "catalog")

	if err := runMigrations(path); err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, coreerrors.NewCatalogError("open", "failed to open catalog database", err)
	}

	return &Catalog{db: db, log: entry}, nil
}

// Close releases the underlying database connection.
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return coreerrors.NewCatalogError("close", "failed to obtain underlying sql.DB", err)
	}
	if err := sqlDB.Close(); err != nil {
		return coreerrors.NewCatalogError("close", "failed to close catalog database", err)
	}
	return nil
}
