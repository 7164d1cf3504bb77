package catalog

import (
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	coreerrors "github.com/microsandbox/msbcore/internal/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// runMigrations applies every pending migration in order against the
// sqlite database at path. Downgrades are not supported: only the
// "up" direction is ever invoked.
func runMigrations(path string) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return coreerrors.NewCatalogError("migrate", "failed to load embedded migration source", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, "sqlite://"+path)
	if err != nil {
		return coreerrors.NewCatalogError("migrate", "failed to open migration driver", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return coreerrors.NewCatalogError("migrate", "failed to apply catalog migrations", err)
	}

	return nil
}
