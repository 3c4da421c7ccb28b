package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// migrationDirs are probed in order when MIGRATIONS_PATH is unset; the binary runs either from
// the repository root or from a container image that ships ./migrations.
var migrationDirs = []string{"db/migrations", "migrations"}

// migrationsSource returns a file:// source URL for the versioned migrations.
func migrationsSource() (string, error) {
	dirs := migrationDirs
	if p := os.Getenv("MIGRATIONS_PATH"); p != "" {
		dirs = []string{p}
	}
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", dir, err)
		}
		return "file://" + abs, nil
	}
	return "", fmt.Errorf("migrations directory not found (tried %v)", dirs)
}

func newMigrator(db *sql.DB, source string) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create postgres migrate driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// RunMigrations applies every pending versioned migration. Safe to run repeatedly.
func RunMigrations(db *sql.DB) error {
	source, err := migrationsSource()
	if err != nil {
		return err
	}
	m, err := newMigrator(db, source)
	if err != nil {
		return err
	}
	logger := slog.Default().With(slog.String("component", "db_migrate"))
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("capture schema is up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		logger.Warn("could not read schema version after migrating", slog.Any("err", err))
		return nil
	}
	if dirty {
		return fmt.Errorf("schema left dirty at version %d, fix it by hand and force the version", version)
	}
	logger.Info("migrations applied", slog.Uint64("version", uint64(version)))
	return nil
}

// SchemaVersion reports the applied migration version. A database migrated only through the
// embedded fallback has no version table and reports 0.
func SchemaVersion(db *sql.DB) (version uint, dirty bool, err error) {
	source, err := migrationsSource()
	if err != nil {
		return 0, false, err
	}
	m, err := newMigrator(db, source)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, nil
}
