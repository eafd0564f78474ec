// Package migrate applies the embedded schema migrations.
package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"

	"github.com/bissquit/shelfsync/migrations"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx5:// driver
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3" // sqlite3:// driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// SQLite migrates the database file at path to the latest version.
func SQLite(path string) error {
	return up(migrations.SQLite, "sqlite", "sqlite3://"+path)
}

// Postgres migrates the database at databaseURL to the latest version.
func Postgres(databaseURL string) error {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	u.Scheme = "pgx5"
	return up(migrations.Postgres, "postgres", u.String())
}

func up(fsys fs.FS, dir, databaseURL string) error {
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("open %s migrations: %w", dir, err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			slog.Warn("failed to close migrator", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	slog.Info("database migrated", "driver", dir, "version", version, "dirty", dirty)
	return nil
}
