// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package store

import (
	"embed"
	"errors"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	// Register pgx/v5 database driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrateIface abstracts golang-migrate for testing. The real library
// requires a database connection, making unit tests slow and brittle.
type migrateIface interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() (source error, database error)
}

// Migrator wraps golang-migrate for database schema management.
type Migrator struct {
	m migrateIface
}

// NewMigrator creates a new Migrator instance. The databaseURL should
// be a PostgreSQL connection string; postgres:// and postgresql://
// schemes are converted to pgx5:// for golang-migrate's pgx/v5 driver.
func NewMigrator(databaseURL string) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, oops.Code("MIGRATION_SOURCE_FAILED").With("operation", "create migration source").Wrap(err)
	}

	migrateURL := databaseURL
	if rest, found := strings.CutPrefix(databaseURL, "postgres://"); found {
		migrateURL = "pgx5://" + rest
	} else if rest, found := strings.CutPrefix(databaseURL, "postgresql://"); found {
		migrateURL = "pgx5://" + rest
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL)
	if err != nil {
		_ = source.Close() //nolint:errcheck // cleanup for embedded FS; init error takes precedence
		return nil, oops.Code("MIGRATION_INIT_FAILED").With("operation", "initialize migrator").Wrap(err)
	}

	return &Migrator{m: m}, nil
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_UP_FAILED").Wrap(err)
	}
	return nil
}

// Down rolls back all migrations to version 0.
// WARNING: This is a destructive operation that drops all tables and data.
func (m *Migrator) Down() error {
	if err := m.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_DOWN_FAILED").Wrap(err)
	}
	return nil
}

// Steps applies n migrations. Positive n migrates up, negative n down.
func (m *Migrator) Steps(n int) error {
	if err := m.m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_STEPS_FAILED").With("steps", n).Wrap(err)
	}
	return nil
}

// Version returns the current migration version and dirty state. A
// dirty state indicates a migration failed partway through and requires
// manual intervention. Returns version 0 with dirty=false if no
// migrations have been applied.
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	version, dirty, err = m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.Code("MIGRATION_VERSION_FAILED").Wrap(err)
	}
	return version, dirty, nil
}

// Force sets the migration version without running migrations. Use only
// for recovering from a dirty state after manually fixing the database.
func (m *Migrator) Force(version int) error {
	if version < 0 {
		return oops.Code("INVALID_VERSION").Errorf("version must be non-negative, got %d", version)
	}
	if err := m.m.Force(version); err != nil {
		return oops.Code("MIGRATION_FORCE_FAILED").With("version", version).Wrap(err)
	}
	return nil
}

// Close releases migrator resources.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	if srcErr != nil && dbErr != nil {
		return oops.Code("MIGRATION_CLOSE_FAILED").
			With("component", "both").
			Errorf("source: %v; database: %v", srcErr, dbErr)
	}
	if srcErr != nil {
		return oops.Code("MIGRATION_CLOSE_FAILED").With("component", "source").Wrap(srcErr)
	}
	if dbErr != nil {
		return oops.Code("MIGRATION_CLOSE_FAILED").With("component", "database").Wrap(dbErr)
	}
	return nil
}
