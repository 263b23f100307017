package cachestore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

//go:embed migrations/mirror/*.sql
var migrationsFS embed.FS

const mirrorMigrationsPath = "migrations/mirror"

// OpenDB opens (or creates) the mirror database at path with the
// recommended pragmas: WAL journal mode, synchronous=NORMAL,
// busy_timeout=5000.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}

	// Single-writer: only one connection needed.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q on %s: %w", p, path, err)
		}
	}
	return db, nil
}

// MigrateMirrorDB applies mirror schema migrations.
func MigrateMirrorDB(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("migrate %s: nil db", mirrorMigrationsPath)
	}

	sourceDriver, err := iofs.New(migrationsFS, mirrorMigrationsPath)
	if err != nil {
		return fmt.Errorf("migrate %s: init source: %w", mirrorMigrationsPath, err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migrate %s: init db driver: %w", mirrorMigrationsPath, err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("migrate %s: init migrator: %w", mirrorMigrationsPath, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: up: %w", mirrorMigrationsPath, err)
	}
	return nil
}
