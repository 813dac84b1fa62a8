package store

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/wtfpos/posd/internal/store/migrations"
)

var (
	// ErrDirtySchema means an earlier migration stopped halfway. The
	// database needs manual repair; queued orders are still in it.
	ErrDirtySchema = errors.New("terminal database schema is dirty")
	// ErrSchemaTooNew means the database was written by a newer posd.
	ErrSchemaTooNew = errors.New("terminal database schema is newer than this posd")
)

// terminalTables are the tables the daemon reads and writes.
var terminalTables = []string{"pending_orders", "catalog_snapshot", "image_cache", "kv", "cart_draft"}

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	From    uint // schema version before, 0 for a new database
	Version uint // schema version now
	Changed bool
}

// Migrate brings the terminal database to the newest embedded schema. It
// refuses a dirty schema and one newer than the embedded migrations, so a
// downgraded posd never touches orders it cannot read.
func (db *DB) Migrate() (*MigrateResult, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	latest, err := latestVersion(src)
	if err != nil {
		return nil, err
	}

	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return nil, fmt.Errorf("read schema version: %w", err)
	case dirty:
		return nil, fmt.Errorf("%w at version %d", ErrDirtySchema, from)
	case from > latest:
		return nil, fmt.Errorf("%w: version %d, newest known %d", ErrSchemaTooNew, from, latest)
	}

	result := &MigrateResult{From: from, Version: from}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("migrate from version %d: %w", from, err)
	}
	if v, _, err := m.Version(); err == nil {
		result.Version = v
	}
	result.Changed = result.Version != from

	if err := db.checkTables(); err != nil {
		return nil, err
	}
	return result, nil
}

// latestVersion walks the embedded migrations to the last one.
func latestVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("no embedded migrations: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("scan migrations: %w", err)
		}
		v = next
	}
}

func (db *DB) checkTables() error {
	for _, name := range terminalTables {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n); err != nil {
			return fmt.Errorf("check table %s: %w", name, err)
		}
		if n == 0 {
			return fmt.Errorf("table %s missing after migration", name)
		}
	}
	return nil
}
