package client

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ErrSchemaTooNew means the state database was written by a newer client.
var ErrSchemaTooNew = errors.New("state database schema is newer than this client")

// storeTables are the tables Store queries. The schema is checked for them
// once migrations have run.
var storeTables = []string{"Config", "ConnectionHistory", "SessionLog"}

var migrationNameRe = regexp.MustCompile(`^(\d{3})_([a-z0-9_]+)\.sql$`)

// schemaMigration is one file from migrations/, named NNN_name.sql.
type schemaMigration struct {
	version int
	name    string
	sql     string
}

// loadMigrations reads and orders the migration files in fsys. Versions must
// run 1, 2, 3... without gaps.
func loadMigrations(fsys fs.FS) ([]schemaMigration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var migrations []schemaMigration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := migrationNameRe.FindStringSubmatch(entry.Name())
		if m == nil {
			return nil, fmt.Errorf("migration %q: name must look like 001_name.sql", entry.Name())
		}
		version, _ := strconv.Atoi(m[1])

		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, schemaMigration{version: version, name: m[2], sql: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})
	for i, m := range migrations {
		if m.version != i+1 {
			return nil, fmt.Errorf("migration %03d_%s: expected version %d", m.version, m.name, i+1)
		}
	}
	return migrations, nil
}

func embeddedMigrations() ([]schemaMigration, error) {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, err
	}
	return loadMigrations(sub)
}

func schemaVersion(db *sql.DB) (int, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`); err != nil {
		return 0, err
	}

	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// runMigrations brings the state database up to the newest embedded schema
// and checks that the tables Store relies on exist.
func runMigrations(db *sql.DB, logger *zap.Logger) error {
	migrations, err := embeddedMigrations()
	if err != nil {
		return err
	}

	current, err := schemaVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if latest := len(migrations); current > latest {
		return fmt.Errorf("%w: version %d, client knows %d", ErrSchemaTooNew, current, latest)
	}

	for _, m := range migrations[current:] {
		logger.Debug("applying state migration", zap.Int("version", m.version), zap.String("name", m.name))
		if err := applyMigration(db, m); err != nil {
			return err
		}
	}

	return verifySchema(db)
}

func applyMigration(db *sql.DB, m schemaMigration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migration %d: %w", m.version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.version, m.name, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("record migration %d: %w", m.version, err)
	}
	return tx.Commit()
}

func verifySchema(db *sql.DB) error {
	for _, table := range storeTables {
		var n int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if n == 0 {
			return fmt.Errorf("state database is missing table %s", table)
		}
	}
	return nil
}
