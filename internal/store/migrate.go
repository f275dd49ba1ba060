package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
)

var migrationName = regexp.MustCompile(`^(\d+_[A-Za-z0-9_]+)\.(up|down)\.sql$`)

// Migration pairs the up and down scripts sharing a numbered version such as
// "0002_proposals_merges".
type Migration struct {
	Version string
	Up      string
	Down    string
}

// LoadMigrations reads the migration scripts at the root of fsys, ordered by
// version. Every version must have an up script; down scripts are optional.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		body, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		m, ok := byVersion[match[1]]
		if !ok {
			m = &Migration{Version: match[1]}
			byVersion[match[1]] = m
		}
		if match[2] == "up" {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %s has no up script", m.Version)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// ApplyMigrations runs every pending up script in version order, one
// transaction each, and returns the versions it applied.
func ApplyMigrations(ctx context.Context, db *sql.DB, fsys fs.FS) ([]string, error) {
	migrations, err := LoadMigrations(fsys)
	if err != nil {
		return nil, err
	}
	done, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	applied := make([]string, 0)
	for _, m := range migrations {
		if done[m.Version] {
			continue
		}
		err := inTx(ctx, db, m.Version, m.Up, `INSERT INTO schema_migrations(version) VALUES($1)`)
		if err != nil {
			return applied, err
		}
		applied = append(applied, m.Version)
	}
	return applied, nil
}

// RollbackMigrations reverts up to steps applied migrations, newest first.
// steps <= 0 reverts all of them.
func RollbackMigrations(ctx context.Context, db *sql.DB, fsys fs.FS, steps int) ([]string, error) {
	migrations, err := LoadMigrations(fsys)
	if err != nil {
		return nil, err
	}
	done, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	reverted := make([]string, 0)
	for i := len(migrations) - 1; i >= 0; i-- {
		if steps > 0 && len(reverted) >= steps {
			break
		}
		m := migrations[i]
		if !done[m.Version] {
			continue
		}
		if m.Down == "" {
			return reverted, fmt.Errorf("migration %s has no down script", m.Version)
		}
		if err := inTx(ctx, db, m.Version, m.Down, `DELETE FROM schema_migrations WHERE version=$1`); err != nil {
			return reverted, err
		}
		reverted = append(reverted, m.Version)
	}
	return reverted, nil
}

func inTx(ctx context.Context, db *sql.DB, version, script, bookkeeping string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("execute migration %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, version); err != nil {
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		done[version] = true
	}
	return done, rows.Err()
}
