package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var migrationName = regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

type migrationFile struct {
	version string // file name of the up migration, as recorded
	up      string
	down    string
}

func readMigrations(dir string) ([]migrationFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	byNumber := map[string]*migrationFile{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		m := byNumber[match[1]]
		if m == nil {
			m = &migrationFile{}
			byNumber[match[1]] = m
		}
		path := filepath.Join(dir, entry.Name())
		if match[2] == "up" {
			m.version = entry.Name()
			m.up = path
		} else {
			m.down = path
		}
	}

	files := make([]migrationFile, 0, len(byNumber))
	for number, m := range byNumber {
		if m.up == "" {
			return nil, fmt.Errorf("migration %s has no up file", number)
		}
		files = append(files, *m)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// ApplyMigrations runs every pending up migration in version order, each in
// its own transaction. It returns the versions applied.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) ([]string, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}
	files, err := readMigrations(migrationsDir)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, file := range files {
		migrated, err := isMigrated(ctx, db, file.version)
		if err != nil {
			return applied, err
		}
		if migrated {
			continue
		}
		if err := runMigration(ctx, db, file.up, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, file.version)
			return err
		}); err != nil {
			return applied, fmt.Errorf("migration %s: %w", file.version, err)
		}
		applied = append(applied, file.version)
	}
	return applied, nil
}

// RevertMigrations rolls back the newest steps applied migrations.
func RevertMigrations(ctx context.Context, db *sql.DB, migrationsDir string, steps int) ([]string, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}
	files, err := readMigrations(migrationsDir)
	if err != nil {
		return nil, err
	}

	var reverted []string
	for i := len(files) - 1; i >= 0 && len(reverted) < steps; i-- {
		file := files[i]
		migrated, err := isMigrated(ctx, db, file.version)
		if err != nil {
			return reverted, err
		}
		if !migrated {
			continue
		}
		if file.down == "" {
			return reverted, fmt.Errorf("migration %s has no down file", file.version)
		}
		if err := runMigration(ctx, db, file.down, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version=$1`, file.version)
			return err
		}); err != nil {
			return reverted, fmt.Errorf("revert %s: %w", file.version, err)
		}
		reverted = append(reverted, file.version)
	}
	return reverted, nil
}

func runMigration(ctx context.Context, db *sql.DB, path string, record func(*sql.Tx) error) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if body := strings.TrimSpace(string(contents)); body != "" {
		if _, err := tx.ExecContext(ctx, body); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute: %w", err)
		}
	}
	if err := record(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
