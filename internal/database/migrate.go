package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embeddedMigrationsFS embed.FS

// Migration sources. Framework migrations always run before application ones.
const (
	SourceBolts = "bolts"
	SourceApp   = "app"
)

// MigrationFile represents a migration file with its metadata
type MigrationFile struct {
	Source      string
	FileName    string
	Version     int
	Description string

	fsys fs.FS
}

// Name is the key recorded in schema_migrations.
func (m *MigrationFile) Name() string {
	return m.Source + ":" + m.FileName
}

// MigrationState reports whether a migration has been applied.
type MigrationState struct {
	Migration *MigrationFile
	Applied   bool
	AppliedAt time.Time
}

// parseMigrationFileName parses NNNN_description.sql
func parseMigrationFileName(fileName string) (*MigrationFile, error) {
	if !strings.HasSuffix(fileName, ".sql") {
		return nil, fmt.Errorf("migration file must have .sql extension: %s", fileName)
	}
	name := strings.TrimSuffix(fileName, ".sql")
	parts := strings.SplitN(name, "_", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid migration file name format: %s (expected format: 0001_description.sql)", fileName)
	}
	version, err := strconv.Atoi(parts[0])
	if err != nil || version <= 0 {
		return nil, fmt.Errorf("invalid version number in migration file: %s", fileName)
	}
	return &MigrationFile{
		FileName:    fileName,
		Version:     version,
		Description: parts[1],
	}, nil
}

// readMigrations lists the migrations of one source, sorted by version.
// Files with invalid names are skipped with a warning.
func (d *Database) readMigrations(fsys fs.FS, source string) ([]*MigrationFile, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read %s migrations: %w", source, err)
	}
	seen := make(map[int]string)
	var out []*MigrationFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		m, err := parseMigrationFileName(e.Name())
		if err != nil {
			d.logger.Warn("skipping invalid migration file", zap.String("source", source), zap.Error(err))
			continue
		}
		if other, dup := seen[m.Version]; dup {
			return nil, fmt.Errorf("%s migrations %s and %s share version %d", source, other, m.FileName, m.Version)
		}
		seen[m.Version] = m.FileName
		m.Source = source
		m.fsys = fsys
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrations returns every known migration in apply order.
func (d *Database) Migrations() ([]*MigrationFile, error) {
	sub, err := fs.Sub(embeddedMigrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	all, err := d.readMigrations(sub, SourceBolts)
	if err != nil {
		return nil, err
	}
	if dir := d.cfg.MigrationsDir; dir != "" {
		if _, err := os.Stat(dir); err == nil {
			app, err := d.readMigrations(os.DirFS(dir), SourceApp)
			if err != nil {
				return nil, err
			}
			all = append(all, app...)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat migrations dir %s: %w", dir, err)
		}
	}
	return all, nil
}

// ensureMigrationsTable creates the schema_migrations table if it doesn't exist
func (d *Database) ensureMigrationsTable(ctx context.Context) error {
	_, err := d.retryableExec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

// appliedMigrations returns applied migration names with their apply time
func (d *Database) appliedMigrations(ctx context.Context) (map[string]time.Time, error) {
	rows, err := d.retryableQuery(ctx, `SELECT name, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var name string
		var at int64
		if err := rows.Scan(&name, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[name] = time.Unix(at, 0)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migration rows: %w", err)
	}
	return applied, nil
}

// Migrate applies pending migrations in order, each in its own
// transaction. It returns the names of the applied migrations.
func (d *Database) Migrate(ctx context.Context) ([]string, error) {
	if err := d.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	migrations, err := d.Migrations()
	if err != nil {
		return nil, err
	}
	applied, err := d.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, m := range migrations {
		if _, ok := applied[m.Name()]; ok {
			continue
		}
		if err := d.applyMigration(ctx, m); err != nil {
			return done, err
		}
		d.logger.Info("applied migration", zap.String("migration", m.Name()))
		done = append(done, m.Name())
	}
	return done, nil
}

// applyMigration applies a single migration and records it
func (d *Database) applyMigration(ctx context.Context, m *MigrationFile) error {
	content, err := fs.ReadFile(m.fsys, m.FileName)
	if err != nil {
		return fmt.Errorf("failed to read migration file %s: %w", m.Name(), err)
	}
	return d.retryableTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", m.Name(), err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, m.Name(), time.Now().Unix()); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.Name(), err)
		}
		return nil
	})
}

// MigrationStatus lists every migration with its applied state.
func (d *Database) MigrationStatus(ctx context.Context) ([]MigrationState, error) {
	if err := d.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	migrations, err := d.Migrations()
	if err != nil {
		return nil, err
	}
	applied, err := d.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationState, len(migrations))
	for i, m := range migrations {
		at, ok := applied[m.Name()]
		out[i] = MigrationState{Migration: m, Applied: ok, AppliedAt: at}
	}
	return out, nil
}
