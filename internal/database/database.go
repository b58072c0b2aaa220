// Package database provides the sqlite storage of go-bolts: migrations,
// sessions and users.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver
	"go.uber.org/zap"

	"github.com/go-while/go-bolts/internal/config"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Database wraps the sqlite connection pool.
type Database struct {
	db     *sql.DB
	cfg    config.DatabaseConfig
	logger *zap.Logger
}

// Open opens (and creates if needed) the sqlite database described by cfg.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Database, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = config.DefaultBusyTimeout
	}

	var dsn string
	if cfg.Path == MemoryPath {
		dsn = fmt.Sprintf("file::memory:?_foreign_keys=on&_busy_timeout=%d", busy.Milliseconds())
	} else {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", cfg.Path, busy.Milliseconds())
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Path, err)
	}
	if cfg.Path == MemoryPath {
		// every pooled connection would get its own empty memory database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", cfg.Path, err)
	}
	logger.Debug("database opened", zap.String("path", cfg.Path))
	return &Database{db: db, cfg: cfg, logger: logger}, nil
}

// DB returns the underlying connection pool for application queries.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Path returns the configured database path.
func (d *Database) Path() string {
	return d.cfg.Path
}

// Ping checks the connection, used by health checks.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}
