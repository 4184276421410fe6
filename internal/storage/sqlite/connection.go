package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	_ "modernc.org/sqlite"
)

// DB manages the SQLite database connection
type DB struct {
	db     *sql.DB
	logger arbor.ILogger
	path   string
}

// Open creates a new SQLite database connection
func Open(logger arbor.ILogger, path string) (*DB, error) {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// modernc.org/sqlite uses "sqlite" driver name (not "sqlite3").
	// Transactions take the write lock up front so that the read-check-
	// insert in InsertJob serialises across processes.
	db, err := sql.Open("sqlite", path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps the session pragmas below in force for every
	// query; SQLite allows one writer at a time regardless.
	db.SetMaxOpenConns(1)

	d := &DB{
		db:     db,
		logger: logger,
		path:   path,
	}

	if err := d.configure(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	logger.Debug().Str("path", path).Msg("SQLite database opened")
	return d, nil
}

// configure sets up SQLite pragmas and settings
func (d *DB) configure() error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
	}

	for _, pragma := range pragmas {
		if _, err := d.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

// DB returns the underlying database connection
func (d *DB) DB() *sql.DB {
	return d.db
}

// BeginTx starts a new transaction
func (d *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return d.db.BeginTx(ctx, nil)
}

// Close closes the database connection
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}
