// Package storage persists project state (sources, dependency graph, visited
// and dirty files) in a SQLite database under the project data directory.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"xref/internal/logging"
)

// schemaVersion is bumped on incompatible layout changes. A mismatch degrades
// the project to empty state and a full re-index.
const schemaVersion = 1

// dbFile is the database filename inside the data directory.
const dbFile = "project.db"

// DB represents a database connection with transaction helpers.
type DB struct {
	conn   *sql.DB
	logger *logging.Logger
	dbPath string
}

// Open opens or creates the project database at <dataDir>/project.db.
// A schema-version mismatch or an unreadable database is not fatal: the file
// is recreated empty and the caller schedules a full re-index.
func Open(dataDir string, logger *logging.Logger) (*DB, bool, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, false, fmt.Errorf("create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, dbFile)

	db, fresh, err := open(dbPath, logger)
	if err == nil {
		return db, fresh, nil
	}

	// Corrupt or incompatible database: start over.
	logger.Warn("Project database unusable, recreating", map[string]interface{}{
		"path":  dbPath,
		"error": err.Error(),
	})
	if rmErr := os.Remove(dbPath); rmErr != nil && !os.IsNotExist(rmErr) {
		return nil, false, fmt.Errorf("remove corrupt database: %w", rmErr)
	}
	db, _, err = open(dbPath, logger)
	if err != nil {
		return nil, false, err
	}
	return db, true, nil
}

func open(dbPath string, logger *logging.Logger) (*DB, bool, error) {
	fresh := !fileExists(dbPath)

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, false, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, false, fmt.Errorf("set pragma: %w", err)
		}
	}

	db := &DB{conn: conn, logger: logger, dbPath: dbPath}

	if fresh {
		if err := db.initializeSchema(); err != nil {
			conn.Close()
			return nil, false, fmt.Errorf("initialize schema: %w", err)
		}
		return db, true, nil
	}

	version, err := db.currentSchemaVersion()
	if err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		conn.Close()
		return nil, false, fmt.Errorf("schema version %d, want %d", version, schemaVersion)
	}
	return db, false, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.dbPath
}

// WithTx executes fn within a transaction, rolling back on error.
func (db *DB) WithTx(fn func(*sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("failed to rollback transaction", map[string]interface{}{
				"error":          err.Error(),
				"rollback_error": rbErr.Error(),
			})
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (db *DB) initializeSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			id   INTEGER PRIMARY KEY,
			path TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS sources (
			source_key TEXT PRIMARY KEY,
			file_id    INTEGER NOT NULL,
			path       TEXT NOT NULL,
			args       TEXT NOT NULL,
			compiler   TEXT NOT NULL,
			mtime      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sources_file ON sources(file_id)`,
		`CREATE TABLE IF NOT EXISTS dependencies (
			file_id    INTEGER NOT NULL,
			include_id INTEGER NOT NULL,
			PRIMARY KEY (file_id, include_id)
		)`,
		`CREATE TABLE IF NOT EXISTS visited_files (
			file_id INTEGER PRIMARY KEY,
			path    TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dirty_files (
			file_id INTEGER PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS compdb (
			id            INTEGER PRIMARY KEY CHECK (id = 1),
			dir           TEXT NOT NULL,
			last_modified INTEGER NOT NULL,
			path_env      TEXT NOT NULL,
			index_flags   TEXT NOT NULL
		)`,
	}

	return db.WithTx(func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
		}
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)`,
			fmt.Sprintf("%d", schemaVersion))
		return err
	})
}

func (db *DB) currentSchemaVersion() (int, error) {
	var value string
	err := db.conn.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&value)
	if err != nil {
		return 0, err
	}
	var version int
	if _, err := fmt.Sscanf(value, "%d", &version); err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", value, err)
	}
	return version, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
