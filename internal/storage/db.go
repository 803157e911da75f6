package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the single-writer SQLite connection that backs the gateway.
// A single connection is kept open deliberately: SQLite's own locking,
// not an application mutex, is what serializes writers onto one file.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the database at path, configures it
// for single-writer WAL operation, and applies any pending migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-64000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn exposes the raw connection for packages that need ad-hoc queries
// (e.g. stats aggregation) without growing this package's surface forever.
func (d *DB) Conn() *sql.DB {
	return d.conn
}
