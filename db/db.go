// ABOUTME: Database connection management and initialization
// ABOUTME: Handles opening SQLite database with WAL mode at XDG path
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultPath returns the default database location under the XDG data dir.
func DefaultPath() string {
	return filepath.Join(xdg.DataHome, "calsync", "calsync.db")
}

func OpenDatabase(path string) (*sql.DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes writers; readers still see committed rows only.
	db.SetMaxOpenConns(1)

	if err := InitSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// dbTime normalizes instants before storage so text comparisons in SQL
// order the same way the instants do.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: dbTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
