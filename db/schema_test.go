// ABOUTME: Tests for database schema creation
// ABOUTME: Uses in-memory SQLite for fast isolated tests
package db

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := InitSchema(db); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestInitSchema(t *testing.T) {
	db := setupTestDB(t)

	for _, table := range []string{"events", "sync_state"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s not found: %v", table, err)
		}
	}

	indexes := []string{
		"idx_events_start",
		"idx_events_sync_status",
		"idx_events_remote",
	}
	for _, idx := range indexes {
		var indexName string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&indexName)
		if err != nil {
			t.Errorf("Index %s not found: %v", idx, err)
		}
	}
}

func TestInitSchemaIdempotent(t *testing.T) {
	db := setupTestDB(t)
	if err := InitSchema(db); err != nil {
		t.Fatalf("second InitSchema failed: %v", err)
	}
}

func TestSchemaRejectsUnknownStatus(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.Exec(`
		INSERT INTO events (id, title, start_at, end_at, sync_status, created_at, updated_at)
		VALUES ('x', 'x', '2025-01-01 00:00:00', '2025-01-01 01:00:00', 'dirty', '2025-01-01 00:00:00', '2025-01-01 00:00:00')
	`)
	if err == nil {
		t.Error("expected CHECK constraint to reject unknown sync status")
	}
}
