// ABOUTME: Database schema definitions and migrations
// ABOUTME: Creates the events and sync_state tables used by the sync engine
package db

import (
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	start_at DATETIME NOT NULL,
	end_at DATETIME NOT NULL,
	all_day INTEGER NOT NULL DEFAULT 0,
	time_zone TEXT NOT NULL DEFAULT 'UTC',
	recurrence TEXT NOT NULL DEFAULT 'none',
	recurrence_rule TEXT,
	location TEXT,
	description TEXT,
	color TEXT,
	alert TEXT NOT NULL DEFAULT 'none',
	alert_offset INTEGER NOT NULL DEFAULT 0,
	sync_status TEXT NOT NULL DEFAULT 'local' CHECK(sync_status IN ('local', 'synced', 'conflict', 'deleted')),
	remote_event_id TEXT,
	remote_calendar_id TEXT,
	remote_etag TEXT,
	remote_updated_at DATETIME,
	local_revision INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	CHECK(end_at >= start_at)
);

CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_at);
CREATE INDEX IF NOT EXISTS idx_events_sync_status ON events(sync_status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_remote
	ON events(remote_calendar_id, remote_event_id)
	WHERE remote_event_id IS NOT NULL AND remote_event_id != '';

CREATE TABLE IF NOT EXISTS sync_state (
	calendar_id TEXT PRIMARY KEY,
	sync_token TEXT,
	last_sync_time DATETIME,
	status TEXT NOT NULL DEFAULT 'idle' CHECK(status IN ('idle', 'syncing', 'error')),
	error_message TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// InitSchema creates all tables and indexes if they don't exist.
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
