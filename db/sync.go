// ABOUTME: Database operations for the sync_state table
// ABOUTME: Persists per-calendar sync tokens and the status of the last sync pass
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/harperreed/calsync/models"
)

// GetSyncState retrieves the sync state for a calendar. It returns nil when
// the calendar has never been synced.
func GetSyncState(ctx context.Context, db *sql.DB, calendarID string) (*models.SyncState, error) {
	var state models.SyncState
	var lastSyncTime sql.NullTime
	var syncToken sql.NullString
	var errorMessage sql.NullString

	err := db.QueryRowContext(ctx, `
		SELECT calendar_id, sync_token, last_sync_time, status, error_message, created_at, updated_at
		FROM sync_state
		WHERE calendar_id = ?
	`, calendarID).Scan(
		&state.CalendarID,
		&syncToken,
		&lastSyncTime,
		&state.Status,
		&errorMessage,
		&state.CreatedAt,
		&state.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}

	if lastSyncTime.Valid {
		state.LastSyncTime = &lastSyncTime.Time
	}
	state.SyncToken = syncToken.String
	state.ErrorMessage = errorMessage.String

	return &state, nil
}

// UpdateSyncStatus updates the pass status for a calendar. The token is untouched.
func UpdateSyncStatus(ctx context.Context, db *sql.DB, calendarID, status, errorMsg string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_state (calendar_id, status, error_message, created_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(calendar_id) DO UPDATE SET
			status = excluded.status,
			error_message = excluded.error_message,
			updated_at = CURRENT_TIMESTAMP
	`, calendarID, status, nullString(errorMsg))

	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}

	return nil
}

// UpdateSyncToken stores a new sync token and stamps the last sync time.
func UpdateSyncToken(ctx context.Context, db *sql.DB, calendarID, token string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_state (calendar_id, sync_token, last_sync_time, status, created_at, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP, 'idle', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(calendar_id) DO UPDATE SET
			sync_token = excluded.sync_token,
			last_sync_time = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP
	`, calendarID, nullString(token))

	if err != nil {
		return fmt.Errorf("failed to update sync token: %w", err)
	}

	return nil
}

// ClearSyncToken drops the incremental baseline so the next pass lists everything.
func ClearSyncToken(ctx context.Context, db *sql.DB, calendarID string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE sync_state SET sync_token = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE calendar_id = ?
	`, calendarID)

	if err != nil {
		return fmt.Errorf("failed to clear sync token: %w", err)
	}

	return nil
}

// SyncState returns the stored sync state for calendarID, or nil.
func (s *EventStore) SyncState(ctx context.Context, calendarID string) (*models.SyncState, error) {
	return GetSyncState(ctx, s.db, calendarID)
}

// SetSyncStatus records the status of the current or last pass.
func (s *EventStore) SetSyncStatus(ctx context.Context, calendarID, status, errorMsg string) error {
	return UpdateSyncStatus(ctx, s.db, calendarID, status, errorMsg)
}

// SaveSyncToken persists the token returned by the final page of a pull.
func (s *EventStore) SaveSyncToken(ctx context.Context, calendarID, token string) error {
	return UpdateSyncToken(ctx, s.db, calendarID, token)
}

// ClearSyncToken forgets the token for calendarID.
func (s *EventStore) ClearSyncToken(ctx context.Context, calendarID string) error {
	return ClearSyncToken(ctx, s.db, calendarID)
}
