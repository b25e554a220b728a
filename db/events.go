// ABOUTME: Local event store backed by the events table
// ABOUTME: Tracks per-event sync metadata, tombstones and local revisions for the sync engine
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/calsync/models"
)

var (
	ErrNotFound          = errors.New("event not found")
	ErrIllegalTransition = errors.New("illegal sync status transition")
)

// Search defaults.
var (
	searchFrom = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	searchTo   = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 200
)

const eventColumns = `id, title, start_at, end_at, all_day, time_zone, recurrence, recurrence_rule,
	location, description, color, alert, alert_offset, sync_status, remote_event_id,
	remote_calendar_id, remote_etag, remote_updated_at, local_revision, created_at, updated_at`

// EventStore provides durable storage for calendar events and their sync metadata.
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates a new event store.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.CalendarEvent, error) {
	var ev models.CalendarEvent
	var allDay int
	var rule, location, description, color sql.NullString
	var remoteID, remoteCal, etag sql.NullString
	var remoteUpdated sql.NullTime

	err := row.Scan(
		&ev.ID, &ev.Title, &ev.Start, &ev.End, &allDay, &ev.TimeZone, &ev.Recurrence, &rule,
		&location, &description, &color, &ev.Alert, &ev.AlertOffset, &ev.SyncStatus, &remoteID,
		&remoteCal, &etag, &remoteUpdated, &ev.LocalRevision, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	ev.AllDay = allDay == 1
	ev.RecurrenceRule = rule.String
	ev.Location = location.String
	ev.Description = description.String
	ev.Color = models.Color(color.String)
	ev.RemoteEventID = remoteID.String
	ev.RemoteCalendarID = remoteCal.String
	ev.RemoteEtag = etag.String
	if remoteUpdated.Valid {
		t := remoteUpdated.Time
		ev.RemoteUpdatedAt = &t
	}
	return &ev, nil
}

func collectEvents(rows *sql.Rows) ([]*models.CalendarEvent, error) {
	defer func() { _ = rows.Close() }()

	var events []*models.CalendarEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// Get retrieves an event by local id, tombstones included.
func (s *EventStore) Get(ctx context.Context, id string) (*models.CalendarEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return ev, nil
}

// List returns every visible event ordered by start. Tombstones are hidden.
func (s *EventStore) List(ctx context.Context) ([]*models.CalendarEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE sync_status != 'deleted'
		ORDER BY start_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return collectEvents(rows)
}

// ListDirty returns events carrying local intent not yet pushed: new or edited
// events and tombstones. Conflicts are excluded.
func (s *EventStore) ListDirty(ctx context.Context) ([]*models.CalendarEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE sync_status IN ('local', 'deleted')
		ORDER BY updated_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty events: %w", err)
	}
	return collectEvents(rows)
}

// ListConflicts returns events awaiting resolution.
func (s *EventStore) ListConflicts(ctx context.Context) ([]*models.CalendarEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE sync_status = 'conflict'
		ORDER BY start_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	return collectEvents(rows)
}

// FindByRemoteID looks up the local event materializing a remote item.
func (s *EventStore) FindByRemoteID(ctx context.Context, calendarID, remoteID string) (*models.CalendarEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE remote_calendar_id = ? AND remote_event_id = ?
	`, calendarID, remoteID)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find event by remote id: %w", err)
	}
	return ev, nil
}

// ListRemoteIDs maps remote id to local id for every event linked to calendarID.
func (s *EventStore) ListRemoteIDs(ctx context.Context, calendarID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT remote_event_id, id FROM events
		WHERE remote_calendar_id = ? AND remote_event_id IS NOT NULL AND remote_event_id != ''
	`, calendarID)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := make(map[string]string)
	for rows.Next() {
		var remoteID, id string
		if err := rows.Scan(&remoteID, &id); err != nil {
			return nil, fmt.Errorf("failed to scan remote id: %w", err)
		}
		ids[remoteID] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating remote ids: %w", err)
	}
	return ids, nil
}

// Upsert writes an event with the status it carries. A new id is assigned when
// empty. Every write bumps LocalRevision; ev is updated in place with the
// stored revision and timestamps.
func (s *EventStore) Upsert(ctx context.Context, ev *models.CalendarEvent) error {
	if ev == nil {
		return models.ErrInvalidEvent
	}
	if ev.SyncStatus == "" {
		ev.SyncStatus = models.StatusLocal
	}
	if !ev.SyncStatus.Valid() {
		return fmt.Errorf("%w: unknown sync status %q", models.ErrInvalidEvent, ev.SyncStatus)
	}
	ev.Normalize()
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	return s.write(ctx, ev)
}

// ApplyRemote overwrites an event with remote-sourced fields and marks it synced.
func (s *EventStore) ApplyRemote(ctx context.Context, ev *models.CalendarEvent) error {
	if ev == nil || ev.RemoteEventID == "" {
		return fmt.Errorf("%w: remote event id is required", models.ErrInvalidEvent)
	}
	ev.SyncStatus = models.StatusSynced
	ev.Normalize()
	if ev.Title == "" {
		ev.Title = "(No title)"
	}
	if ev.End.Before(ev.Start) {
		ev.End = ev.Start
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	return s.write(ctx, ev)
}

func (s *EventStore) write(ctx context.Context, ev *models.CalendarEvent) error {
	now := dbTime(time.Now())
	allDay := 0
	if ev.AllDay {
		allDay = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, title, start_at, end_at, all_day, time_zone, recurrence, recurrence_rule,
			location, description, color, alert, alert_offset, sync_status, remote_event_id,
			remote_calendar_id, remote_etag, remote_updated_at, local_revision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			all_day = excluded.all_day,
			time_zone = excluded.time_zone,
			recurrence = excluded.recurrence,
			recurrence_rule = excluded.recurrence_rule,
			location = excluded.location,
			description = excluded.description,
			color = excluded.color,
			alert = excluded.alert,
			alert_offset = excluded.alert_offset,
			sync_status = excluded.sync_status,
			remote_event_id = excluded.remote_event_id,
			remote_calendar_id = excluded.remote_calendar_id,
			remote_etag = excluded.remote_etag,
			remote_updated_at = excluded.remote_updated_at,
			local_revision = events.local_revision + 1,
			updated_at = excluded.updated_at
	`,
		ev.ID, ev.Title, dbTime(ev.Start), dbTime(ev.End), allDay, ev.TimeZone,
		string(ev.Recurrence), nullString(ev.RecurrenceRule), nullString(ev.Location),
		nullString(ev.Description), nullString(string(ev.Color)), string(ev.Alert), ev.AlertOffset,
		string(ev.SyncStatus), nullString(ev.RemoteEventID), nullString(ev.RemoteCalendarID),
		nullString(ev.RemoteEtag), nullTime(ev.RemoteUpdatedAt), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		SELECT local_revision, created_at, updated_at FROM events WHERE id = ?
	`, ev.ID).Scan(&ev.LocalRevision, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to read back event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event: %w", err)
	}
	return nil
}

// Edit applies user-editable fields to an existing event in one statement,
// leaving its remote metadata alone. A synced event becomes local; local and
// conflict events keep their status. Tombstones are treated as missing.
func (s *EventStore) Edit(ctx context.Context, ev *models.CalendarEvent) error {
	if ev == nil || ev.ID == "" {
		return fmt.Errorf("%w: event id is required", models.ErrInvalidEvent)
	}
	ev.Normalize()
	if err := ev.Validate(); err != nil {
		return err
	}
	allDay := 0
	if ev.AllDay {
		allDay = 1
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET
			title = ?, start_at = ?, end_at = ?, all_day = ?, time_zone = ?, recurrence = ?,
			recurrence_rule = ?, location = ?, description = ?, color = ?, alert = ?, alert_offset = ?,
			sync_status = CASE sync_status WHEN 'synced' THEN 'local' ELSE sync_status END,
			local_revision = local_revision + 1,
			updated_at = ?
		WHERE id = ? AND sync_status != 'deleted'
	`,
		ev.Title, dbTime(ev.Start), dbTime(ev.End), allDay, ev.TimeZone,
		string(ev.Recurrence), nullString(ev.RecurrenceRule), nullString(ev.Location),
		nullString(ev.Description), nullString(string(ev.Color)), string(ev.Alert), ev.AlertOffset,
		dbTime(time.Now()), ev.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to edit event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	stored, err := s.Get(ctx, ev.ID)
	if err != nil {
		return err
	}
	*ev = *stored
	return nil
}

// Delete removes an event. Events linked to a remote item are tombstoned
// until the remote delete is confirmed; local-only events are removed at once.
// It reports whether a tombstone was left behind.
func (s *EventStore) Delete(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var remoteID sql.NullString
	var status models.SyncStatus
	err = tx.QueryRowContext(ctx, `SELECT remote_event_id, sync_status FROM events WHERE id = ?`, id).
		Scan(&remoteID, &status)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to load event: %w", err)
	}
	if status == models.StatusDeleted {
		return true, tx.Commit()
	}

	tombstoned := remoteID.Valid && remoteID.String != ""
	if tombstoned {
		_, err = tx.ExecContext(ctx, `
			UPDATE events
			SET sync_status = 'deleted', local_revision = local_revision + 1, updated_at = ?
			WHERE id = ?
		`, dbTime(time.Now()), id)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w", err)
	}
	return tombstoned, nil
}

// Purge removes an event row outright, finalizing a tombstone.
func (s *EventStore) Purge(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to purge event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to purge event: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSynced records remote metadata after a successful push. The status only
// moves to synced when the stored revision still equals revision; an edit made
// while the push was in flight keeps the event dirty but still gets the new
// etag so the next patch is conditioned correctly. It reports whether the
// status changed.
func (s *EventStore) MarkSynced(ctx context.Context, id string, meta models.SyncMeta, revision int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE events
		SET sync_status = 'synced', remote_event_id = ?, remote_calendar_id = ?,
			remote_etag = ?, remote_updated_at = ?
		WHERE id = ? AND local_revision = ? AND sync_status = 'local'
	`, meta.RemoteEventID, meta.RemoteCalendarID, nullString(meta.RemoteEtag),
		nullTime(meta.RemoteUpdatedAt), id, revision)
	if err != nil {
		return false, fmt.Errorf("failed to mark event synced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark event synced: %w", err)
	}

	if n == 0 {
		res, err = tx.ExecContext(ctx, `
			UPDATE events
			SET remote_event_id = ?, remote_calendar_id = ?, remote_etag = ?, remote_updated_at = ?
			WHERE id = ?
		`, meta.RemoteEventID, meta.RemoteCalendarID, nullString(meta.RemoteEtag),
			nullTime(meta.RemoteUpdatedAt), id)
		if err != nil {
			return false, fmt.Errorf("failed to record remote metadata: %w", err)
		}
		if m, _ := res.RowsAffected(); m == 0 {
			return false, ErrNotFound
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit sync metadata: %w", err)
	}
	return n > 0, nil
}

// MarkConflict flags an event as conflicted. When etag is non-empty the stored
// remote etag and updated time are replaced so a later resolution patches
// against the remote's current revision. Local field values are untouched.
func (s *EventStore) MarkConflict(ctx context.Context, id, etag string, remoteUpdated *time.Time) error {
	var res sql.Result
	var err error
	if etag != "" {
		res, err = s.db.ExecContext(ctx, `
			UPDATE events SET sync_status = 'conflict', remote_etag = ?, remote_updated_at = ?
			WHERE id = ?
		`, etag, nullTime(remoteUpdated), id)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE events SET sync_status = 'conflict' WHERE id = ?`, id)
	}
	if err != nil {
		return fmt.Errorf("failed to mark event conflict: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus moves an event to a new status, enforcing the transition table.
func (s *EventStore) SetStatus(ctx context.Context, id string, to models.SyncStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var from models.SyncStatus
	err = tx.QueryRowContext(ctx, `SELECT sync_status FROM events WHERE id = ?`, id).Scan(&from)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load event status: %w", err)
	}
	if !models.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE events SET sync_status = ?, local_revision = local_revision + 1, updated_at = ?
		WHERE id = ?
	`, string(to), dbTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	return tx.Commit()
}

// SearchQuery describes a local search. Zero From/To select a wide window.
type SearchQuery struct {
	Text  string
	From  time.Time
	To    time.Time
	Limit int
}

// Search matches every whitespace-separated term, case-insensitively, against
// title, description or location of events starting inside the window.
func (s *EventStore) Search(ctx context.Context, q SearchQuery) ([]*models.CalendarEvent, error) {
	from, to := q.From, q.To
	if from.IsZero() {
		from = searchFrom
	}
	if to.IsZero() {
		to = searchTo
	}
	if !to.After(from) {
		to = from.Add(24 * time.Hour)
	}
	limit := q.Limit
	if limit <= 0 || limit > maxSearchLimit {
		limit = defaultSearchLimit
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + eventColumns + ` FROM events
		WHERE sync_status != 'deleted' AND start_at BETWEEN ? AND ?`)
	args := []any{dbTime(from), dbTime(to)}

	for _, term := range strings.Fields(strings.ToLower(q.Text)) {
		sb.WriteString(` AND (LOWER(title) LIKE ? ESCAPE '\' OR LOWER(COALESCE(description, '')) LIKE ? ESCAPE '\' OR LOWER(COALESCE(location, '')) LIKE ? ESCAPE '\')`)
		pattern := "%" + escapeLike(term) + "%"
		args = append(args, pattern, pattern, pattern)
	}
	sb.WriteString(` ORDER BY start_at ASC, id ASC LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search events: %w", err)
	}
	return collectEvents(rows)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
