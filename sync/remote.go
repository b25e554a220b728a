// ABOUTME: Provider-neutral view of remote calendar items and the client contract
// ABOUTME: The engine talks to RemoteCalendar; GoogleCalendar is the production adapter
package sync

import (
	"context"
	"time"
)

const statusCancelled = "cancelled"

// Reminder is one remote reminder override.
type Reminder struct {
	Method  string
	Minutes int
}

// RemoteEvent is a remote calendar item. All-day items carry date-only
// instants at UTC midnight with an exclusive end date, as the provider does.
type RemoteEvent struct {
	ID          string
	Etag        string
	Status      string
	Updated     *time.Time
	Summary     string
	Description string
	Location    string
	ColorID     string
	Start       time.Time
	End         time.Time
	AllDay      bool
	TimeZone    string
	Recurrence  []string
	Reminders   []Reminder
}

// Deleted reports whether the remote item was removed.
func (r *RemoteEvent) Deleted() bool {
	return r.Status == statusCancelled
}

// ChangePage is one page of a change listing.
type ChangePage struct {
	Items         []*RemoteEvent
	NextPageToken string
	NextSyncToken string
	// Skipped lists items the adapter could not decode.
	Skipped []SkippedItem
}

// SkippedItem is a listed remote item that could not be decoded.
type SkippedItem struct {
	ID     string
	Reason string
}

// Truncated reports whether more pages follow before the sync token is valid.
func (p *ChangePage) Truncated() bool {
	return p.NextPageToken != ""
}

// RemoteCalendar is the thin adapter the engine drives. Implementations map
// provider failures onto ErrRemoteConflict, ErrRemoteNotFound,
// ErrInvalidSyncToken and ErrUnauthenticated.
type RemoteCalendar interface {
	// ListChanges returns changes since syncToken, or a full listing of live
	// items when syncToken is empty.
	ListChanges(ctx context.Context, calendarID, syncToken, pageToken string) (*ChangePage, error)
	Get(ctx context.Context, calendarID, remoteID string) (*RemoteEvent, error)
	Insert(ctx context.Context, calendarID string, ev *RemoteEvent) (*RemoteEvent, error)
	// Patch updates the item only while its etag still equals expectedEtag.
	Patch(ctx context.Context, calendarID, remoteID, expectedEtag string, ev *RemoteEvent) (*RemoteEvent, error)
	Delete(ctx context.Context, calendarID, remoteID, expectedEtag string) error
}
