// ABOUTME: Models describing sync passes and per-calendar sync state
// ABOUTME: SyncResult is the summary reported after every pass
package models

import (
	"fmt"
	"time"
)

// SyncResult summarizes one sync pass.
type SyncResult struct {
	CalendarID string        `json:"calendarId"`
	Pulled     int           `json:"pulled"`
	Pushed     int           `json:"pushed"`
	Deleted    int           `json:"deleted"`
	Conflicts  int           `json:"conflicts"`
	Errors     int           `json:"errors"`
	Messages   []string      `json:"messages,omitempty"`
	FullResync bool          `json:"fullResync"`
	SyncToken  string        `json:"syncToken,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// AddError records a per-event failure without aborting the pass.
func (r *SyncResult) AddError(msg string) {
	r.Errors++
	r.Messages = append(r.Messages, msg)
}

// ErrorMessage summarizes partial failures for a banner. Empty when clean.
func (r *SyncResult) ErrorMessage() string {
	switch len(r.Messages) {
	case 0:
		return ""
	case 1:
		return r.Messages[0]
	}
	return fmt.Sprintf("%s (and %d more)", r.Messages[0], len(r.Messages)-1)
}

// Summary is the one-line banner text for a finished pass.
func (r *SyncResult) Summary() string {
	s := fmt.Sprintf("pulled %d, pushed %d, deleted %d", r.Pulled, r.Pushed, r.Deleted)
	if r.Conflicts > 0 {
		s += fmt.Sprintf(", %d conflict%s", r.Conflicts, plural(r.Conflicts))
	}
	if r.Errors > 0 {
		s += fmt.Sprintf(", %d error%s", r.Errors, plural(r.Errors))
	}
	if r.FullResync {
		s += " (full resync)"
	}
	return s
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// SyncMeta is the remote metadata recorded when an event reaches synced.
type SyncMeta struct {
	RemoteEventID    string
	RemoteCalendarID string
	RemoteEtag       string
	RemoteUpdatedAt  *time.Time
}

// SyncState tracks the incremental sync cursor for one remote calendar.
type SyncState struct {
	CalendarID   string     `json:"calendarId"`
	SyncToken    string     `json:"syncToken,omitempty"`
	LastSyncTime *time.Time `json:"lastSyncTime,omitempty"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Sync state statuses.
const (
	SyncIdle    = "idle"
	SyncRunning = "syncing"
	SyncError   = "error"
)
