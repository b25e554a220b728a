// ABOUTME: Data models for calendar events and their sync metadata
// ABOUTME: Defines CalendarEvent plus the SyncStatus, Recurrence, Color and Alert enums
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidEvent is returned when an event fails validation.
var ErrInvalidEvent = errors.New("invalid event")

// SyncStatus is the per-event sync state. Transitions are checked by CanTransition.
type SyncStatus string

const (
	// StatusLocal marks an event with local changes the remote has not seen.
	StatusLocal SyncStatus = "local"
	// StatusSynced marks an event matching its remote counterpart.
	StatusSynced SyncStatus = "synced"
	// StatusConflict marks divergent local and remote edits. Terminal until resolved.
	StatusConflict SyncStatus = "conflict"
	// StatusDeleted is a tombstone: deletion requested, remote delete not yet confirmed.
	StatusDeleted SyncStatus = "deleted"
)

var transitions = map[SyncStatus][]SyncStatus{
	StatusLocal:    {StatusSynced, StatusConflict, StatusDeleted},
	StatusSynced:   {StatusLocal, StatusConflict, StatusDeleted},
	StatusConflict: {StatusSynced, StatusLocal, StatusDeleted},
	StatusDeleted:  {StatusConflict},
}

// Valid reports whether s is a known status.
func (s SyncStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsDirty reports whether the event carries local intent not yet pushed.
func (s SyncStatus) IsDirty() bool {
	return s == StatusLocal || s == StatusDeleted
}

// CanTransition reports whether moving from one status to another is legal.
// Staying in the same status is always allowed.
func CanTransition(from, to SyncStatus) bool {
	if from == to {
		return from.Valid()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Recurrence is the recurrence tag shown to the user.
type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
	RecurrenceYearly  Recurrence = "yearly"
	RecurrenceCustom  Recurrence = "custom"
)

func (r Recurrence) valid() bool {
	switch r {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceYearly, RecurrenceCustom:
		return true
	}
	return false
}

// Color is one of the eleven palette values understood by Google Calendar.
// The empty color means "calendar default".
type Color string

const (
	ColorLavender  Color = "lavender"
	ColorSage      Color = "sage"
	ColorGrape     Color = "grape"
	ColorFlamingo  Color = "flamingo"
	ColorBanana    Color = "banana"
	ColorTangerine Color = "tangerine"
	ColorPeacock   Color = "peacock"
	ColorGraphite  Color = "graphite"
	ColorBlueberry Color = "blueberry"
	ColorBasil     Color = "basil"
	ColorTomato    Color = "tomato"
)

// Palette lists the colors in Google colorId order ("1" through "11").
var Palette = []Color{
	ColorLavender, ColorSage, ColorGrape, ColorFlamingo, ColorBanana, ColorTangerine,
	ColorPeacock, ColorGraphite, ColorBlueberry, ColorBasil, ColorTomato,
}

// ColorID returns the Google colorId for c, or "" for the default color.
func (c Color) ColorID() string {
	for i, p := range Palette {
		if p == c {
			return fmt.Sprintf("%d", i+1)
		}
	}
	return ""
}

// ColorFromID maps a Google colorId back to a palette color.
func ColorFromID(id string) Color {
	for i, p := range Palette {
		if fmt.Sprintf("%d", i+1) == strings.TrimSpace(id) {
			return p
		}
	}
	return ""
}

func (c Color) valid() bool {
	return c == "" || c.ColorID() != ""
}

// AlertKind selects how the user is reminded.
type AlertKind string

const (
	AlertNone  AlertKind = "none"
	AlertPopup AlertKind = "popup"
	AlertEmail AlertKind = "email"
)

func (a AlertKind) valid() bool {
	return a == AlertNone || a == AlertPopup || a == AlertEmail
}

// CalendarEvent is a scheduled item stored locally, either created here or
// materialized from the remote calendar.
type CalendarEvent struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Start          time.Time  `json:"start"`
	End            time.Time  `json:"end"`
	AllDay         bool       `json:"allDay"`
	TimeZone       string     `json:"timeZone,omitempty"`
	Recurrence     Recurrence `json:"recurrence"`
	RecurrenceRule string     `json:"recurrenceCustom,omitempty"`
	Location       string     `json:"location,omitempty"`
	Description    string     `json:"description,omitempty"`
	Color          Color      `json:"color,omitempty"`
	Alert          AlertKind  `json:"alert"`
	AlertOffset    int        `json:"alertOffset"` // minutes before start

	SyncStatus       SyncStatus `json:"syncStatus"`
	RemoteEventID    string     `json:"remoteEventId,omitempty"`
	RemoteCalendarID string     `json:"remoteCalendarId,omitempty"`
	RemoteEtag       string     `json:"remoteEtag,omitempty"`
	RemoteUpdatedAt  *time.Time `json:"remoteUpdatedAt,omitempty"`
	LocalRevision    int64      `json:"localRevision"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsRemote reports whether the event has a materialized remote counterpart.
func (e *CalendarEvent) IsRemote() bool {
	return e.RemoteEventID != ""
}

// Normalize fills zero-valued enums with their defaults.
func (e *CalendarEvent) Normalize() {
	if e.Recurrence == "" {
		e.Recurrence = RecurrenceNone
	}
	if e.Alert == "" {
		e.Alert = AlertNone
	}
	if e.TimeZone == "" {
		e.TimeZone = "UTC"
	}
	if e.AllDay {
		e.Start = truncateDay(e.Start)
		e.End = truncateDay(e.End)
	}
}

// Validate checks the invariants every stored event must satisfy.
func (e *CalendarEvent) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidEvent)
	}
	if e.Start.IsZero() || e.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidEvent)
	}
	if e.End.Before(e.Start) {
		return fmt.Errorf("%w: end %s is before start %s", ErrInvalidEvent,
			e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
	}
	if !e.Recurrence.valid() {
		return fmt.Errorf("%w: unknown recurrence %q", ErrInvalidEvent, e.Recurrence)
	}
	if e.Recurrence == RecurrenceCustom {
		if err := ValidateRule(e.RecurrenceRule); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
	}
	if !e.Color.valid() {
		return fmt.Errorf("%w: unknown color %q", ErrInvalidEvent, e.Color)
	}
	if !e.Alert.valid() {
		return fmt.Errorf("%w: unknown alert %q", ErrInvalidEvent, e.Alert)
	}
	if e.AlertOffset < 0 {
		return fmt.Errorf("%w: alert offset must not be negative", ErrInvalidEvent)
	}
	if e.TimeZone != "" {
		if _, err := time.LoadLocation(e.TimeZone); err != nil {
			return fmt.Errorf("%w: unknown time zone %q", ErrInvalidEvent, e.TimeZone)
		}
	}
	return nil
}

// Holiday is a read-only entry from the holiday feed. Never persisted or synced.
type Holiday struct {
	Title   string    `json:"title"`
	Date    time.Time `json:"date"`
	Country string    `json:"country"`
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
