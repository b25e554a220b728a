// ABOUTME: Field mapping between local calendar events and remote items
// ABOUTME: Handles all-day date conventions, palette colors, recurrence lines and alerts
package sync

import (
	"time"

	"github.com/harperreed/calsync/models"
)

// toRemote builds the remote payload for a local event. Local all-day events
// store an inclusive last day; the remote end date is exclusive.
func toRemote(ev *models.CalendarEvent) *RemoteEvent {
	r := &RemoteEvent{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		ColorID:     ev.Color.ColorID(),
		AllDay:      ev.AllDay,
		TimeZone:    ev.TimeZone,
		Recurrence:  ev.RecurrenceLines(),
	}

	if ev.AllDay {
		r.Start = civilDay(ev.Start)
		end := civilDay(ev.End)
		if end.Before(r.Start) {
			end = r.Start
		}
		r.End = end.AddDate(0, 0, 1)
	} else {
		loc := time.UTC
		if ev.TimeZone != "" {
			if l, err := time.LoadLocation(ev.TimeZone); err == nil {
				loc = l
			}
		}
		r.Start = ev.Start.In(loc)
		r.End = ev.End.In(loc)
		if r.TimeZone == "" {
			r.TimeZone = "UTC"
		}
	}

	if ev.Alert == models.AlertPopup || ev.Alert == models.AlertEmail {
		r.Reminders = []Reminder{{Method: string(ev.Alert), Minutes: ev.AlertOffset}}
	}

	return r
}

// applyRemoteFields copies remote values onto ev, keeping its local id.
func applyRemoteFields(ev *models.CalendarEvent, r *RemoteEvent, calendarID string) {
	ev.Title = r.Summary
	ev.Description = r.Description
	ev.Location = r.Location
	ev.Color = models.ColorFromID(r.ColorID)
	ev.AllDay = r.AllDay

	if r.AllDay {
		ev.Start = civilDay(r.Start)
		end := civilDay(r.End).AddDate(0, 0, -1)
		if end.Before(ev.Start) {
			end = ev.Start
		}
		ev.End = end
	} else {
		ev.Start = r.Start
		ev.End = r.End
	}
	if r.TimeZone != "" {
		ev.TimeZone = r.TimeZone
	}

	ev.Recurrence, ev.RecurrenceRule = models.ParseRecurrenceLines(r.Recurrence)

	ev.Alert, ev.AlertOffset = models.AlertNone, 0
	if len(r.Reminders) > 0 {
		first := r.Reminders[0]
		ev.Alert = models.AlertPopup
		if first.Method == string(models.AlertEmail) {
			ev.Alert = models.AlertEmail
		}
		ev.AlertOffset = first.Minutes
	}

	ev.RemoteEventID = r.ID
	ev.RemoteCalendarID = calendarID
	ev.RemoteEtag = r.Etag
	ev.RemoteUpdatedAt = r.Updated
}

func civilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
