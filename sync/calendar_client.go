// ABOUTME: Calendar API client for Google Calendar
// ABOUTME: Adapts events.list/get/insert/patch/delete to the RemoteCalendar contract
package sync

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const (
	maxResults = 250 // Google Calendar API max per page
	dateLayout = "2006-01-02"
)

// GoogleCalendar talks to the Google Calendar v3 API.
type GoogleCalendar struct {
	svc *calendar.Service
}

// NewGoogleCalendar creates a client authorized through the credential store.
// Extra options are appended, so tests can point it at a fake endpoint.
func NewGoogleCalendar(ctx context.Context, creds *CredentialStore, opts ...option.ClientOption) (*GoogleCalendar, error) {
	if creds == nil {
		return nil, fmt.Errorf("credential store cannot be nil")
	}

	all := append([]option.ClientOption{option.WithTokenSource(creds.TokenSource(ctx))}, opts...)
	service, err := calendar.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &GoogleCalendar{svc: service}, nil
}

// ListChanges fetches one page of changes. Recurring events are returned as
// their masters; instances are never expanded.
func (g *GoogleCalendar) ListChanges(ctx context.Context, calendarID, syncToken, pageToken string) (*ChangePage, error) {
	call := g.svc.Events.List(calendarID).MaxResults(maxResults).Context(ctx)
	if syncToken != "" {
		call = call.SyncToken(syncToken)
	} else {
		call = call.ShowDeleted(false)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, classifyError(err, syncToken != "")
	}

	page := &ChangePage{
		NextPageToken: resp.NextPageToken,
		NextSyncToken: resp.NextSyncToken,
	}
	for _, item := range resp.Items {
		ev, err := fromGoogle(item)
		if err != nil {
			page.Skipped = append(page.Skipped, SkippedItem{ID: item.Id, Reason: err.Error()})
			continue
		}
		page.Items = append(page.Items, ev)
	}
	return page, nil
}

// Get fetches a single item. A cancelled item counts as not found.
func (g *GoogleCalendar) Get(ctx context.Context, calendarID, remoteID string) (*RemoteEvent, error) {
	item, err := g.svc.Events.Get(calendarID, remoteID).Context(ctx).Do()
	if err != nil {
		return nil, classifyError(err, false)
	}
	if item.Status == statusCancelled {
		return nil, fmt.Errorf("%w: %s is cancelled", ErrRemoteNotFound, remoteID)
	}
	return fromGoogle(item)
}

// Insert creates a new remote item.
func (g *GoogleCalendar) Insert(ctx context.Context, calendarID string, ev *RemoteEvent) (*RemoteEvent, error) {
	item, err := g.svc.Events.Insert(calendarID, toGoogle(ev)).Context(ctx).Do()
	if err != nil {
		return nil, classifyError(err, false)
	}
	return fromGoogle(item)
}

// Patch conditionally updates an item with If-Match.
func (g *GoogleCalendar) Patch(ctx context.Context, calendarID, remoteID, expectedEtag string, ev *RemoteEvent) (*RemoteEvent, error) {
	call := g.svc.Events.Patch(calendarID, remoteID, toGoogle(ev)).Context(ctx)
	if expectedEtag != "" {
		call.Header().Set("If-Match", expectedEtag)
	}
	item, err := call.Do()
	if err != nil {
		return nil, classifyError(err, false)
	}
	return fromGoogle(item)
}

// Delete conditionally removes an item with If-Match.
func (g *GoogleCalendar) Delete(ctx context.Context, calendarID, remoteID, expectedEtag string) error {
	call := g.svc.Events.Delete(calendarID, remoteID).Context(ctx)
	if expectedEtag != "" {
		call.Header().Set("If-Match", expectedEtag)
	}
	if err := call.Do(); err != nil {
		return classifyError(err, false)
	}
	return nil
}

func fromGoogle(item *calendar.Event) (*RemoteEvent, error) {
	ev := &RemoteEvent{
		ID:          item.Id,
		Etag:        item.Etag,
		Status:      item.Status,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		ColorID:     item.ColorId,
		Recurrence:  item.Recurrence,
	}

	if item.Updated != "" {
		if t, err := time.Parse(time.RFC3339Nano, item.Updated); err == nil {
			ev.Updated = &t
		}
	}

	if item.Reminders != nil {
		for _, r := range item.Reminders.Overrides {
			ev.Reminders = append(ev.Reminders, Reminder{Method: r.Method, Minutes: int(r.Minutes)})
		}
	}

	// Cancelled items from an incremental listing carry only id and status.
	if ev.Deleted() {
		return ev, nil
	}

	if item.Start == nil || item.End == nil {
		return nil, fmt.Errorf("google event %s missing start or end", item.Id)
	}

	start, allDay, err := parseEventDateTime(item.Start)
	if err != nil {
		return nil, fmt.Errorf("google event %s: invalid start: %w", item.Id, err)
	}
	end, _, err := parseEventDateTime(item.End)
	if err != nil {
		return nil, fmt.Errorf("google event %s: invalid end: %w", item.Id, err)
	}
	ev.Start, ev.End, ev.AllDay = start, end, allDay
	ev.TimeZone = item.Start.TimeZone

	return ev, nil
}

func parseEventDateTime(dt *calendar.EventDateTime) (time.Time, bool, error) {
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, false, err
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation(dateLayout, dt.Date, time.UTC)
		return t, true, err
	}
	return time.Time{}, false, fmt.Errorf("neither date nor dateTime set")
}

func toGoogle(ev *RemoteEvent) *calendar.Event {
	// Patch only sends set fields; clearing a value must be explicit.
	item := &calendar.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		ColorId:     ev.ColorID,
		Recurrence:  ev.Recurrence,
		Start:       &calendar.EventDateTime{},
		End:         &calendar.EventDateTime{},
	}
	item.ForceSendFields = []string{"Summary", "Description", "Location", "Recurrence"}
	if ev.ColorID == "" {
		item.NullFields = append(item.NullFields, "ColorId")
	}

	if ev.AllDay {
		item.Start.Date = ev.Start.Format(dateLayout)
		item.End.Date = ev.End.Format(dateLayout)
		item.Start.NullFields = []string{"DateTime"}
		item.End.NullFields = []string{"DateTime"}
	} else {
		item.Start.DateTime = ev.Start.Format(time.RFC3339)
		item.End.DateTime = ev.End.Format(time.RFC3339)
		item.Start.TimeZone = ev.TimeZone
		item.End.TimeZone = ev.TimeZone
		item.Start.NullFields = []string{"Date"}
		item.End.NullFields = []string{"Date"}
	}

	reminders := &calendar.EventReminders{ForceSendFields: []string{"UseDefault"}}
	for _, r := range ev.Reminders {
		reminders.Overrides = append(reminders.Overrides, &calendar.EventReminder{
			Method:          r.Method,
			Minutes:         int64(r.Minutes),
			ForceSendFields: []string{"Minutes"},
		})
	}
	if len(reminders.Overrides) == 0 {
		reminders.ForceSendFields = append(reminders.ForceSendFields, "Overrides")
	}
	item.Reminders = reminders

	return item
}
