// ABOUTME: Event MCP tool handlers
// ABOUTME: Implements list_events, create_event, update_event, delete_event and search_events tools
package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/calsync/db"
	"github.com/harperreed/calsync/models"
	"github.com/harperreed/calsync/service"
)

const dateLayout = "2006-01-02"

type EventHandlers struct {
	svc *service.Service
}

func NewEventHandlers(svc *service.Service) *EventHandlers {
	return &EventHandlers{svc: svc}
}

type EventOutput struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Start          string `json:"start"`
	End            string `json:"end"`
	AllDay         bool   `json:"all_day"`
	TimeZone       string `json:"time_zone,omitempty"`
	Recurrence     string `json:"recurrence"`
	RecurrenceRule string `json:"recurrence_rule,omitempty"`
	Location       string `json:"location,omitempty"`
	Description    string `json:"description,omitempty"`
	Color          string `json:"color,omitempty"`
	Alert          string `json:"alert"`
	AlertOffset    int    `json:"alert_offset"`
	SyncStatus     string `json:"sync_status"`
	RemoteEventID  string `json:"remote_event_id,omitempty"`
	UpdatedAt      string `json:"updated_at"`
}

type EventsOutput struct {
	Events []EventOutput `json:"events"`
}

type ListEventsInput struct {
	From string `json:"from,omitempty" jsonschema:"Only events starting on or after this date (YYYY-MM-DD or RFC3339)"`
	To   string `json:"to,omitempty" jsonschema:"Only events starting before this date (YYYY-MM-DD or RFC3339)"`
}

func (h *EventHandlers) ListEvents(ctx context.Context, request *mcp.CallToolRequest, input ListEventsInput) (*mcp.CallToolResult, EventsOutput, error) {
	from, err := parseBound(input.From)
	if err != nil {
		return nil, EventsOutput{}, fmt.Errorf("invalid from: %w", err)
	}
	to, err := parseBound(input.To)
	if err != nil {
		return nil, EventsOutput{}, fmt.Errorf("invalid to: %w", err)
	}

	events, err := h.svc.ListEvents(ctx)
	if err != nil {
		return nil, EventsOutput{}, fmt.Errorf("failed to list events: %w", err)
	}

	out := EventsOutput{Events: []EventOutput{}}
	for _, ev := range events {
		if !from.IsZero() && ev.Start.Before(from) {
			continue
		}
		if !to.IsZero() && !ev.Start.Before(to) {
			continue
		}
		out.Events = append(out.Events, eventToOutput(ev))
	}
	return nil, out, nil
}

type EventInput struct {
	Title          string `json:"title" jsonschema:"Event title (required)"`
	Start          string `json:"start" jsonschema:"Start as RFC3339, or YYYY-MM-DD for all-day events (required)"`
	End            string `json:"end,omitempty" jsonschema:"End as RFC3339, or the inclusive last day (YYYY-MM-DD) for all-day events. Defaults to one hour after start"`
	AllDay         bool   `json:"all_day,omitempty" jsonschema:"Whether this is an all-day event"`
	TimeZone       string `json:"time_zone,omitempty" jsonschema:"IANA time zone, e.g. America/Chicago"`
	Recurrence     string `json:"recurrence,omitempty" jsonschema:"none, daily, weekly, monthly, yearly or custom"`
	RecurrenceRule string `json:"recurrence_rule,omitempty" jsonschema:"RRULE body when recurrence is custom, e.g. FREQ=WEEKLY;BYDAY=MO,WE"`
	Location       string `json:"location,omitempty" jsonschema:"Where the event happens"`
	Description    string `json:"description,omitempty" jsonschema:"Free-form notes"`
	Color          string `json:"color,omitempty" jsonschema:"Palette color: lavender, sage, grape, flamingo, banana, tangerine, peacock, graphite, blueberry, basil or tomato"`
	Alert          string `json:"alert,omitempty" jsonschema:"none, popup or email"`
	AlertOffset    int    `json:"alert_offset,omitempty" jsonschema:"Minutes before start to alert"`
}

func (h *EventHandlers) CreateEvent(ctx context.Context, request *mcp.CallToolRequest, input EventInput) (*mcp.CallToolResult, EventOutput, error) {
	ev := &models.CalendarEvent{}
	if err := applyInput(ev, input); err != nil {
		return nil, EventOutput{}, err
	}

	created, err := h.svc.CreateEvent(ctx, ev)
	if err != nil {
		return nil, EventOutput{}, fmt.Errorf("failed to create event: %w", err)
	}
	return nil, eventToOutput(created), nil
}

type UpdateEventInput struct {
	ID             string `json:"id" jsonschema:"Event ID (required)"`
	Title          string `json:"title,omitempty" jsonschema:"New title"`
	Start          string `json:"start,omitempty" jsonschema:"New start as RFC3339, or YYYY-MM-DD for all-day events"`
	End            string `json:"end,omitempty" jsonschema:"New end as RFC3339, or the inclusive last day (YYYY-MM-DD) for all-day events"`
	AllDay         bool   `json:"all_day,omitempty" jsonschema:"Whether this is an all-day event"`
	TimeZone       string `json:"time_zone,omitempty" jsonschema:"IANA time zone"`
	Recurrence     string `json:"recurrence,omitempty" jsonschema:"none, daily, weekly, monthly, yearly or custom"`
	RecurrenceRule string `json:"recurrence_rule,omitempty" jsonschema:"RRULE body when recurrence is custom"`
	Location       string `json:"location,omitempty" jsonschema:"New location"`
	Description    string `json:"description,omitempty" jsonschema:"New notes"`
	Color          string `json:"color,omitempty" jsonschema:"New palette color"`
	Alert          string `json:"alert,omitempty" jsonschema:"none, popup or email"`
	AlertOffset    int    `json:"alert_offset,omitempty" jsonschema:"Minutes before start to alert"`
}

func (h *EventHandlers) UpdateEvent(ctx context.Context, request *mcp.CallToolRequest, input UpdateEventInput) (*mcp.CallToolResult, EventOutput, error) {
	if input.ID == "" {
		return nil, EventOutput{}, fmt.Errorf("id is required")
	}

	ev, err := h.svc.GetEvent(ctx, input.ID)
	if err != nil {
		return nil, EventOutput{}, fmt.Errorf("failed to get event: %w", err)
	}

	// Unset fields keep their stored values.
	merged := EventInput{
		Title:          input.Title,
		Start:          input.Start,
		End:            input.End,
		AllDay:         input.AllDay,
		TimeZone:       input.TimeZone,
		Recurrence:     input.Recurrence,
		RecurrenceRule: input.RecurrenceRule,
		Location:       input.Location,
		Description:    input.Description,
		Color:          input.Color,
		Alert:          input.Alert,
		AlertOffset:    input.AlertOffset,
	}
	if merged.Title == "" {
		merged.Title = ev.Title
	}
	if merged.Start == "" {
		merged.Start = formatWhen(ev.Start, ev.AllDay)
		if merged.End == "" {
			merged.End = formatWhen(ev.End, ev.AllDay)
		}
		merged.AllDay = merged.AllDay || ev.AllDay
	}
	if merged.TimeZone == "" {
		merged.TimeZone = ev.TimeZone
	}
	if merged.Recurrence == "" {
		merged.Recurrence = string(ev.Recurrence)
		merged.RecurrenceRule = ev.RecurrenceRule
	}
	if merged.Location == "" {
		merged.Location = ev.Location
	}
	if merged.Description == "" {
		merged.Description = ev.Description
	}
	if merged.Color == "" {
		merged.Color = string(ev.Color)
	}
	if merged.Alert == "" {
		merged.Alert = string(ev.Alert)
		merged.AlertOffset = ev.AlertOffset
	}

	if err := applyInput(ev, merged); err != nil {
		return nil, EventOutput{}, err
	}

	updated, err := h.svc.UpdateEvent(ctx, ev)
	if err != nil {
		return nil, EventOutput{}, fmt.Errorf("failed to update event: %w", err)
	}
	return nil, eventToOutput(updated), nil
}

type DeleteEventInput struct {
	ID string `json:"id" jsonschema:"Event ID (required)"`
}

type DeleteEventOutput struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

func (h *EventHandlers) DeleteEvent(ctx context.Context, request *mcp.CallToolRequest, input DeleteEventInput) (*mcp.CallToolResult, DeleteEventOutput, error) {
	if input.ID == "" {
		return nil, DeleteEventOutput{}, fmt.Errorf("id is required")
	}
	if err := h.svc.DeleteEvent(ctx, input.ID); err != nil {
		return nil, DeleteEventOutput{}, fmt.Errorf("failed to delete event: %w", err)
	}
	return nil, DeleteEventOutput{ID: input.ID, Deleted: true}, nil
}

type SearchEventsInput struct {
	Query string `json:"query" jsonschema:"Words to match against title, description and location"`
	From  string `json:"from,omitempty" jsonschema:"Window start (YYYY-MM-DD or RFC3339)"`
	To    string `json:"to,omitempty" jsonschema:"Window end (YYYY-MM-DD or RFC3339)"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of results (default 100, max 200)"`
}

func (h *EventHandlers) SearchEvents(ctx context.Context, request *mcp.CallToolRequest, input SearchEventsInput) (*mcp.CallToolResult, EventsOutput, error) {
	from, err := parseBound(input.From)
	if err != nil {
		return nil, EventsOutput{}, fmt.Errorf("invalid from: %w", err)
	}
	to, err := parseBound(input.To)
	if err != nil {
		return nil, EventsOutput{}, fmt.Errorf("invalid to: %w", err)
	}

	events, err := h.svc.SearchEvents(ctx, db.SearchQuery{Text: input.Query, From: from, To: to, Limit: input.Limit})
	if err != nil {
		return nil, EventsOutput{}, fmt.Errorf("failed to search events: %w", err)
	}

	out := EventsOutput{Events: make([]EventOutput, len(events))}
	for i, ev := range events {
		out.Events[i] = eventToOutput(ev)
	}
	return nil, out, nil
}

func applyInput(ev *models.CalendarEvent, input EventInput) error {
	if strings.TrimSpace(input.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if input.Start == "" {
		return fmt.Errorf("start is required")
	}

	loc := time.UTC
	if input.TimeZone != "" {
		l, err := time.LoadLocation(input.TimeZone)
		if err != nil {
			return fmt.Errorf("invalid time_zone: %w", err)
		}
		loc = l
	}

	allDay := input.AllDay || isDate(input.Start)
	start, err := parseWhen(input.Start, loc)
	if err != nil {
		return fmt.Errorf("invalid start: %w", err)
	}

	var end time.Time
	switch {
	case input.End == "" && allDay:
		end = start
	case input.End == "":
		end = start.Add(time.Hour)
	default:
		end, err = parseWhen(input.End, loc)
		if err != nil {
			return fmt.Errorf("invalid end: %w", err)
		}
	}

	ev.Title = strings.TrimSpace(input.Title)
	ev.Start = start
	ev.End = end
	ev.AllDay = allDay
	ev.TimeZone = input.TimeZone
	ev.Recurrence = models.Recurrence(strings.ToLower(input.Recurrence))
	ev.RecurrenceRule = input.RecurrenceRule
	ev.Location = input.Location
	ev.Description = input.Description
	ev.Color = models.Color(strings.ToLower(input.Color))
	ev.Alert = models.AlertKind(strings.ToLower(input.Alert))
	ev.AlertOffset = input.AlertOffset
	return nil
}

func isDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

func parseWhen(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(dateLayout, s, time.UTC); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04", s, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", s)
}

func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return parseWhen(s, time.UTC)
}

func formatWhen(t time.Time, allDay bool) string {
	if allDay {
		return t.Format(dateLayout)
	}
	return t.Format(time.RFC3339)
}

func eventToOutput(ev *models.CalendarEvent) EventOutput {
	return EventOutput{
		ID:             ev.ID,
		Title:          ev.Title,
		Start:          formatWhen(ev.Start, ev.AllDay),
		End:            formatWhen(ev.End, ev.AllDay),
		AllDay:         ev.AllDay,
		TimeZone:       ev.TimeZone,
		Recurrence:     string(ev.Recurrence),
		RecurrenceRule: ev.RecurrenceRule,
		Location:       ev.Location,
		Description:    ev.Description,
		Color:          string(ev.Color),
		Alert:          string(ev.Alert),
		AlertOffset:    ev.AlertOffset,
		SyncStatus:     string(ev.SyncStatus),
		RemoteEventID:  ev.RemoteEventID,
		UpdatedAt:      ev.UpdatedAt.Format(time.RFC3339),
	}
}
