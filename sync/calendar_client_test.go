package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestCalendar(t *testing.T, handler http.HandlerFunc) *GoogleCalendar {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	creds := NewCredentialStore(CredentialOptions{TokenPath: credentialPath(t), Logger: quietLogger()})
	client, err := NewGoogleCalendar(context.Background(), creds,
		option.WithEndpoint(srv.URL+"/calendar/v3/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return client
}

func writeAPIError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}

func TestNewGoogleCalendarNilStore(t *testing.T) {
	client, err := NewGoogleCalendar(context.Background(), nil)
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestListChangesMapsItems(t *testing.T) {
	client := newTestCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calendar/v3/calendars/primary/events", r.URL.Path)
		assert.Equal(t, "token-1", r.URL.Query().Get("syncToken"))
		assert.Equal(t, "250", r.URL.Query().Get("maxResults"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"nextSyncToken": "token-2",
			"items": []map[string]any{
				{
					"id":          "timed",
					"etag":        `"e1"`,
					"status":      "confirmed",
					"summary":     "Standup",
					"updated":     "2025-03-01T10:00:00.000Z",
					"colorId":     "7",
					"start":       map[string]any{"dateTime": "2025-03-10T09:00:00-05:00", "timeZone": "America/Chicago"},
					"end":         map[string]any{"dateTime": "2025-03-10T09:15:00-05:00", "timeZone": "America/Chicago"},
					"recurrence":  []string{"RRULE:FREQ=DAILY"},
					"reminders":   map[string]any{"useDefault": false, "overrides": []map[string]any{{"method": "popup", "minutes": 10}}},
					"description": "daily sync",
				},
				{
					"id":     "allday",
					"etag":   `"e2"`,
					"status": "confirmed",
					"start":  map[string]any{"date": "2025-07-04"},
					"end":    map[string]any{"date": "2025-07-05"},
				},
				{"id": "gone", "status": "cancelled"},
				{"id": "broken", "status": "confirmed"},
			},
		})
	})

	page, err := client.ListChanges(context.Background(), "primary", "token-1", "")
	require.NoError(t, err)
	assert.False(t, page.Truncated())
	assert.Equal(t, "token-2", page.NextSyncToken)
	require.Len(t, page.Items, 3)
	require.Len(t, page.Skipped, 1)
	assert.Equal(t, "broken", page.Skipped[0].ID)
	assert.Contains(t, page.Skipped[0].Reason, "missing start or end")

	timed := page.Items[0]
	assert.Equal(t, "Standup", timed.Summary)
	assert.Equal(t, `"e1"`, timed.Etag)
	assert.False(t, timed.AllDay)
	assert.True(t, timed.Start.Equal(time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)))
	assert.Equal(t, "America/Chicago", timed.TimeZone)
	assert.Equal(t, []Reminder{{Method: "popup", Minutes: 10}}, timed.Reminders)
	require.NotNil(t, timed.Updated)

	allDay := page.Items[1]
	assert.True(t, allDay.AllDay)
	assert.Equal(t, time.Date(2025, 7, 4, 0, 0, 0, 0, time.UTC), allDay.Start)
	assert.Equal(t, time.Date(2025, 7, 5, 0, 0, 0, 0, time.UTC), allDay.End)

	assert.True(t, page.Items[2].Deleted())
}

func TestFullListingHidesDeleted(t *testing.T) {
	client := newTestCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("syncToken"))
		assert.Equal(t, "false", r.URL.Query().Get("showDeleted"))
		assert.Equal(t, "page-2", r.URL.Query().Get("pageToken"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items": [], "nextPageToken": "page-3"}`))
	})

	page, err := client.ListChanges(context.Background(), "primary", "", "page-2")
	require.NoError(t, err)
	assert.True(t, page.Truncated())
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		call   func(*GoogleCalendar) error
		want   error
	}{
		{
			name:   "expired sync token",
			status: http.StatusGone,
			call: func(c *GoogleCalendar) error {
				_, err := c.ListChanges(context.Background(), "primary", "old", "")
				return err
			},
			want: ErrInvalidSyncToken,
		},
		{
			name:   "stale etag on patch",
			status: http.StatusPreconditionFailed,
			call: func(c *GoogleCalendar) error {
				_, err := c.Patch(context.Background(), "primary", "abc", `"e1"`, &RemoteEvent{Summary: "x"})
				return err
			},
			want: ErrRemoteConflict,
		},
		{
			name:   "stale etag on delete",
			status: http.StatusPreconditionFailed,
			call: func(c *GoogleCalendar) error {
				return c.Delete(context.Background(), "primary", "abc", `"e1"`)
			},
			want: ErrRemoteConflict,
		},
		{
			name:   "missing item",
			status: http.StatusNotFound,
			call: func(c *GoogleCalendar) error {
				return c.Delete(context.Background(), "primary", "abc", "")
			},
			want: ErrRemoteNotFound,
		},
		{
			name:   "already deleted item",
			status: http.StatusGone,
			call: func(c *GoogleCalendar) error {
				return c.Delete(context.Background(), "primary", "abc", "")
			},
			want: ErrRemoteNotFound,
		},
		{
			name:   "rejected credential",
			status: http.StatusUnauthorized,
			call: func(c *GoogleCalendar) error {
				_, err := c.Insert(context.Background(), "primary", &RemoteEvent{Summary: "x"})
				return err
			},
			want: ErrUnauthenticated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestCalendar(t, func(w http.ResponseWriter, r *http.Request) {
				writeAPIError(w, tt.status, http.StatusText(tt.status))
			})
			err := tt.call(client)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPatchSendsIfMatch(t *testing.T) {
	var gotIfMatch string
	var body map[string]any
	client := newTestCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		gotIfMatch = r.Header.Get("If-Match")
		assert.Equal(t, http.MethodPatch, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "abc", "etag": "\"e2\"", "status": "confirmed",
			"start": {"date": "2025-07-04"}, "end": {"date": "2025-07-05"}}`))
	})

	day := time.Date(2025, 7, 4, 0, 0, 0, 0, time.UTC)
	updated, err := client.Patch(context.Background(), "primary", "abc", `"e1"`, &RemoteEvent{
		Summary: "Fireworks",
		AllDay:  true,
		Start:   day,
		End:     day.AddDate(0, 0, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, `"e1"`, gotIfMatch)
	assert.Equal(t, `"e2"`, updated.Etag)

	start := body["start"].(map[string]any)
	assert.Equal(t, "2025-07-04", start["date"])
	assert.Nil(t, start["dateTime"])
	assert.Equal(t, "", body["description"])
	reminders := body["reminders"].(map[string]any)
	assert.Equal(t, false, reminders["useDefault"])
}

func TestGetCancelledItemIsNotFound(t *testing.T) {
	client := newTestCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "abc", "status": "cancelled"}`))
	})

	_, err := client.Get(context.Background(), "primary", "abc")
	assert.ErrorIs(t, err, ErrRemoteNotFound)
}
