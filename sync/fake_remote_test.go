// ABOUTME: In-memory remote calendar used by engine and scheduler tests
// ABOUTME: Emulates etags, sync tokens, paging, cancelled items and injected failures
package sync

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	gosync "sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harperreed/calsync/db"
	"github.com/harperreed/calsync/models"
)

type fakeRemote struct {
	mu       gosync.Mutex
	items    map[string]*RemoteEvent
	changed  map[string]int
	seq      int
	nextID   int
	pageSize int

	invalidTokens map[string]bool
	undecodable   map[string]bool
	listCalls     []string
	fullListings  int
	inserts       int
	patches       int
	deletes       int

	failList    func(syncToken, pageToken string) error
	failInsert  func(ev *RemoteEvent) error
	onInsert    func(ev *RemoteEvent)
	listGate    chan struct{}
	listEntered chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		items:         make(map[string]*RemoteEvent),
		changed:       make(map[string]int),
		invalidTokens: make(map[string]bool),
		undecodable:   make(map[string]bool),
		pageSize:      100,
	}
}

func copyRemote(ev *RemoteEvent) *RemoteEvent {
	c := *ev
	c.Recurrence = append([]string(nil), ev.Recurrence...)
	c.Reminders = append([]Reminder(nil), ev.Reminders...)
	if ev.Updated != nil {
		t := *ev.Updated
		c.Updated = &t
	}
	return &c
}

// touch records a change to id. Caller holds mu.
func (f *fakeRemote) touch(ev *RemoteEvent) {
	f.seq++
	ev.Etag = fmt.Sprintf(`"etag-%d"`, f.seq)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(f.seq) * time.Minute)
	ev.Updated = &now
	f.changed[ev.ID] = f.seq
}

// put creates or edits a remote item out of band, as another client would.
func (f *fakeRemote) put(ev *RemoteEvent) *RemoteEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := copyRemote(ev)
	if c.ID == "" {
		f.nextID++
		c.ID = fmt.Sprintf("remote-%d", f.nextID)
	}
	c.Status = "confirmed"
	f.items[c.ID] = c
	f.touch(c)
	return copyRemote(c)
}

// edit changes the summary of an existing item out of band.
func (f *fakeRemote) edit(id, summary string) *RemoteEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := f.items[id]
	c.Summary = summary
	f.touch(c)
	return copyRemote(c)
}

// remove deletes an item out of band.
func (f *fakeRemote) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := f.items[id]
	c.Status = statusCancelled
	f.touch(c)
}

func (f *fakeRemote) get(id string) *RemoteEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.items[id]; ok {
		return copyRemote(c)
	}
	return nil
}

func (f *fakeRemote) live() []*RemoteEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*RemoteEvent
	for _, c := range f.items {
		if !c.Deleted() {
			out = append(out, copyRemote(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeRemote) ListChanges(ctx context.Context, calendarID, syncToken, pageToken string) (*ChangePage, error) {
	if f.listEntered != nil {
		f.listEntered <- struct{}{}
	}
	if f.listGate != nil {
		<-f.listGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls = append(f.listCalls, syncToken)
	if f.failList != nil {
		if err := f.failList(syncToken, pageToken); err != nil {
			return nil, err
		}
	}

	since := 0
	if syncToken != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(syncToken, "tok-"))
		if err != nil || f.invalidTokens[syncToken] {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSyncToken, syncToken)
		}
		since = n
	} else if pageToken == "" {
		f.fullListings++
	}

	var ids []string
	for id, c := range f.items {
		if syncToken == "" && c.Deleted() {
			continue
		}
		if f.changed[id] > since {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	offset := 0
	if pageToken != "" {
		offset, _ = strconv.Atoi(strings.TrimPrefix(pageToken, "page-"))
	}
	end := offset + f.pageSize
	if end > len(ids) {
		end = len(ids)
	}

	page := &ChangePage{}
	for _, id := range ids[offset:end] {
		if f.undecodable[id] {
			page.Skipped = append(page.Skipped, SkippedItem{ID: id, Reason: "google event " + id + " missing start or end"})
			continue
		}
		page.Items = append(page.Items, copyRemote(f.items[id]))
	}
	if end < len(ids) {
		page.NextPageToken = fmt.Sprintf("page-%d", end)
	} else {
		page.NextSyncToken = fmt.Sprintf("tok-%d", f.seq)
	}
	return page, nil
}

func (f *fakeRemote) Get(ctx context.Context, calendarID, remoteID string) (*RemoteEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.items[remoteID]
	if !ok || c.Deleted() {
		return nil, ErrRemoteNotFound
	}
	return copyRemote(c), nil
}

func (f *fakeRemote) Insert(ctx context.Context, calendarID string, ev *RemoteEvent) (*RemoteEvent, error) {
	if f.failInsert != nil {
		if err := f.failInsert(ev); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	f.inserts++
	f.nextID++
	c := copyRemote(ev)
	c.ID = fmt.Sprintf("remote-%d", f.nextID)
	c.Status = "confirmed"
	f.items[c.ID] = c
	f.touch(c)
	out := copyRemote(c)
	f.mu.Unlock()

	if f.onInsert != nil {
		f.onInsert(out)
	}
	return out, nil
}

func (f *fakeRemote) Patch(ctx context.Context, calendarID, remoteID, expectedEtag string, ev *RemoteEvent) (*RemoteEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.patches++
	c, ok := f.items[remoteID]
	if !ok || c.Deleted() {
		return nil, ErrRemoteNotFound
	}
	if expectedEtag != "" && expectedEtag != c.Etag {
		return nil, ErrRemoteConflict
	}
	updated := copyRemote(ev)
	updated.ID = remoteID
	updated.Status = "confirmed"
	f.items[remoteID] = updated
	f.touch(updated)
	return copyRemote(updated), nil
}

func (f *fakeRemote) Delete(ctx context.Context, calendarID, remoteID, expectedEtag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deletes++
	c, ok := f.items[remoteID]
	if !ok || c.Deleted() {
		return ErrRemoteNotFound
	}
	if expectedEtag != "" && expectedEtag != c.Etag {
		return ErrRemoteConflict
	}
	c.Status = statusCancelled
	f.touch(c)
	return nil
}

type fakeAuth struct {
	mu    gosync.Mutex
	err   error
	calls int
}

func (a *fakeAuth) EnsureFreshAccessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	return "access", nil
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	database.SetMaxOpenConns(1)
	if err := db.InitSchema(database); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func newLocalEvent(title string, start time.Time) *models.CalendarEvent {
	return &models.CalendarEvent{Title: title, Start: start, End: start.Add(time.Hour)}
}
