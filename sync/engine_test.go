// ABOUTME: Tests for the sync engine against an in-memory remote calendar
// ABOUTME: Covers convergence, conflicts, delete safety, etag-guarded pushes and token fallback
package sync

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/calsync/db"
	"github.com/harperreed/calsync/models"
)

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func newTestEngine(t *testing.T) (*Engine, *db.EventStore, *fakeRemote) {
	t.Helper()
	store := db.NewEventStore(setupTestDB(t))
	remote := newFakeRemote()
	engine := NewEngine(store, remote, &fakeAuth{}, EngineOptions{Logger: quietLogger()})
	return engine, store, remote
}

// createSynced stores a local event and runs a pass so it is linked remotely.
func createSynced(t *testing.T, engine *Engine, store *db.EventStore, title string, start time.Time) *models.CalendarEvent {
	t.Helper()
	ctx := context.Background()

	ev := newLocalEvent(title, start)
	require.NoError(t, store.Upsert(ctx, ev))
	_, err := engine.Sync(ctx)
	require.NoError(t, err)

	got, err := store.Get(ctx, ev.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSynced, got.SyncStatus)
	return got
}

func editLocally(t *testing.T, store *db.EventStore, ev *models.CalendarEvent, title string) {
	t.Helper()
	ev.Title = title
	ev.SyncStatus = models.StatusLocal
	require.NoError(t, store.Upsert(context.Background(), ev))
}

func TestSyncPushesLocalOnlyEvent(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	ctx := context.Background()

	e1 := newLocalEvent("E1", base)
	require.NoError(t, store.Upsert(ctx, e1))
	require.Empty(t, e1.RemoteEventID)

	result, err := engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)
	assert.Zero(t, result.Errors)
	assert.True(t, result.FullResync)

	got, err := store.Get(ctx, e1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, got.SyncStatus)
	require.NotEmpty(t, got.RemoteEventID)

	item := remote.get(got.RemoteEventID)
	require.NotNil(t, item)
	assert.Equal(t, "E1", item.Summary)
	assert.Equal(t, item.Etag, got.RemoteEtag)
}

func TestSyncPullsNewRemoteEvent(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Sync(ctx)
	require.NoError(t, err)

	r1 := remote.put(&RemoteEvent{Summary: "R1", Start: base, End: base.Add(time.Hour)})

	result, err := engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pulled)
	assert.False(t, result.FullResync)
	assert.NotEmpty(t, result.SyncToken)

	local, err := store.FindByRemoteID(ctx, DefaultCalendarID, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, "R1", local.Title)
	assert.Equal(t, models.StatusSynced, local.SyncStatus)
	assert.Equal(t, r1.Etag, local.RemoteEtag)
	assert.True(t, local.Start.Equal(base))
}

func TestSyncOwnPushIsNotPulledBack(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	createSynced(t, engine, store, "Standup", base)

	result, err := engine.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Pulled)
	assert.Zero(t, result.Pushed)
	assert.Zero(t, result.Conflicts)
}

func TestSyncConverges(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	ctx := context.Background()

	var events []*models.CalendarEvent
	for i, title := range []string{"One", "Two", "Three", "Four", "Five"} {
		events = append(events, createSynced(t, engine, store, title, base.Add(time.Duration(i)*time.Hour)))
	}

	remote.edit(events[0].RemoteEventID, "One (remote)")
	remote.edit(events[1].RemoteEventID, "Two (remote)")
	remote.remove(events[2].RemoteEventID)
	remote.put(&RemoteEvent{Summary: "Added remotely", Start: base.Add(48 * time.Hour), End: base.Add(49 * time.Hour)})

	editLocally(t, store, events[3], "Four (local)")
	_, err := store.Delete(ctx, events[4].ID)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, newLocalEvent("Added locally", base.Add(72*time.Hour))))

	var last *models.SyncResult
	for i := 0; i < 5; i++ {
		last, err = engine.Sync(ctx)
		require.NoError(t, err)
		if last.Pulled == 0 && last.Pushed == 0 && last.Deleted == 0 {
			break
		}
	}
	require.NotNil(t, last)
	assert.Zero(t, last.Errors)
	assert.Zero(t, last.Pulled)
	assert.Zero(t, last.Pushed)

	dirty, err := store.ListDirty(ctx)
	require.NoError(t, err)
	assert.Empty(t, dirty)

	locals, err := store.List(ctx)
	require.NoError(t, err)
	localTitles := make(map[string]string)
	for _, ev := range locals {
		assert.Equal(t, models.StatusSynced, ev.SyncStatus, ev.Title)
		localTitles[ev.RemoteEventID] = ev.Title
	}
	remoteTitles := make(map[string]string)
	for _, item := range remote.live() {
		remoteTitles[item.ID] = item.Summary
	}
	assert.Equal(t, remoteTitles, localTitles)
	assert.Len(t, localTitles, 5)
}

func TestSyncDetectsConcurrentEdit(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	ctx := context.Background()

	ev := createSynced(t, engine, store, "Planning", base)
	editLocally(t, store, ev, "Planning (local)")
	edited := remote.edit(ev.RemoteEventID, "Planning (remote)")

	result, err := engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)
	assert.Zero(t, result.Pushed)

	got, err := store.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConflict, got.SyncStatus)
	assert.Equal(t, "Planning (local)", got.Title)
	assert.Equal(t, edited.Etag, got.RemoteEtag)
	assert.Equal(t, "Planning (remote)", remote.get(ev.RemoteEventID).Summary)
}

func TestPushWithStaleEtagMarksConflict(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	ctx := context.Background()

	ev := createSynced(t, engine, store, "Review", base)
	remote.edit(ev.RemoteEventID, "Review (remote)")
	editLocally(t, store, ev, "Review (local)")

	result, err := engine.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)
	assert.Zero(t, result.Pushed)
	assert.Zero(t, result.Errors)

	got, err := store.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConflict, got.SyncStatus)
	assert.Equal(t, "Review (remote)", remote.get(ev.RemoteEventID).Summary)
}

func TestPushPatchOfRemovedItemMarksConflict(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	ctx := context.Background()

	ev := createSynced(t, engine, store, "Lunch", base)
	remote.remove(ev.RemoteEventID)
	editLocally(t, store, ev, "Lunch moved")

	result, err := engine.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)

	got, err := store.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConflict, got.SyncStatus)
	assert.Equal(t, "Lunch moved", got.Title)
}

func TestDeleteLocalOnlyEventLeavesNoTombstone(t *testing.T) {
	_, store, _ := newTestEngine(t)
	ctx := context.Background()

	ev := newLocalEvent("Draft", base)
	require.NoError(t, store.Upsert(ctx, ev))

	tombstoned, err := store.Delete(ctx, ev.ID)
	require.NoError(t, err)
	assert.False(t, tombstoned)

	_, err = store.Get(ctx, ev.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestTombstoneSurvivesRestartUntilRemoteDelete(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "calsync.db")
	remote := newFakeRemote()

	first, err := db.OpenDatabase(path)
	require.NoError(t, err)
	store := db.NewEventStore(first)
	engine := NewEngine(store, remote, &fakeAuth{}, EngineOptions{Logger: quietLogger()})

	ev := createSynced(t, engine, store, "Dentist", base)
	tombstoned, err := store.Delete(ctx, ev.ID)
	require.NoError(t, err)
	require.True(t, tombstoned)
	require.NoError(t, first.Close())

	second, err := db.OpenDatabase(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	store = db.NewEventStore(second)

	got, err := store.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, got.SyncStatus)

	engine = NewEngine(store, remote, &fakeAuth{}, EngineOptions{Logger: quietLogger()})
	result, err := engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)
	assert.Zero(t, result.Conflicts)

	_, err = store.Get(ctx, ev.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.True(t, remote.get(ev.RemoteEventID).Deleted())
}

func TestTombstoneOfRemovedItemIsFinalized(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	ctx := context.Background()

	ev := createSynced(t, engine, store, "Cancelled", base)
	remote.remove(ev.RemoteEventID)
	_, err := store.Delete(ctx, ev.ID)
	require.NoError(t, err)

	result, err := engine.Push(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Errors)
	assert.Zero(t, result.Conflicts)

	_, err = store.Get(ctx, ev.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestTombstoneAgainstRemoteEditBecomesConflict(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	ctx := context.Background()

	ev := createSynced(t, engine, store, "Offsite", base)
	remote.edit(ev.RemoteEventID, "Offsite (moved)")
	_, err := store.Delete(ctx, ev.ID)
	require.NoError(t, err)

	result, err := engine.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)

	got, err := store.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConflict, got.SyncStatus)
	assert.False(t, remote.get(ev.RemoteEventID).Deleted())
}

func TestPullRemovesEventsDeletedRemotely(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	ctx := context.Background()

	clean := createSynced(t, engine, store, "Clean", base)
	dirty := createSynced(t, engine, store, "Dirty", base.Add(time.Hour))
	editLocally(t, store, dirty, "Dirty (edited)")

	remote.remove(clean.RemoteEventID)
	remote.remove(dirty.RemoteEventID)

	result, err := engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 1, result.Conflicts)

	_, err = store.Get(ctx, clean.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)

	got, err := store.Get(ctx, dirty.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConflict, got.SyncStatus)
	assert.Equal(t, "Dirty (edited)", got.Title)
}

func TestInvalidSyncTokenFallsBackToOneFullListing(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	ctx := context.Background()

	createSynced(t, engine, store, "Existing", base)
	state, err := store.SyncState(ctx, DefaultCalendarID)
	require.NoError(t, err)
	oldToken := state.SyncToken
	require.NotEmpty(t, oldToken)

	remote.invalidTokens[oldToken] = true
	added := remote.put(&RemoteEvent{Summary: "While away", Start: base, End: base.Add(time.Hour)})
	before := remote.fullListings

	result, err := engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, remote.fullListings-before)
	assert.True(t, result.FullResync)
	assert.Equal(t, 1, result.Pulled)
	assert.Zero(t, result.Conflicts)

	state, err = store.SyncState(ctx, DefaultCalendarID)
	require.NoError(t, err)
	assert.NotEmpty(t, state.SyncToken)
	assert.NotEqual(t, oldToken, state.SyncToken)
	assert.Equal(t, result.SyncToken, state.SyncToken)

	_, err = store.FindByRemoteID(ctx, DefaultCalendarID, added.ID)
	assert.NoError(t, err)
}

func TestUndecodableRemoteItemDoesNotBlockToken(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	ctx := context.Background()

	good := remote.put(&RemoteEvent{Summary: "Readable", Start: base, End: base.Add(time.Hour)})
	bad := remote.put(&RemoteEvent{Summary: "Unreadable", Start: base, End: base.Add(time.Hour)})
	remote.undecodable[bad.ID] = true

	first, err := engine.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, first.FullResync)
	assert.Equal(t, 1, first.Pulled)
	assert.Equal(t, 1, first.Errors)
	assert.Contains(t, first.ErrorMessage(), bad.ID)
	require.NotEmpty(t, first.SyncToken)

	state, err := store.SyncState(ctx, DefaultCalendarID)
	require.NoError(t, err)
	assert.Equal(t, first.SyncToken, state.SyncToken)

	_, err = store.FindByRemoteID(ctx, DefaultCalendarID, good.ID)
	assert.NoError(t, err)

	for i := 0; i < 2; i++ {
		next, err := engine.Sync(ctx)
		require.NoError(t, err)
		assert.False(t, next.FullResync)
		assert.Zero(t, next.Errors)
	}
	assert.Equal(t, 1, remote.fullListings)
}

func TestFullListingKeepsLocalCopyOfUndecodableItem(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	ctx := context.Background()

	ev := createSynced(t, engine, store, "Linked", base)
	state, err := store.SyncState(ctx, DefaultCalendarID)
	require.NoError(t, err)

	remote.edit(ev.RemoteEventID, "Linked (remote)")
	remote.undecodable[ev.RemoteEventID] = true
	remote.invalidTokens[state.SyncToken] = true

	result, err := engine.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, result.FullResync)
	assert.Equal(t, 1, result.Errors)
	assert.Zero(t, result.Deleted)

	got, err := store.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "Linked", got.Title)
	assert.Equal(t, models.StatusSynced, got.SyncStatus)
}

func TestFullListingIsAuthoritative(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	ctx := context.Background()

	kept := createSynced(t, engine, store, "Kept", base)
	gone := createSynced(t, engine, store, "Gone", base.Add(time.Hour))
	edited := createSynced(t, engine, store, "Edited", base.Add(2*time.Hour))
	editLocally(t, store, edited, "Edited (local)")

	state, err := store.SyncState(ctx, DefaultCalendarID)
	require.NoError(t, err)
	remote.invalidTokens[state.SyncToken] = true
	remote.remove(gone.RemoteEventID)
	remote.remove(edited.RemoteEventID)

	result, err := engine.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, result.FullResync)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 1, result.Conflicts)

	_, err = store.Get(ctx, kept.ID)
	assert.NoError(t, err)
	_, err = store.Get(ctx, gone.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
	got, err := store.Get(ctx, edited.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConflict, got.SyncStatus)
}

func TestEchoedEtagIsNotAConflict(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	ctx := context.Background()

	ev := createSynced(t, engine, store, "Sprint review", base)
	editLocally(t, store, ev, "Sprint review (moved)")

	// Force a full listing so the unchanged remote item is returned again.
	state, err := store.SyncState(ctx, DefaultCalendarID)
	require.NoError(t, err)
	remote.invalidTokens[state.SyncToken] = true

	result, err := engine.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Conflicts)
	assert.Equal(t, 1, result.Pushed)

	got, err := store.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, got.SyncStatus)
	assert.Equal(t, "Sprint review (moved)", remote.get(ev.RemoteEventID).Summary)
}

func TestPullFailureKeepsPreviousToken(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Sync(ctx)
	require.NoError(t, err)
	state, err := store.SyncState(ctx, DefaultCalendarID)
	require.NoError(t, err)
	token := state.SyncToken

	remote.pageSize = 1
	remote.put(&RemoteEvent{Summary: "First", Start: base, End: base.Add(time.Hour)})
	remote.put(&RemoteEvent{Summary: "Second", Start: base, End: base.Add(time.Hour)})
	remote.failList = func(syncToken, pageToken string) error {
		if pageToken != "" {
			return errors.New("connection reset by peer")
		}
		return nil
	}

	result, err := engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pulled)
	assert.Equal(t, 1, result.Errors)
	assert.Contains(t, result.ErrorMessage(), "connection reset")

	state, err = store.SyncState(ctx, DefaultCalendarID)
	require.NoError(t, err)
	assert.Equal(t, token, state.SyncToken)
	assert.Equal(t, models.SyncError, state.Status)

	remote.failList = nil
	result, err = engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pulled)
	assert.Zero(t, result.Errors)

	state, err = store.SyncState(ctx, DefaultCalendarID)
	require.NoError(t, err)
	assert.NotEqual(t, token, state.SyncToken)
	assert.Equal(t, models.SyncIdle, state.Status)
}

func TestItemFailureDoesNotAbortPass(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	ctx := context.Background()

	broken := newLocalEvent("Broken", base)
	fine := newLocalEvent("Fine", base.Add(time.Hour))
	require.NoError(t, store.Upsert(ctx, broken))
	require.NoError(t, store.Upsert(ctx, fine))

	remote.failInsert = func(ev *RemoteEvent) error {
		if ev.Summary == "Broken" {
			return errors.New("backend error")
		}
		return nil
	}

	result, err := engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)
	assert.Equal(t, 1, result.Errors)
	assert.Contains(t, result.ErrorMessage(), "Broken")

	got, err := store.Get(ctx, broken.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLocal, got.SyncStatus)

	remote.failInsert = nil
	result, err = engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)
	assert.Zero(t, result.Errors)
}

func TestAuthFailureAbortsPass(t *testing.T) {
	store := db.NewEventStore(setupTestDB(t))
	remote := newFakeRemote()
	auth := &fakeAuth{err: ErrReauthorizationRequired}
	engine := NewEngine(store, remote, auth, EngineOptions{Logger: quietLogger()})
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, newLocalEvent("Pending", base)))

	_, err := engine.Sync(ctx)
	assert.ErrorIs(t, err, ErrReauthorizationRequired)
	assert.Empty(t, remote.listCalls)
	assert.Zero(t, remote.inserts)

	state, err := store.SyncState(ctx, DefaultCalendarID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncError, state.Status)
	assert.NotEmpty(t, state.ErrorMessage)
}

func TestEditDuringInsertStaysDirty(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	ctx := context.Background()

	ev := newLocalEvent("Original", base)
	require.NoError(t, store.Upsert(ctx, ev))

	remote.onInsert = func(*RemoteEvent) {
		remote.onInsert = nil
		current, err := store.Get(ctx, ev.ID)
		require.NoError(t, err)
		current.Title = "Renamed"
		require.NoError(t, store.Upsert(ctx, current))
	}

	_, err := engine.Push(ctx)
	require.NoError(t, err)

	got, err := store.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLocal, got.SyncStatus)
	require.NotEmpty(t, got.RemoteEventID)

	_, err = engine.Push(ctx)
	require.NoError(t, err)

	got, err = store.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, got.SyncStatus)
	assert.Equal(t, "Renamed", remote.get(got.RemoteEventID).Summary)
	assert.Equal(t, 1, remote.inserts)
}

func TestDeleteDuringInsertRemovesRemoteCopy(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	ctx := context.Background()

	ev := newLocalEvent("Short-lived", base)
	require.NoError(t, store.Upsert(ctx, ev))

	remote.onInsert = func(*RemoteEvent) {
		_, err := store.Delete(ctx, ev.ID)
		require.NoError(t, err)
	}

	result, err := engine.Push(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Errors)
	assert.Empty(t, remote.live())
}

func TestConcurrentPassIsRejected(t *testing.T) {
	engine, _, remote := newTestEngine(t)
	ctx := context.Background()

	remote.listEntered = make(chan struct{}, 1)
	remote.listGate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := engine.Sync(ctx)
		done <- err
	}()
	<-remote.listEntered

	_, err := engine.Sync(ctx)
	assert.ErrorIs(t, err, ErrSyncInProgress)
	_, err = engine.Resolve(ctx, "anything", KeepLocal)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(remote.listGate)
	require.NoError(t, <-done)
}

func conflicted(t *testing.T) (*Engine, *db.EventStore, *fakeRemote, *models.CalendarEvent) {
	t.Helper()
	engine, store, remote := newTestEngine(t)

	ev := createSynced(t, engine, store, "Retro", base)
	editLocally(t, store, ev, "Retro (local)")
	remote.edit(ev.RemoteEventID, "Retro (remote)")

	_, err := engine.Sync(context.Background())
	require.NoError(t, err)
	got, err := store.Get(context.Background(), ev.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusConflict, got.SyncStatus)
	return engine, store, remote, got
}

func TestResolveKeepLocalPushesLocalVersion(t *testing.T) {
	engine, store, remote, ev := conflicted(t)
	ctx := context.Background()

	resolved, err := engine.Resolve(ctx, ev.ID, KeepLocal)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLocal, resolved.SyncStatus)

	result, err := engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)
	assert.Zero(t, result.Conflicts)

	got, err := store.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, got.SyncStatus)
	assert.Equal(t, "Retro (local)", remote.get(ev.RemoteEventID).Summary)
}

func TestResolveKeepRemoteTakesRemoteVersion(t *testing.T) {
	engine, _, remote, ev := conflicted(t)
	ctx := context.Background()

	resolved, err := engine.Resolve(ctx, ev.ID, KeepRemote)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, resolved.SyncStatus)
	assert.Equal(t, "Retro (remote)", resolved.Title)
	assert.Equal(t, remote.get(ev.RemoteEventID).Etag, resolved.RemoteEtag)
}

func TestResolveWhenRemoteIsGone(t *testing.T) {
	t.Run("keep local re-creates the remote item", func(t *testing.T) {
		engine, store, remote, ev := conflicted(t)
		ctx := context.Background()
		remote.remove(ev.RemoteEventID)

		resolved, err := engine.Resolve(ctx, ev.ID, KeepLocal)
		require.NoError(t, err)
		assert.Equal(t, models.StatusLocal, resolved.SyncStatus)
		assert.Empty(t, resolved.RemoteEventID)

		_, err = engine.Push(ctx)
		require.NoError(t, err)
		got, err := store.Get(ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSynced, got.SyncStatus)
		assert.NotEqual(t, ev.RemoteEventID, got.RemoteEventID)
	})

	t.Run("keep remote removes the local event", func(t *testing.T) {
		engine, store, remote, ev := conflicted(t)
		ctx := context.Background()
		remote.remove(ev.RemoteEventID)

		resolved, err := engine.Resolve(ctx, ev.ID, KeepRemote)
		require.NoError(t, err)
		assert.Nil(t, resolved)

		_, err = store.Get(ctx, ev.ID)
		assert.ErrorIs(t, err, db.ErrNotFound)
	})
}

func TestResolveRejectsEventsNotInConflict(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	ev := createSynced(t, engine, store, "Fine", base)

	_, err := engine.Resolve(ctx, ev.ID, KeepLocal)
	assert.ErrorIs(t, err, ErrNotConflicted)

	_, err = engine.Resolve(ctx, ev.ID, Resolution("both"))
	assert.Error(t, err)
}
