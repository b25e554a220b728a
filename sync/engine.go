// ABOUTME: Bidirectional sync engine between the local event store and a remote calendar
// ABOUTME: Runs pull-then-push passes with sync tokens, etag-guarded writes and conflict marking
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"

	"github.com/harperreed/calsync/db"
	"github.com/harperreed/calsync/models"
)

// DefaultCalendarID is the account's primary calendar.
const DefaultCalendarID = "primary"

// ErrNotConflicted is returned when resolving an event that is not in conflict.
var ErrNotConflicted = errors.New("event is not in conflict")

// LocalStore is the slice of the local event store the engine needs.
type LocalStore interface {
	Get(ctx context.Context, id string) (*models.CalendarEvent, error)
	ListDirty(ctx context.Context) ([]*models.CalendarEvent, error)
	FindByRemoteID(ctx context.Context, calendarID, remoteID string) (*models.CalendarEvent, error)
	ListRemoteIDs(ctx context.Context, calendarID string) (map[string]string, error)
	Upsert(ctx context.Context, ev *models.CalendarEvent) error
	ApplyRemote(ctx context.Context, ev *models.CalendarEvent) error
	Purge(ctx context.Context, id string) error
	MarkSynced(ctx context.Context, id string, meta models.SyncMeta, revision int64) (bool, error)
	MarkConflict(ctx context.Context, id, etag string, remoteUpdated *time.Time) error
	SetStatus(ctx context.Context, id string, to models.SyncStatus) error

	SyncState(ctx context.Context, calendarID string) (*models.SyncState, error)
	SetSyncStatus(ctx context.Context, calendarID, status, errorMsg string) error
	SaveSyncToken(ctx context.Context, calendarID, token string) error
	ClearSyncToken(ctx context.Context, calendarID string) error
}

// Authenticator yields a usable access token or a fatal auth error.
type Authenticator interface {
	EnsureFreshAccessToken(ctx context.Context) (string, error)
}

// Resolution picks the winning side of a conflict.
type Resolution string

const (
	KeepLocal  Resolution = "local"
	KeepRemote Resolution = "remote"
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	CalendarID string
	Logger     *log.Logger
}

// Engine runs sync passes. At most one pass or resolution runs at a time.
type Engine struct {
	store      LocalStore
	remote     RemoteCalendar
	auth       Authenticator
	calendarID string
	logger     *log.Logger

	mu sync.Mutex
}

// NewEngine creates a sync engine. auth may be nil when remote handles
// credentials itself.
func NewEngine(store LocalStore, remote RemoteCalendar, auth Authenticator, opts EngineOptions) *Engine {
	e := &Engine{
		store:      store,
		remote:     remote,
		auth:       auth,
		calendarID: opts.CalendarID,
		logger:     opts.Logger,
	}
	if e.calendarID == "" {
		e.calendarID = DefaultCalendarID
	}
	if e.logger == nil {
		e.logger = log.Default()
	}
	return e
}

// CalendarID returns the remote calendar this engine syncs.
func (e *Engine) CalendarID() string {
	return e.calendarID
}

// Sync runs a full pass: pull remote changes, then push local ones.
func (e *Engine) Sync(ctx context.Context) (*models.SyncResult, error) {
	return e.run(ctx, true)
}

// Push runs a push-only pass.
func (e *Engine) Push(ctx context.Context) (*models.SyncResult, error) {
	return e.run(ctx, false)
}

func (e *Engine) run(ctx context.Context, pull bool) (*models.SyncResult, error) {
	if !e.mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer e.mu.Unlock()

	started := time.Now()
	logger := e.logger.With("pass", ulid.Make().String(), "calendar", e.calendarID)
	result := &models.SyncResult{CalendarID: e.calendarID}

	if e.auth != nil {
		if _, err := e.auth.EnsureFreshAccessToken(ctx); err != nil {
			logger.Warn("sync aborted, no usable credential", "err", err)
			e.finish(ctx, logger, result, started, err)
			return result, err
		}
	}

	if err := e.store.SetSyncStatus(ctx, e.calendarID, models.SyncRunning, ""); err != nil {
		logger.Warn("could not record sync status", "err", err)
	}

	if pull {
		if err := e.pull(ctx, logger, result); err != nil {
			e.finish(ctx, logger, result, started, err)
			return result, err
		}
	}

	if err := e.push(ctx, logger, result); err != nil {
		e.finish(ctx, logger, result, started, err)
		return result, err
	}

	e.finish(ctx, logger, result, started, nil)
	return result, nil
}

func (e *Engine) finish(ctx context.Context, logger *log.Logger, result *models.SyncResult, started time.Time, err error) {
	result.Duration = time.Since(started)

	// The pass context may already be spent; status must still be recorded.
	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	status, msg := models.SyncIdle, ""
	switch {
	case err != nil:
		status, msg = models.SyncError, err.Error()
	case result.Errors > 0:
		status, msg = models.SyncError, result.ErrorMessage()
	}
	if serr := e.store.SetSyncStatus(statusCtx, e.calendarID, status, msg); serr != nil {
		logger.Warn("could not record sync status", "err", serr)
	}

	if err != nil {
		logger.Error("sync failed", "err", err, "duration", result.Duration)
		return
	}
	logger.Info("sync complete",
		"pulled", result.Pulled,
		"pushed", result.Pushed,
		"deleted", result.Deleted,
		"conflicts", result.Conflicts,
		"errors", result.Errors,
		"full", result.FullResync,
		"duration", result.Duration,
	)
}

// pull applies remote changes. It only returns fatal errors; everything else
// is recorded on result and leaves the stored token where it was.
func (e *Engine) pull(ctx context.Context, logger *log.Logger, result *models.SyncResult) error {
	state, err := e.store.SyncState(ctx, e.calendarID)
	if err != nil {
		return fmt.Errorf("failed to load sync state: %w", err)
	}

	token := ""
	if state != nil {
		token = state.SyncToken
	}
	full := token == ""
	if full {
		logger.Info("no sync token, running full listing")
	}

	listed := make(map[string]bool)
	failed := false
	pageToken := ""

	for {
		page, err := e.remote.ListChanges(ctx, e.calendarID, token, pageToken)
		if err != nil {
			if errors.Is(err, ErrInvalidSyncToken) && !full {
				logger.Info("sync token rejected, falling back to full listing")
				if cerr := e.store.ClearSyncToken(ctx, e.calendarID); cerr != nil {
					logger.Warn("could not clear sync token", "err", cerr)
				}
				token, pageToken, full = "", "", true
				listed = make(map[string]bool)
				failed = false
				continue
			}
			if IsFatal(err) {
				return err
			}
			result.AddError(fmt.Sprintf("pull: %v", err))
			result.FullResync = full
			return nil
		}

		// An undecodable item fails the same way on every listing, so it does
		// not hold back the token. Its local copy, if any, is left alone.
		for _, skipped := range page.Skipped {
			logger.Warn("skipping undecodable remote event", "remote_id", skipped.ID, "reason", skipped.Reason)
			result.AddError(fmt.Sprintf("pull %s: %s", skipped.ID, skipped.Reason))
			if full {
				listed[skipped.ID] = true
			}
		}

		for _, item := range page.Items {
			if full {
				listed[item.ID] = true
			}
			if err := e.applyPulled(ctx, item, result); err != nil {
				if IsFatal(err) {
					return err
				}
				result.AddError(fmt.Sprintf("pull %s: %v", item.ID, err))
				failed = true
			}
		}

		if page.Truncated() {
			pageToken = page.NextPageToken
			continue
		}

		result.FullResync = full
		if failed {
			logger.Warn("pull had item failures, keeping previous sync token")
			return nil
		}
		if full {
			if err := e.reconcileFullListing(ctx, listed, result); err != nil {
				result.AddError(fmt.Sprintf("reconcile: %v", err))
				return nil
			}
		}
		if page.NextSyncToken != "" {
			if err := e.store.SaveSyncToken(ctx, e.calendarID, page.NextSyncToken); err != nil {
				result.AddError(fmt.Sprintf("save sync token: %v", err))
				return nil
			}
			result.SyncToken = page.NextSyncToken
		}
		return nil
	}
}

func (e *Engine) applyPulled(ctx context.Context, item *RemoteEvent, result *models.SyncResult) error {
	local, err := e.store.FindByRemoteID(ctx, e.calendarID, item.ID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}

	if item.Deleted() {
		if local == nil {
			return nil
		}
		switch local.SyncStatus {
		case models.StatusSynced, models.StatusDeleted:
			if err := e.store.Purge(ctx, local.ID); err != nil {
				return err
			}
			result.Deleted++
		case models.StatusLocal:
			// Local edit against a remote deletion.
			if err := e.store.MarkConflict(ctx, local.ID, "", nil); err != nil {
				return err
			}
			result.Conflicts++
		}
		return nil
	}

	if local == nil {
		ev := &models.CalendarEvent{}
		applyRemoteFields(ev, item, e.calendarID)
		if err := e.store.ApplyRemote(ctx, ev); err != nil {
			return err
		}
		result.Pulled++
		return nil
	}

	unchanged := item.Etag != "" && item.Etag == local.RemoteEtag

	switch local.SyncStatus {
	case models.StatusSynced:
		if unchanged {
			return nil
		}
		applyRemoteFields(local, item, e.calendarID)
		if err := e.store.ApplyRemote(ctx, local); err != nil {
			return err
		}
		result.Pulled++
	case models.StatusLocal, models.StatusDeleted:
		if unchanged {
			// Our own last write echoed back; the push decides.
			return nil
		}
		if err := e.store.MarkConflict(ctx, local.ID, item.Etag, item.Updated); err != nil {
			return err
		}
		result.Conflicts++
	case models.StatusConflict:
		if !unchanged {
			if err := e.store.MarkConflict(ctx, local.ID, item.Etag, item.Updated); err != nil {
				return err
			}
		}
	}
	return nil
}

// reconcileFullListing treats a completed full listing as authoritative:
// linked events the remote no longer has are removed, or flagged when they
// carry local edits.
func (e *Engine) reconcileFullListing(ctx context.Context, listed map[string]bool, result *models.SyncResult) error {
	ids, err := e.store.ListRemoteIDs(ctx, e.calendarID)
	if err != nil {
		return err
	}

	for remoteID, localID := range ids {
		if listed[remoteID] {
			continue
		}
		ev, err := e.store.Get(ctx, localID)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		switch ev.SyncStatus {
		case models.StatusSynced, models.StatusDeleted:
			if err := e.store.Purge(ctx, ev.ID); err != nil {
				return err
			}
			result.Deleted++
		case models.StatusLocal:
			if err := e.store.MarkConflict(ctx, ev.ID, "", nil); err != nil {
				return err
			}
			result.Conflicts++
		}
	}
	return nil
}

// push sends dirty events to the remote. It only returns fatal errors.
func (e *Engine) push(ctx context.Context, logger *log.Logger, result *models.SyncResult) error {
	dirty, err := e.store.ListDirty(ctx)
	if err != nil {
		result.AddError(fmt.Sprintf("push: %v", err))
		return nil
	}

	for i, ev := range dirty {
		if err := ctx.Err(); err != nil {
			result.AddError(fmt.Sprintf("push stopped with %d change(s) left: %v", len(dirty)-i, err))
			return nil
		}
		if err := e.pushOne(ctx, ev, result); err != nil {
			if IsFatal(err) {
				return err
			}
			logger.Warn("push failed", "event", ev.ID, "err", err)
			result.AddError(fmt.Sprintf("push %q: %v", ev.Title, err))
		}
	}
	return nil
}

func (e *Engine) pushOne(ctx context.Context, ev *models.CalendarEvent, result *models.SyncResult) error {
	switch {
	case ev.SyncStatus == models.StatusDeleted:
		if ev.RemoteEventID == "" {
			return e.store.Purge(ctx, ev.ID)
		}
		err := e.remote.Delete(ctx, e.calendarID, ev.RemoteEventID, ev.RemoteEtag)
		switch {
		case err == nil:
			result.Pushed++
		case errors.Is(err, ErrRemoteNotFound):
			// Already gone remotely; the tombstone is simply finalized.
		case errors.Is(err, ErrRemoteConflict):
			if err := e.store.MarkConflict(ctx, ev.ID, "", nil); err != nil {
				return err
			}
			result.Conflicts++
			return nil
		default:
			return err
		}
		if err := e.store.Purge(ctx, ev.ID); err != nil && !errors.Is(err, db.ErrNotFound) {
			return err
		}
		return nil

	case ev.RemoteEventID == "":
		created, err := e.remote.Insert(ctx, e.calendarID, toRemote(ev))
		if err != nil {
			return err
		}
		meta := models.SyncMeta{
			RemoteEventID:    created.ID,
			RemoteCalendarID: e.calendarID,
			RemoteEtag:       created.Etag,
			RemoteUpdatedAt:  created.Updated,
		}
		if _, err := e.store.MarkSynced(ctx, ev.ID, meta, ev.LocalRevision); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				// Deleted locally while the insert was in flight.
				return e.remote.Delete(ctx, e.calendarID, created.ID, created.Etag)
			}
			return err
		}
		result.Pushed++
		return nil

	default:
		updated, err := e.remote.Patch(ctx, e.calendarID, ev.RemoteEventID, ev.RemoteEtag, toRemote(ev))
		if errors.Is(err, ErrRemoteConflict) || errors.Is(err, ErrRemoteNotFound) {
			if err := e.store.MarkConflict(ctx, ev.ID, "", nil); err != nil {
				return err
			}
			result.Conflicts++
			return nil
		}
		if err != nil {
			return err
		}
		meta := models.SyncMeta{
			RemoteEventID:    ev.RemoteEventID,
			RemoteCalendarID: e.calendarID,
			RemoteEtag:       updated.Etag,
			RemoteUpdatedAt:  updated.Updated,
		}
		if _, err := e.store.MarkSynced(ctx, ev.ID, meta, ev.LocalRevision); err != nil {
			return err
		}
		result.Pushed++
		return nil
	}
}

// Resolve settles a conflicted event. KeepLocal re-arms the local version for
// the next push against the remote's current etag; KeepRemote overwrites the
// local fields with the remote item. When the remote item is gone, KeepLocal
// re-creates it and KeepRemote removes the local event (nil is returned).
func (e *Engine) Resolve(ctx context.Context, id string, keep Resolution) (*models.CalendarEvent, error) {
	if keep != KeepLocal && keep != KeepRemote {
		return nil, fmt.Errorf("unknown resolution %q", keep)
	}
	if !e.mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer e.mu.Unlock()

	ev, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.SyncStatus != models.StatusConflict {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotConflicted, id, ev.SyncStatus)
	}

	var current *RemoteEvent
	if ev.RemoteEventID != "" {
		if e.auth != nil {
			if _, err := e.auth.EnsureFreshAccessToken(ctx); err != nil {
				return nil, err
			}
		}
		current, err = e.remote.Get(ctx, e.calendarID, ev.RemoteEventID)
		if err != nil && !errors.Is(err, ErrRemoteNotFound) {
			return nil, fmt.Errorf("failed to fetch remote event: %w", err)
		}
	}

	logger := e.logger.With("event", id, "keep", keep)

	switch keep {
	case KeepRemote:
		if current == nil {
			if err := e.store.Purge(ctx, id); err != nil {
				return nil, err
			}
			logger.Info("conflict resolved, remote event gone, local removed")
			return nil, nil
		}
		applyRemoteFields(ev, current, e.calendarID)
		if err := e.store.ApplyRemote(ctx, ev); err != nil {
			return nil, err
		}

	case KeepLocal:
		if current == nil {
			ev.RemoteEventID, ev.RemoteEtag, ev.RemoteUpdatedAt = "", "", nil
			ev.SyncStatus = models.StatusLocal
			if err := e.store.Upsert(ctx, ev); err != nil {
				return nil, err
			}
		} else {
			if err := e.store.MarkConflict(ctx, id, current.Etag, current.Updated); err != nil {
				return nil, err
			}
			if err := e.store.SetStatus(ctx, id, models.StatusLocal); err != nil {
				return nil, err
			}
		}
	}

	logger.Info("conflict resolved")
	return e.store.Get(ctx, id)
}
