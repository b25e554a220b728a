// ABOUTME: Boundary operations the presentation layers call
// ABOUTME: Local mutations schedule a debounced push; sync, auth and holidays are delegated to their owners
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harperreed/calsync/db"
	"github.com/harperreed/calsync/models"
	calsync "github.com/harperreed/calsync/sync"
)

// StateTTL bounds how long a pending authorization state is honored.
const StateTTL = 10 * time.Minute

var (
	// ErrStateMismatch means the authorization callback carried an unknown or expired state.
	ErrStateMismatch = errors.New("authorization state mismatch")
	// ErrHolidaysDisabled means no holiday provider is configured.
	ErrHolidaysDisabled = errors.New("holiday feed disabled")
)

// Store is the part of the local event store the boundary uses.
type Store interface {
	Get(ctx context.Context, id string) (*models.CalendarEvent, error)
	List(ctx context.Context) ([]*models.CalendarEvent, error)
	ListConflicts(ctx context.Context) ([]*models.CalendarEvent, error)
	Upsert(ctx context.Context, ev *models.CalendarEvent) error
	Edit(ctx context.Context, ev *models.CalendarEvent) error
	Delete(ctx context.Context, id string) (bool, error)
	Search(ctx context.Context, q db.SearchQuery) ([]*models.CalendarEvent, error)
}

// Credentials manages the Google account link.
type Credentials interface {
	Status() models.CredentialStatus
	BeginAuthorization(state string) (string, error)
	ExchangeCode(ctx context.Context, code string) (*models.Credential, error)
	Logout(ctx context.Context) error
}

// Resolver settles conflicted events.
type Resolver interface {
	Resolve(ctx context.Context, id string, keep calsync.Resolution) (*models.CalendarEvent, error)
}

// Scheduler decides when passes run.
type Scheduler interface {
	Trigger(t calsync.Trigger) bool
	NotifyMutation()
	RunNow(ctx context.Context, t calsync.Trigger) (*models.SyncResult, error)
	OnResult(fn func(calsync.PassReport))
}

// Holidays serves the read-only holiday feed.
type Holidays interface {
	List(ctx context.Context, country string, from, to time.Time) ([]models.Holiday, error)
}

// Options wires a Service. Holidays may be nil.
type Options struct {
	Store          Store
	Credentials    Credentials
	Resolver       Resolver
	Scheduler      Scheduler
	Holidays       Holidays
	HolidayCountry string
	Logger         *log.Logger
}

// Authorization is a consent URL and the state it embeds.
type Authorization struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// AgendaItem is one row of the merged display set. Exactly one of Event and
// Holiday is set.
type AgendaItem struct {
	Start   time.Time             `json:"start"`
	Event   *models.CalendarEvent `json:"event,omitempty"`
	Holiday *models.Holiday       `json:"holiday,omitempty"`
}

// Service implements the boundary operations.
type Service struct {
	store     Store
	creds     Credentials
	resolver  Resolver
	scheduler Scheduler
	holidays  Holidays
	country   string
	logger    *log.Logger
	now       func() time.Time

	mu     sync.Mutex
	states map[string]time.Time
	last   *calsync.PassReport
}

// New creates a Service and subscribes it to pass reports.
func New(opts Options) *Service {
	s := &Service{
		store:     opts.Store,
		creds:     opts.Credentials,
		resolver:  opts.Resolver,
		scheduler: opts.Scheduler,
		holidays:  opts.Holidays,
		country:   opts.HolidayCountry,
		logger:    opts.Logger,
		now:       time.Now,
		states:    make(map[string]time.Time),
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.scheduler != nil {
		s.scheduler.OnResult(s.record)
	}
	return s
}

func (s *Service) record(report calsync.PassReport) {
	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()

	switch {
	case report.Err != nil:
		s.logger.Warn("sync pass failed", "trigger", report.Trigger, "err", report.Err)
	case report.Result != nil:
		s.logger.Info("sync pass finished", "trigger", report.Trigger, "summary", report.Result.Summary())
	}
}

// LastPass returns the most recent pass report, or nil before the first pass.
func (s *Service) LastPass() *calsync.PassReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	report := *s.last
	return &report
}

// ListEvents returns the current local snapshot, tombstones hidden.
func (s *Service) ListEvents(ctx context.Context) ([]*models.CalendarEvent, error) {
	return s.store.List(ctx)
}

// ListConflicts returns events waiting for an explicit resolution.
func (s *Service) ListConflicts(ctx context.Context) ([]*models.CalendarEvent, error) {
	return s.store.ListConflicts(ctx)
}

// GetEvent returns a visible event by id.
func (s *Service) GetEvent(ctx context.Context, id string) (*models.CalendarEvent, error) {
	ev, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.SyncStatus == models.StatusDeleted {
		return nil, db.ErrNotFound
	}
	return ev, nil
}

// CreateEvent stores draft as a new local event. Any id or remote metadata on
// the draft is discarded.
func (s *Service) CreateEvent(ctx context.Context, draft *models.CalendarEvent) (*models.CalendarEvent, error) {
	if draft == nil {
		return nil, fmt.Errorf("%w: event is required", models.ErrInvalidEvent)
	}
	ev := *draft
	ev.ID = ""
	ev.SyncStatus = models.StatusLocal
	ev.RemoteEventID = ""
	ev.RemoteCalendarID = ""
	ev.RemoteEtag = ""
	ev.RemoteUpdatedAt = nil
	ev.LocalRevision = 0

	if err := s.store.Upsert(ctx, &ev); err != nil {
		return nil, err
	}
	s.logger.Debug("event created", "event", ev.ID)
	s.notify()
	return &ev, nil
}

// UpdateEvent applies the editable fields of ev to the stored event. Sync
// metadata is kept; a synced event becomes local.
func (s *Service) UpdateEvent(ctx context.Context, ev *models.CalendarEvent) (*models.CalendarEvent, error) {
	if ev == nil || ev.ID == "" {
		return nil, fmt.Errorf("%w: event id is required", models.ErrInvalidEvent)
	}
	edit := *ev
	if err := s.store.Edit(ctx, &edit); err != nil {
		return nil, err
	}
	s.logger.Debug("event updated", "event", edit.ID, "status", edit.SyncStatus)
	s.notify()
	return &edit, nil
}

// DeleteEvent removes an event. Linked events leave a tombstone for the next push.
func (s *Service) DeleteEvent(ctx context.Context, id string) error {
	tombstoned, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.logger.Debug("event deleted", "event", id, "tombstone", tombstoned)
	if tombstoned {
		s.notify()
	}
	return nil
}

// SearchEvents matches events locally.
func (s *Service) SearchEvents(ctx context.Context, q db.SearchQuery) ([]*models.CalendarEvent, error) {
	return s.store.Search(ctx, q)
}

func (s *Service) notify() {
	if s.scheduler != nil {
		s.scheduler.NotifyMutation()
	}
}

// RunSync runs a full pass now. Item failures are reported in the result;
// only auth failures, a pass already running or a timeout return an error.
func (s *Service) RunSync(ctx context.Context) (*models.SyncResult, error) {
	return s.scheduler.RunNow(ctx, calsync.TriggerManual)
}

// PushChanges runs a push-only pass now.
func (s *Service) PushChanges(ctx context.Context) (*models.SyncResult, error) {
	return s.scheduler.RunNow(ctx, calsync.TriggerMutation)
}

// Focus requests a pass because the user came back to the app.
func (s *Service) Focus() bool {
	return s.scheduler.Trigger(calsync.TriggerFocus)
}

// ResolveConflict settles a conflicted event. The result is nil when the
// local copy was removed.
func (s *Service) ResolveConflict(ctx context.Context, id string, keep calsync.Resolution) (*models.CalendarEvent, error) {
	ev, err := s.resolver.Resolve(ctx, id, keep)
	if err != nil {
		return nil, err
	}
	if ev != nil && ev.SyncStatus == models.StatusLocal {
		s.notify()
	}
	return ev, nil
}

// GetCredentialStatus reports the account link without exposing tokens.
func (s *Service) GetCredentialStatus() models.CredentialStatus {
	return s.creds.Status()
}

// BeginAuthorization returns the consent URL. A fresh state is generated
// when state is empty; either way it is remembered for the callback.
func (s *Service) BeginAuthorization(state string) (*Authorization, error) {
	state = strings.TrimSpace(state)
	if state == "" {
		state = calsync.NewState()
	}
	url, err := s.creds.BeginAuthorization(state)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	now := s.now()
	for st, issued := range s.states {
		if now.Sub(issued) > StateTTL {
			delete(s.states, st)
		}
	}
	s.states[state] = now
	s.mu.Unlock()

	return &Authorization{URL: url, State: state}, nil
}

// ExchangeAuthorizationCode completes the consent flow from a redirect and
// schedules an authorized sync. state must match a pending authorization.
func (s *Service) ExchangeAuthorizationCode(ctx context.Context, code, state string) (models.CredentialStatus, error) {
	if !s.consumeState(state) {
		return models.CredentialStatus{}, ErrStateMismatch
	}
	return s.exchange(ctx, code)
}

// ExchangePastedCode completes the consent flow from a code the user pasted
// into the terminal. A bare code carries no state; a pasted redirect URL
// does, and it must match like any other redirect.
func (s *Service) ExchangePastedCode(ctx context.Context, code, state string) (models.CredentialStatus, error) {
	if state != "" && !s.consumeState(state) {
		return models.CredentialStatus{}, ErrStateMismatch
	}
	return s.exchange(ctx, code)
}

// consumeState removes state from the pending set and reports whether it was
// issued within StateTTL.
func (s *Service) consumeState(state string) bool {
	if state == "" {
		return false
	}
	s.mu.Lock()
	issued, ok := s.states[state]
	delete(s.states, state)
	s.mu.Unlock()
	return ok && s.now().Sub(issued) <= StateTTL
}

func (s *Service) exchange(ctx context.Context, code string) (models.CredentialStatus, error) {
	if strings.TrimSpace(code) == "" {
		return models.CredentialStatus{}, fmt.Errorf("%w: empty code", calsync.ErrInvalidGrant)
	}

	cred, err := s.creds.ExchangeCode(ctx, code)
	if err != nil {
		return models.CredentialStatus{}, err
	}
	s.logger.Info("google account connected", "email", cred.Email)

	if s.scheduler != nil {
		s.scheduler.Trigger(calsync.TriggerAuthorized)
	}
	return s.creds.Status(), nil
}

// Logout disconnects the account. Local events are kept.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.creds.Logout(ctx); err != nil {
		return err
	}
	s.logger.Info("google account disconnected")
	return nil
}

// ListHolidays returns holidays for country in [from, to). An empty country
// uses the configured default.
func (s *Service) ListHolidays(ctx context.Context, country string, from, to time.Time) ([]models.Holiday, error) {
	if s.holidays == nil {
		return nil, ErrHolidaysDisabled
	}
	if strings.TrimSpace(country) == "" {
		country = s.country
	}
	return s.holidays.List(ctx, country, from, to)
}

// Agenda merges local events starting in [from, to) with the holiday feed.
// A holiday feed failure is logged and the events are returned alone.
func (s *Service) Agenda(ctx context.Context, from, to time.Time) ([]AgendaItem, error) {
	events, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]AgendaItem, 0, len(events))
	for _, ev := range events {
		if inWindow(ev.Start, from, to) {
			items = append(items, AgendaItem{Start: ev.Start, Event: ev})
		}
	}

	if s.holidays != nil {
		holidays, err := s.holidays.List(ctx, s.country, from, to)
		if err != nil {
			s.logger.Warn("holiday feed unavailable", "err", err)
		}
		for i := range holidays {
			h := holidays[i]
			items = append(items, AgendaItem{Start: h.Date, Holiday: &h})
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Start.Before(items[j].Start)
	})
	return items, nil
}

func inWindow(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
