// ABOUTME: Single-flight scheduler deciding when sync passes run
// ABOUTME: Collapses triggers into one pending request, debounces mutation pushes, runs a cron timer
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/harperreed/calsync/models"
)

// Trigger names why a pass was requested.
type Trigger string

const (
	TriggerStartup    Trigger = "startup"
	TriggerFocus      Trigger = "focus"
	TriggerManual     Trigger = "manual"
	TriggerAuthorized Trigger = "authorized"
	TriggerMutation   Trigger = "mutation"
	TriggerTimer      Trigger = "timer"
)

// Defaults for SchedulerOptions.
const (
	DefaultInterval = "@every 15m"
	DefaultDebounce = 2 * time.Second
	DefaultTimeout  = 2 * time.Minute
)

// Runner executes passes. *Engine implements it.
type Runner interface {
	Sync(ctx context.Context) (*models.SyncResult, error)
	Push(ctx context.Context) (*models.SyncResult, error)
}

// PassReport is published to subscribers after every pass.
type PassReport struct {
	Trigger Trigger
	Result  *models.SyncResult
	Err     error
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// Interval is a cron spec for the periodic trigger. Empty disables it.
	Interval string
	Debounce time.Duration
	Timeout  time.Duration
	Logger   *log.Logger
}

type request struct {
	trigger Trigger
	full    bool
}

// Scheduler runs at most one pass at a time. Triggers that arrive while a
// pass is running are dropped; triggers that arrive while idle collapse into
// a single pending request.
type Scheduler struct {
	runner   Runner
	interval string
	debounce time.Duration
	timeout  time.Duration
	logger   *log.Logger

	mu          sync.Mutex
	running     bool
	started     bool
	stopped     bool
	pending     *request
	debouncer   *time.Timer
	subscribers []func(PassReport)

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	cron *cron.Cron
}

// NewScheduler creates a scheduler. Call Start to begin processing triggers.
func NewScheduler(runner Runner, opts SchedulerOptions) *Scheduler {
	s := &Scheduler{
		runner:   runner,
		interval: opts.Interval,
		debounce: opts.Debounce,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if s.debounce < 0 {
		s.debounce = 0
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	return s
}

// OnResult registers fn to receive every pass report. fn runs on the
// scheduler goroutine and must not block.
func (s *Scheduler) OnResult(fn func(PassReport)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Start launches the worker and the periodic trigger.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	s.mu.Unlock()

	if s.interval != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(s.interval, func() { s.Trigger(TriggerTimer) }); err != nil {
			s.mu.Lock()
			s.started = false
			s.mu.Unlock()
			return fmt.Errorf("invalid sync interval %q: %w", s.interval, err)
		}
		s.cron.Start()
	}

	go s.loop(ctx)
	return nil
}

// Stop halts the timer and the worker, waiting for an in-flight pass.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.stopped = true
	if s.debouncer != nil {
		s.debouncer.Stop()
	}
	s.mu.Unlock()

	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	close(s.stop)
	<-s.done
}

// Trigger requests a pass. It reports whether the request was accepted; a
// request made while a pass is running is dropped.
func (s *Scheduler) Trigger(t Trigger) bool {
	req := request{trigger: t, full: t != TriggerMutation}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Debug("sync trigger dropped, pass in progress", "trigger", t)
		return false
	}
	// A full pass also pushes, so it absorbs a pending push-only request.
	if s.pending == nil || (req.full && !s.pending.full) {
		s.pending = &req
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// NotifyMutation schedules a debounced push-only pass after a local edit.
func (s *Scheduler) NotifyMutation() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.debouncer != nil {
		s.debouncer.Stop()
	}
	s.debouncer = time.AfterFunc(s.debounce, func() { s.Trigger(TriggerMutation) })
}

// RunNow runs a pass synchronously on the caller's goroutine, honoring the
// single-flight rule.
func (s *Scheduler) RunNow(ctx context.Context, t Trigger) (*models.SyncResult, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	return s.execute(ctx, request{trigger: t, full: t != TriggerMutation})
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-s.wake:
		}

		s.mu.Lock()
		req := s.pending
		s.pending = nil
		if req == nil || s.running {
			s.mu.Unlock()
			continue
		}
		s.running = true
		s.mu.Unlock()

		_, _ = s.execute(ctx, *req)

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}
}

func (s *Scheduler) execute(ctx context.Context, req request) (*models.SyncResult, error) {
	passCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.logger.Debug("starting sync pass", "trigger", req.trigger, "full", req.full)

	var result *models.SyncResult
	var err error
	if req.full {
		result, err = s.runner.Sync(passCtx)
	} else {
		result, err = s.runner.Push(passCtx)
	}

	if errors.Is(passCtx.Err(), context.DeadlineExceeded) {
		s.logger.Warn("sync pass hit timeout", "timeout", s.timeout)
	}

	s.publish(PassReport{Trigger: req.trigger, Result: result, Err: err})
	return result, err
}

func (s *Scheduler) publish(report PassReport) {
	s.mu.Lock()
	subs := append([]func(PassReport){}, s.subscribers...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(report)
	}
}
