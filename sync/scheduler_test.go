package sync

import (
	"context"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/calsync/models"
)

type fakeRunner struct {
	mu      gosync.Mutex
	syncs   int
	pushes  int
	started chan string
	gate    chan struct{}
	waitCtx bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan string, 16)}
}

func (r *fakeRunner) pass(ctx context.Context, kind string) (*models.SyncResult, error) {
	r.mu.Lock()
	if kind == "sync" {
		r.syncs++
	} else {
		r.pushes++
	}
	r.mu.Unlock()

	r.started <- kind
	if r.gate != nil {
		<-r.gate
	}
	if r.waitCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &models.SyncResult{CalendarID: DefaultCalendarID}, nil
}

func (r *fakeRunner) Sync(ctx context.Context) (*models.SyncResult, error) {
	return r.pass(ctx, "sync")
}

func (r *fakeRunner) Push(ctx context.Context) (*models.SyncResult, error) {
	return r.pass(ctx, "push")
}

func (r *fakeRunner) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncs, r.pushes
}

func newTestScheduler(t *testing.T, runner Runner, opts SchedulerOptions) (*Scheduler, chan PassReport) {
	t.Helper()
	opts.Logger = quietLogger()
	s := NewScheduler(runner, opts)
	reports := make(chan PassReport, 16)
	s.OnResult(func(r PassReport) { reports <- r })
	t.Cleanup(s.Stop)
	return s, reports
}

func waitReport(t *testing.T, reports chan PassReport) PassReport {
	t.Helper()
	select {
	case r := <-reports:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sync pass")
		return PassReport{}
	}
}

func TestTriggerRunsFullPass(t *testing.T) {
	runner := newFakeRunner()
	s, reports := newTestScheduler(t, runner, SchedulerOptions{})
	require.NoError(t, s.Start(context.Background()))

	assert.True(t, s.Trigger(TriggerManual))

	report := waitReport(t, reports)
	assert.Equal(t, TriggerManual, report.Trigger)
	assert.NoError(t, report.Err)
	require.NotNil(t, report.Result)

	syncs, pushes := runner.counts()
	assert.Equal(t, 1, syncs)
	assert.Zero(t, pushes)
}

func TestTriggerDroppedWhilePassRuns(t *testing.T) {
	runner := newFakeRunner()
	runner.gate = make(chan struct{})
	s, reports := newTestScheduler(t, runner, SchedulerOptions{})
	require.NoError(t, s.Start(context.Background()))

	require.True(t, s.Trigger(TriggerStartup))
	<-runner.started

	assert.False(t, s.Trigger(TriggerFocus))
	_, err := s.RunNow(context.Background(), TriggerManual)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(runner.gate)
	waitReport(t, reports)

	select {
	case r := <-reports:
		t.Fatalf("unexpected extra pass for %s", r.Trigger)
	case <-time.After(100 * time.Millisecond):
	}
	syncs, _ := runner.counts()
	assert.Equal(t, 1, syncs)
}

func TestTriggersCollapseWhileIdle(t *testing.T) {
	runner := newFakeRunner()
	s, reports := newTestScheduler(t, runner, SchedulerOptions{})

	// Queued before the worker starts so all three land on one pending slot.
	assert.True(t, s.Trigger(TriggerMutation))
	assert.True(t, s.Trigger(TriggerFocus))
	assert.True(t, s.Trigger(TriggerManual))

	require.NoError(t, s.Start(context.Background()))
	report := waitReport(t, reports)
	assert.Equal(t, TriggerFocus, report.Trigger)

	select {
	case r := <-reports:
		t.Fatalf("unexpected extra pass for %s", r.Trigger)
	case <-time.After(100 * time.Millisecond):
	}
	syncs, pushes := runner.counts()
	assert.Equal(t, 1, syncs)
	assert.Zero(t, pushes)
}

func TestNotifyMutationDebounces(t *testing.T) {
	runner := newFakeRunner()
	s, reports := newTestScheduler(t, runner, SchedulerOptions{Debounce: 50 * time.Millisecond})
	require.NoError(t, s.Start(context.Background()))

	for i := 0; i < 5; i++ {
		s.NotifyMutation()
		time.Sleep(5 * time.Millisecond)
	}

	report := waitReport(t, reports)
	assert.Equal(t, TriggerMutation, report.Trigger)

	select {
	case r := <-reports:
		t.Fatalf("unexpected extra pass for %s", r.Trigger)
	case <-time.After(150 * time.Millisecond):
	}
	syncs, pushes := runner.counts()
	assert.Zero(t, syncs)
	assert.Equal(t, 1, pushes)
}

func TestRunNowIsSynchronous(t *testing.T) {
	runner := newFakeRunner()
	s, reports := newTestScheduler(t, runner, SchedulerOptions{})

	result, err := s.RunNow(context.Background(), TriggerAuthorized)
	require.NoError(t, err)
	assert.Equal(t, DefaultCalendarID, result.CalendarID)

	report := waitReport(t, reports)
	assert.Equal(t, TriggerAuthorized, report.Trigger)
}

func TestPassTimeoutIsReported(t *testing.T) {
	runner := newFakeRunner()
	runner.waitCtx = true
	s, _ := newTestScheduler(t, runner, SchedulerOptions{Timeout: 20 * time.Millisecond})

	_, err := s.RunNow(context.Background(), TriggerManual)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStartRejectsBadInterval(t *testing.T) {
	s, _ := newTestScheduler(t, newFakeRunner(), SchedulerOptions{Interval: "every now and then"})
	assert.Error(t, s.Start(context.Background()))
}

func TestStartWithIntervalStops(t *testing.T) {
	s, _ := newTestScheduler(t, newFakeRunner(), SchedulerOptions{Interval: DefaultInterval})
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
}
