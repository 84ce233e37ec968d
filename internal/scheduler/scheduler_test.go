package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tkwok/triggerd/config"
	"github.com/tkwok/triggerd/internal/domain"
	"github.com/tkwok/triggerd/internal/repository"
)

func testConfig() *config.Config {
	return &config.Config{
		SchedulerPollIntervalSec:  10,
		DispatchLockDurationSec:   300,
		JobTimeoutThresholdSec:    600,
		MaxRetryAttempts:          3,
		CleanupRetentionDays:      30,
		WorkerOfflineThresholdSec: 180,
	}
}

type fakeJobRepo struct {
	repository.JobRepository

	due    []*domain.ScheduledJob
	byID   map[int64]*domain.ScheduledJob
	fired  []fireCall
	fireOK bool
	nextID int64
}

type fireCall struct {
	jobID     int64
	nextRun   *time.Time
	lockUntil time.Time
}

func (f *fakeJobRepo) Due(_ context.Context, _ time.Time) ([]*domain.ScheduledJob, error) {
	return f.due, nil
}

func (f *fakeJobRepo) GetByID(_ context.Context, id int64) (*domain.ScheduledJob, error) {
	if j, ok := f.byID[id]; ok {
		return j, nil
	}
	return nil, domain.ErrJobNotFound
}

func (f *fakeJobRepo) Fire(_ context.Context, job *domain.ScheduledJob, nextRun *time.Time, _, lockUntil time.Time) (int64, bool, error) {
	if !f.fireOK {
		return 0, false, nil
	}
	f.nextID++
	f.fired = append(f.fired, fireCall{jobID: job.ID, nextRun: nextRun, lockUntil: lockUntil})
	return f.nextID, true, nil
}

type fakeDispatchRepo struct {
	repository.DispatchRepository

	stuck    []*domain.JobDispatch
	timeouts []repository.TimeoutInput
	gcCutoff *time.Time
	gcCount  int
}

func (f *fakeDispatchRepo) Stuck(_ context.Context, _ time.Time) ([]*domain.JobDispatch, error) {
	return f.stuck, nil
}

func (f *fakeDispatchRepo) Timeout(_ context.Context, input repository.TimeoutInput) error {
	f.timeouts = append(f.timeouts, input)
	return nil
}

func (f *fakeDispatchRepo) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int, error) {
	f.gcCutoff = &cutoff
	return f.gcCount, nil
}

type fakeWorkerRepo struct {
	repository.WorkerRepository

	existing    map[string]bool
	staleCutoff *time.Time
	reaped      int
}

func (f *fakeWorkerRepo) Exists(_ context.Context, workerID string) (bool, error) {
	return f.existing[workerID], nil
}

func (f *fakeWorkerRepo) DeleteStale(_ context.Context, cutoff time.Time) (int, error) {
	f.staleCutoff = &cutoff
	return f.reaped, nil
}

type fakeMailer struct {
	to       []string
	subjects []string
	bodies   []string
}

func (f *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	f.to = append(f.to, to)
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	return nil
}

func newTestScheduler(jobs *fakeJobRepo, dispatches *fakeDispatchRepo, workers *fakeWorkerRepo, mailer *fakeMailer, cfg *config.Config, now time.Time) *Scheduler {
	s := New(jobs, dispatches, workers, mailer, cfg, slog.Default())
	s.now = func() time.Time { return now }
	return s
}

func TestDispatchDue_FiresDueJob(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)

	job := &domain.ScheduledJob{
		ID:              7,
		Name:            "heartbeat-echo",
		ScheduleType:    domain.ScheduleInterval,
		IntervalSeconds: 300,
		IsActive:        true,
		NextRun:         &past,
	}
	jobs := &fakeJobRepo{due: []*domain.ScheduledJob{job}, fireOK: true}
	s := newTestScheduler(jobs, &fakeDispatchRepo{}, &fakeWorkerRepo{}, &fakeMailer{}, testConfig(), now)

	s.dispatchDue(context.Background())

	if len(jobs.fired) != 1 {
		t.Fatalf("fired %d jobs, want 1", len(jobs.fired))
	}
	call := jobs.fired[0]
	if call.jobID != 7 {
		t.Errorf("fired job %d, want 7", call.jobID)
	}
	if call.nextRun == nil || !call.nextRun.Equal(now.Add(5*time.Minute)) {
		t.Errorf("nextRun = %v, want now+5m", call.nextRun)
	}
	if !call.lockUntil.Equal(now.Add(5 * time.Minute)) {
		t.Errorf("lockUntil = %v, want now+300s", call.lockUntil)
	}
}

func TestDispatchDue_ManualJobGetsNilNextRun(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)

	job := &domain.ScheduledJob{
		ID:           3,
		Name:         "on-demand-check",
		ScheduleType: domain.ScheduleManual,
		IsActive:     true,
		NextRun:      &past,
	}
	jobs := &fakeJobRepo{due: []*domain.ScheduledJob{job}, fireOK: true}
	s := newTestScheduler(jobs, &fakeDispatchRepo{}, &fakeWorkerRepo{}, &fakeMailer{}, testConfig(), now)

	s.dispatchDue(context.Background())

	if len(jobs.fired) != 1 {
		t.Fatalf("fired %d jobs, want 1", len(jobs.fired))
	}
	if jobs.fired[0].nextRun != nil {
		t.Errorf("nextRun = %v, want nil for manual job", jobs.fired[0].nextRun)
	}
}

func TestDispatchDue_LostLockIsNotAnError(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	job := &domain.ScheduledJob{ID: 1, ScheduleType: domain.ScheduleInterval, IntervalSeconds: 60}

	jobs := &fakeJobRepo{due: []*domain.ScheduledJob{job}, fireOK: false}
	s := newTestScheduler(jobs, &fakeDispatchRepo{}, &fakeWorkerRepo{}, &fakeMailer{}, testConfig(), now)

	s.dispatchDue(context.Background())

	if len(jobs.fired) != 0 {
		t.Fatalf("fired %d jobs, want 0 when the lock is lost", len(jobs.fired))
	}
}

func TestDetectStuck_CreatesRetry(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	claimed := now.Add(-15 * time.Minute)
	workerID := "worker-ab12cd34"

	dispatches := &fakeDispatchRepo{stuck: []*domain.JobDispatch{{
		ID:         41,
		JobID:      7,
		Status:     domain.DispatchInProgress,
		WorkerID:   &workerID,
		ClaimedAt:  &claimed,
		RetryCount: 1,
	}}}
	workers := &fakeWorkerRepo{existing: map[string]bool{}}
	mailer := &fakeMailer{}
	s := newTestScheduler(&fakeJobRepo{}, dispatches, workers, mailer, testConfig(), now)

	s.detectStuck(context.Background())

	if len(dispatches.timeouts) != 1 {
		t.Fatalf("timed out %d dispatches, want 1", len(dispatches.timeouts))
	}
	got := dispatches.timeouts[0]
	if got.DispatchID != 41 || got.JobID != 7 {
		t.Errorf("timeout targeted dispatch %d job %d", got.DispatchID, got.JobID)
	}
	if !got.CreateRetry {
		t.Error("expected a retry below the attempt cap")
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want the stuck dispatch's own count 1", got.RetryCount)
	}
	if !got.RunTime.Equal(claimed) {
		t.Errorf("RunTime = %v, want claimed_at", got.RunTime)
	}
	if !strings.Contains(got.ErrorMessage, "died during execution") {
		t.Errorf("error message %q does not mention the dead worker", got.ErrorMessage)
	}
	if len(mailer.to) != 0 {
		t.Errorf("sent %d alerts, want none while retries remain", len(mailer.to))
	}
}

func TestDetectStuck_LiveWorkerKeepsItsDispatch(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	claimed := now.Add(-15 * time.Minute)
	workerID := "worker-slow0001"

	dispatches := &fakeDispatchRepo{stuck: []*domain.JobDispatch{{
		ID:        40,
		JobID:     7,
		Status:    domain.DispatchInProgress,
		WorkerID:  &workerID,
		ClaimedAt: &claimed,
	}}}
	workers := &fakeWorkerRepo{existing: map[string]bool{workerID: true}}
	s := newTestScheduler(&fakeJobRepo{}, dispatches, workers, &fakeMailer{}, testConfig(), now)

	s.detectStuck(context.Background())

	if len(dispatches.timeouts) != 0 {
		t.Fatalf("timed out %d dispatches, want 0 while the worker is registered", len(dispatches.timeouts))
	}
}

func TestDetectStuck_DeadWorkerMentionedInError(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	claimed := now.Add(-15 * time.Minute)
	workerID := "worker-dead0001"

	dispatches := &fakeDispatchRepo{stuck: []*domain.JobDispatch{{
		ID:        42,
		JobID:     7,
		WorkerID:  &workerID,
		ClaimedAt: &claimed,
	}}}
	workers := &fakeWorkerRepo{existing: map[string]bool{}}
	s := newTestScheduler(&fakeJobRepo{}, dispatches, workers, &fakeMailer{}, testConfig(), now)

	s.detectStuck(context.Background())

	if len(dispatches.timeouts) != 1 {
		t.Fatalf("timed out %d dispatches, want 1", len(dispatches.timeouts))
	}
	if !strings.Contains(dispatches.timeouts[0].ErrorMessage, workerID) {
		t.Errorf("error message %q does not name the dead worker", dispatches.timeouts[0].ErrorMessage)
	}
}

func TestDetectStuck_CapExhaustedSendsAlert(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	claimed := now.Add(-20 * time.Minute)
	workerID := "worker-ab12cd34"

	cfg := testConfig()
	cfg.AlertEmailTo = "ops@example.com"

	dispatches := &fakeDispatchRepo{stuck: []*domain.JobDispatch{{
		ID:         43,
		JobID:      7,
		WorkerID:   &workerID,
		ClaimedAt:  &claimed,
		RetryCount: 3,
	}}}
	jobs := &fakeJobRepo{byID: map[int64]*domain.ScheduledJob{
		7: {ID: 7, Name: "daily-digest"},
	}}
	workers := &fakeWorkerRepo{existing: map[string]bool{}}
	mailer := &fakeMailer{}
	s := newTestScheduler(jobs, dispatches, workers, mailer, cfg, now)

	s.detectStuck(context.Background())

	if len(dispatches.timeouts) != 1 {
		t.Fatalf("timed out %d dispatches, want 1", len(dispatches.timeouts))
	}
	if dispatches.timeouts[0].CreateRetry {
		t.Error("created a retry past the attempt cap")
	}
	if len(mailer.to) != 1 {
		t.Fatalf("sent %d alerts, want 1", len(mailer.to))
	}
	if mailer.to[0] != "ops@example.com" {
		t.Errorf("alert to %q", mailer.to[0])
	}
	if !strings.Contains(mailer.subjects[0], "daily-digest") {
		t.Errorf("alert subject %q does not name the job", mailer.subjects[0])
	}
}

func TestReapWorkers_UsesOfflineThreshold(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	workers := &fakeWorkerRepo{reaped: 2}
	s := newTestScheduler(&fakeJobRepo{}, &fakeDispatchRepo{}, workers, &fakeMailer{}, testConfig(), now)

	s.reapWorkers(context.Background())

	if workers.staleCutoff == nil {
		t.Fatal("DeleteStale not called")
	}
	if want := now.Add(-180 * time.Second); !workers.staleCutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", workers.staleCutoff, want)
	}
}

func TestGCDispatches_UsesRetentionWindow(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	dispatches := &fakeDispatchRepo{gcCount: 5}
	s := newTestScheduler(&fakeJobRepo{}, dispatches, &fakeWorkerRepo{}, &fakeMailer{}, testConfig(), now)

	s.gcDispatches(context.Background())

	if dispatches.gcCutoff == nil {
		t.Fatal("DeleteTerminalBefore not called")
	}
	if want := now.Add(-30 * 24 * time.Hour); !dispatches.gcCutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", dispatches.gcCutoff, want)
	}
}
