package worker

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tkwok/triggerd/config"
	"github.com/tkwok/triggerd/internal/domain"
	"github.com/tkwok/triggerd/internal/repository"
)

func testConfig(scriptsDir string) *config.Config {
	return &config.Config{
		WorkerPollIntervalSec:      5,
		WorkerMaxPollIntervalSec:   60,
		WorkerHeartbeatIntervalSec: 30,
		WorkerJobTimeoutSec:        600,
		ScriptsDir:                 scriptsDir,
		PythonBin:                  "python3",
	}
}

type fakeJobs struct {
	repository.JobRepository

	byID map[int64]*domain.ScheduledJob
}

func (f *fakeJobs) GetByID(_ context.Context, id int64) (*domain.ScheduledJob, error) {
	if j, ok := f.byID[id]; ok {
		return j, nil
	}
	return nil, domain.ErrJobNotFound
}

// fakeDispatches models the store's conditional claim with a mutex so
// concurrent claims see the same winner-takes-all behaviour as the real
// UPDATE ... WHERE status = 'PENDING'.
type fakeDispatches struct {
	repository.DispatchRepository

	mu       sync.Mutex
	pending  []*domain.JobDispatch
	claims   map[int64]string
	reports  []repository.ReportInput
	released map[string]int
}

func newFakeDispatches(pending ...*domain.JobDispatch) *fakeDispatches {
	return &fakeDispatches{
		pending:  pending,
		claims:   make(map[int64]string),
		released: make(map[string]int),
	}
}

func (f *fakeDispatches) OldestPending(_ context.Context) (*domain.JobDispatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.pending {
		if d.Status == domain.DispatchPending {
			return d, nil
		}
	}
	return nil, domain.ErrDispatchNotFound
}

func (f *fakeDispatches) Claim(_ context.Context, dispatchID int64, workerID string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.pending {
		if d.ID == dispatchID && d.Status == domain.DispatchPending {
			d.Status = domain.DispatchInProgress
			d.WorkerID = &workerID
			d.ClaimedAt = &now
			f.claims[dispatchID] = workerID
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDispatches) Report(_ context.Context, input repository.ReportInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, input)
	return nil
}

func (f *fakeDispatches) Release(_ context.Context, workerID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.pending {
		if d.Status == domain.DispatchInProgress && d.WorkerID != nil && *d.WorkerID == workerID {
			d.Status = domain.DispatchPending
			d.WorkerID = nil
			d.ClaimedAt = nil
			n++
		}
	}
	f.released[workerID] = n
	return n, nil
}

type fakeWorkers struct {
	repository.WorkerRepository

	mu         sync.Mutex
	registered map[string]*domain.WorkerRegistration
	heartbeats int
	deleted    []string
}

func newFakeWorkers() *fakeWorkers {
	return &fakeWorkers{registered: make(map[string]*domain.WorkerRegistration)}
}

func (f *fakeWorkers) Register(_ context.Context, w *domain.WorkerRegistration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[w.WorkerID] = w
	return nil
}

func (f *fakeWorkers) Heartbeat(_ context.Context, workerID string, status domain.WorkerStatus, currentJobID *int64, jobsProcessed int, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	w, ok := f.registered[workerID]
	if !ok {
		return false, nil
	}
	w.Status = status
	w.CurrentJobID = currentJobID
	w.JobsProcessed = jobsProcessed
	w.LastHeartbeat = now
	return true, nil
}

func (f *fakeWorkers) Delete(_ context.Context, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.registered, workerID)
	f.deleted = append(f.deleted, workerID)
	return nil
}

func newTestWorker(t *testing.T, jobs *fakeJobs, dispatches *fakeDispatches, workers *fakeWorkers) *Worker {
	t.Helper()
	dir := t.TempDir()
	cfg := testConfig(dir)
	executor := NewExecutor(dir, "python3", cfg.WorkerJobTimeout(), slog.Default())
	return New(jobs, dispatches, workers, executor, cfg, slog.Default())
}

func TestWorkerID_Format(t *testing.T) {
	w := newTestWorker(t, &fakeJobs{}, newFakeDispatches(), newFakeWorkers())
	id := w.ID()
	if len(id) != len("worker-")+8 {
		t.Errorf("id %q, want worker- plus 8 chars", id)
	}
	if id[:7] != "worker-" {
		t.Errorf("id %q missing worker- prefix", id)
	}
}

func TestNextPollInterval_BacksOffAndCaps(t *testing.T) {
	max := 60 * time.Second

	got := nextPollInterval(5*time.Second, max)
	if want := 7500 * time.Millisecond; got != want {
		t.Errorf("nextPollInterval(5s) = %v, want %v", got, want)
	}

	interval := 5 * time.Second
	for i := 0; i < 20; i++ {
		interval = nextPollInterval(interval, max)
	}
	if interval != max {
		t.Errorf("interval after repeated backoff = %v, want capped at %v", interval, max)
	}
}

func TestPollOnce_NothingPending(t *testing.T) {
	w := newTestWorker(t, &fakeJobs{}, newFakeDispatches(), newFakeWorkers())

	if w.pollOnce(context.Background()) {
		t.Error("pollOnce claimed on an empty queue")
	}
}

func TestPollOnce_ExecutesAndReports(t *testing.T) {
	dispatches := newFakeDispatches(&domain.JobDispatch{
		ID:        11,
		JobID:     1,
		Status:    domain.DispatchPending,
		CreatedAt: time.Now().UTC(),
	})
	jobs := &fakeJobs{byID: map[int64]*domain.ScheduledJob{
		1: {ID: 1, Name: "echo", ScriptPath: "ok.sh"},
	}}
	workers := newFakeWorkers()
	w := newTestWorker(t, jobs, dispatches, workers)
	writeScript(t, w.cfg.ScriptsDir, "ok.sh", "#!/bin/bash\necho done\n")

	if !w.pollOnce(context.Background()) {
		t.Fatal("pollOnce did not claim the pending dispatch")
	}

	if len(dispatches.reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(dispatches.reports))
	}
	report := dispatches.reports[0]
	if report.Status != domain.DispatchCompleted {
		t.Errorf("dispatch status = %s, want COMPLETED", report.Status)
	}
	if report.ExecStatus != domain.ExecSuccess {
		t.Errorf("exec status = %s, want SUCCESS", report.ExecStatus)
	}
	if report.WorkerID != w.ID() {
		t.Errorf("report worker = %q, want %q", report.WorkerID, w.ID())
	}
}

func TestPollOnce_FailedScriptReportsFailure(t *testing.T) {
	dispatches := newFakeDispatches(&domain.JobDispatch{
		ID:     12,
		JobID:  1,
		Status: domain.DispatchPending,
	})
	jobs := &fakeJobs{byID: map[int64]*domain.ScheduledJob{
		1: {ID: 1, Name: "boom", ScriptPath: "boom.sh"},
	}}
	w := newTestWorker(t, jobs, dispatches, newFakeWorkers())
	writeScript(t, w.cfg.ScriptsDir, "boom.sh", "#!/bin/bash\nexit 1\n")

	if !w.pollOnce(context.Background()) {
		t.Fatal("pollOnce did not claim the pending dispatch")
	}

	report := dispatches.reports[0]
	if report.Status != domain.DispatchFailed {
		t.Errorf("dispatch status = %s, want FAILED", report.Status)
	}
	if report.ErrorMessage == nil {
		t.Error("expected an error message on failure")
	}
}

// Two workers racing on the same PENDING dispatch: exactly one claim wins,
// the loser walks away without executing anything.
func TestClaimRace_SingleWinner(t *testing.T) {
	dispatches := newFakeDispatches(&domain.JobDispatch{
		ID:     13,
		JobID:  1,
		Status: domain.DispatchPending,
	})
	jobs := &fakeJobs{byID: map[int64]*domain.ScheduledJob{
		1: {ID: 1, Name: "contended", ScriptPath: "ok.sh"},
	}}

	a := newTestWorker(t, jobs, dispatches, newFakeWorkers())
	b := newTestWorker(t, jobs, dispatches, newFakeWorkers())
	writeScript(t, a.cfg.ScriptsDir, "ok.sh", "#!/bin/bash\necho a\n")
	writeScript(t, b.cfg.ScriptsDir, "ok.sh", "#!/bin/bash\necho b\n")

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i, w := range []*Worker{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = w.pollOnce(context.Background())
		}()
	}
	wg.Wait()

	wins := 0
	for _, claimed := range results {
		if claimed {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("claim wins = %d, want exactly 1", wins)
	}
	if len(dispatches.reports) != 1 {
		t.Errorf("got %d reports, want 1", len(dispatches.reports))
	}
	if winner := dispatches.claims[13]; winner != a.ID() && winner != b.ID() {
		t.Errorf("claim recorded for unknown worker %q", winner)
	}
}

func TestShutdown_ReleasesClaimsAndDeregisters(t *testing.T) {
	now := time.Now().UTC()
	workers := newFakeWorkers()
	dispatches := newFakeDispatches(&domain.JobDispatch{
		ID:     14,
		JobID:  1,
		Status: domain.DispatchPending,
	})
	w := newTestWorker(t, &fakeJobs{}, dispatches, workers)

	if err := w.register(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if claimed, _ := dispatches.Claim(context.Background(), 14, w.ID(), now); !claimed {
		t.Fatal("setup claim failed")
	}

	w.shutdown()

	if dispatches.released[w.ID()] != 1 {
		t.Errorf("released %d dispatches, want 1", dispatches.released[w.ID()])
	}
	if len(workers.deleted) != 1 || workers.deleted[0] != w.ID() {
		t.Errorf("deleted workers = %v, want [%s]", workers.deleted, w.ID())
	}
	d := dispatches.pending[0]
	if d.Status != domain.DispatchPending || d.WorkerID != nil {
		t.Errorf("dispatch not returned to PENDING: status=%s worker=%v", d.Status, d.WorkerID)
	}
}
