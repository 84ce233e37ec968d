package domain_test

import (
	"strings"
	"testing"
	"time"

	"github.com/tkwok/triggerd/internal/domain"
)

func TestDispatchStatus_Terminal(t *testing.T) {
	terminal := []domain.DispatchStatus{domain.DispatchCompleted, domain.DispatchFailed, domain.DispatchTimeout}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false", s)
		}
	}
	for _, s := range []domain.DispatchStatus{domain.DispatchPending, domain.DispatchInProgress} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true", s)
		}
	}
}

func TestTruncateError(t *testing.T) {
	short := "boom"
	if got := domain.TruncateError(short); got != short {
		t.Errorf("TruncateError(%q) = %q", short, got)
	}

	long := strings.Repeat("x", 600)
	got := domain.TruncateError(long)
	if len(got) != domain.ErrorMessageLimit {
		t.Errorf("len = %d, want %d", len(got), domain.ErrorMessageLimit)
	}
}

func TestWorkerRegistration_Live(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	threshold := 180 * time.Second

	w := &domain.WorkerRegistration{LastHeartbeat: now.Add(-time.Minute)}
	if !w.Live(now, threshold) {
		t.Error("recent heartbeat reported dead")
	}

	w.LastHeartbeat = now.Add(-4 * time.Minute)
	if w.Live(now, threshold) {
		t.Error("stale heartbeat reported live")
	}
}
