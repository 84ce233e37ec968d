package config_test

import (
	"strings"
	"testing"

	"github.com/tkwok/triggerd/config"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_URL", "postgres://localhost:5432/triggerd_test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Env != "local" {
		t.Errorf("Env = %q, want local", cfg.Env)
	}
	if cfg.SchedulerPollIntervalSec != 10 {
		t.Errorf("SchedulerPollIntervalSec = %d, want 10", cfg.SchedulerPollIntervalSec)
	}
	if cfg.DispatchLockDurationSec != 300 {
		t.Errorf("DispatchLockDurationSec = %d, want 300", cfg.DispatchLockDurationSec)
	}
	if cfg.JobTimeoutThresholdSec != 600 {
		t.Errorf("JobTimeoutThresholdSec = %d, want 600", cfg.JobTimeoutThresholdSec)
	}
	if cfg.MaxRetryAttempts != 3 {
		t.Errorf("MaxRetryAttempts = %d, want 3", cfg.MaxRetryAttempts)
	}
	if cfg.WorkerOfflineThresholdSec != 180 {
		t.Errorf("WorkerOfflineThresholdSec = %d, want 180", cfg.WorkerOfflineThresholdSec)
	}
	if cfg.DisplayTimezone != "Asia/Hong_Kong" {
		t.Errorf("DisplayTimezone = %q, want Asia/Hong_Kong", cfg.DisplayTimezone)
	}
	// The documented defaults leave the stuck threshold equal to the worker
	// execution cap, which is itself warned about.
	warnings := cfg.Warnings()
	if len(warnings) != 1 || !strings.Contains(warnings[0], "JOB_TIMEOUT_THRESHOLD") {
		t.Errorf("Warnings() = %v, want one about JOB_TIMEOUT_THRESHOLD", warnings)
	}
}

func TestLoad_EmptyDBURL(t *testing.T) {
	t.Setenv("DB_URL", "")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for empty DB_URL")
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("ENV", "canary")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected validation error for ENV=canary")
	}
}

func TestWarnings_ThresholdBelowWorkerTimeout(t *testing.T) {
	setRequired(t)
	t.Setenv("JOB_TIMEOUT_THRESHOLD", "60")
	t.Setenv("WORKER_JOB_TIMEOUT", "600")
	t.Setenv("DISPATCH_LOCK_DURATION", "30")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	warnings := cfg.Warnings()
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", warnings)
	}
	if !strings.Contains(warnings[0], "JOB_TIMEOUT_THRESHOLD") {
		t.Errorf("warning %q does not mention JOB_TIMEOUT_THRESHOLD", warnings[0])
	}
}

func TestWarnings_ThresholdEqualToWorkerTimeout(t *testing.T) {
	setRequired(t)
	t.Setenv("JOB_TIMEOUT_THRESHOLD", "600")
	t.Setenv("WORKER_JOB_TIMEOUT", "600")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	warnings := cfg.Warnings()
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", warnings)
	}
	if !strings.Contains(warnings[0], "does not exceed WORKER_JOB_TIMEOUT") {
		t.Errorf("warning %q does not flag the equal threshold", warnings[0])
	}
}

func TestWarnings_ThresholdAboveWorkerTimeoutIsClean(t *testing.T) {
	setRequired(t)
	t.Setenv("JOB_TIMEOUT_THRESHOLD", "900")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if warnings := cfg.Warnings(); len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
}

func TestWarnings_LockNotBelowThreshold(t *testing.T) {
	setRequired(t)
	t.Setenv("WORKER_JOB_TIMEOUT", "300")
	t.Setenv("DISPATCH_LOCK_DURATION", "600")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	warnings := cfg.Warnings()
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", warnings)
	}
	if !strings.Contains(warnings[0], "DISPATCH_LOCK_DURATION") {
		t.Errorf("warning %q does not mention DISPATCH_LOCK_DURATION", warnings[0])
	}
}
