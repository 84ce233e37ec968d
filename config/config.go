package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config collects every knob of the trigger portal in one place.
// All timeouts are plain integer seconds in the environment, mirroring the
// values operators already have in their deployment manifests.
type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	DBURL string `env:"DB_URL,required" validate:"required"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	// Scheduler
	SchedulerPollIntervalSec  int `env:"SCHEDULER_POLL_INTERVAL" envDefault:"10" validate:"min=1,max=300"`
	DispatchLockDurationSec   int `env:"DISPATCH_LOCK_DURATION" envDefault:"300" validate:"min=1"`
	JobTimeoutThresholdSec    int `env:"JOB_TIMEOUT_THRESHOLD" envDefault:"600" validate:"min=1"`
	MaxRetryAttempts          int `env:"MAX_RETRY_ATTEMPTS" envDefault:"3" validate:"min=0,max=20"`
	CleanupRetentionDays      int `env:"CLEANUP_RETENTION_DAYS" envDefault:"30" validate:"min=1"`
	WorkerOfflineThresholdSec int `env:"WORKER_OFFLINE_THRESHOLD" envDefault:"180" validate:"min=1"`

	// Worker
	WorkerPollIntervalSec      int `env:"WORKER_POLL_INTERVAL" envDefault:"5" validate:"min=1"`
	WorkerMaxPollIntervalSec   int `env:"WORKER_MAX_POLL_INTERVAL" envDefault:"60" validate:"min=1"`
	WorkerHeartbeatIntervalSec int `env:"WORKER_HEARTBEAT_INTERVAL" envDefault:"30" validate:"min=1"`
	WorkerJobTimeoutSec        int `env:"WORKER_JOB_TIMEOUT" envDefault:"600" validate:"min=1"`

	// Jobs
	DisplayTimezone string `env:"DISPLAY_TIMEZONE" envDefault:"Asia/Hong_Kong" validate:"required"`
	ScriptsDir      string `env:"SCRIPTS_DIR" envDefault:"./scripts" validate:"required"`
	PythonBin       string `env:"PYTHON_BIN" envDefault:"python3"`

	// Control plane auth. Empty disables the bearer check (local dashboards).
	APITokenSecret string `env:"API_TOKEN_SECRET"`

	// Alerting on permanent failure. Empty recipient disables alerts.
	AlertEmailTo string `env:"ALERT_EMAIL_TO" validate:"omitempty,email"`
	ResendAPIKey string `env:"RESEND_API_KEY"`
	ResendFrom   string `env:"RESEND_FROM"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Warnings reports combinations that work but weaken the timeout discipline,
// e.g. a scheduler stuck-threshold shorter than the worker's execution cap.
func (c *Config) Warnings() []string {
	var w []string
	if c.JobTimeoutThresholdSec <= c.WorkerJobTimeoutSec {
		w = append(w, fmt.Sprintf(
			"JOB_TIMEOUT_THRESHOLD (%ds) does not exceed WORKER_JOB_TIMEOUT (%ds); a worker at its execution cap may report into a dispatch the scheduler already considers stuck",
			c.JobTimeoutThresholdSec, c.WorkerJobTimeoutSec))
	}
	if c.DispatchLockDurationSec >= c.JobTimeoutThresholdSec {
		w = append(w, fmt.Sprintf(
			"DISPATCH_LOCK_DURATION (%ds) is not below JOB_TIMEOUT_THRESHOLD (%ds)",
			c.DispatchLockDurationSec, c.JobTimeoutThresholdSec))
	}
	return w
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) SchedulerPollInterval() time.Duration {
	return time.Duration(c.SchedulerPollIntervalSec) * time.Second
}

func (c *Config) DispatchLockDuration() time.Duration {
	return time.Duration(c.DispatchLockDurationSec) * time.Second
}

func (c *Config) JobTimeoutThreshold() time.Duration {
	return time.Duration(c.JobTimeoutThresholdSec) * time.Second
}

func (c *Config) WorkerOfflineThreshold() time.Duration {
	return time.Duration(c.WorkerOfflineThresholdSec) * time.Second
}

func (c *Config) WorkerPollInterval() time.Duration {
	return time.Duration(c.WorkerPollIntervalSec) * time.Second
}

func (c *Config) WorkerMaxPollInterval() time.Duration {
	return time.Duration(c.WorkerMaxPollIntervalSec) * time.Second
}

func (c *Config) WorkerHeartbeatInterval() time.Duration {
	return time.Duration(c.WorkerHeartbeatIntervalSec) * time.Second
}

func (c *Config) WorkerJobTimeout() time.Duration {
	return time.Duration(c.WorkerJobTimeoutSec) * time.Second
}

func (c *Config) CleanupRetention() time.Duration {
	return time.Duration(c.CleanupRetentionDays) * 24 * time.Hour
}
