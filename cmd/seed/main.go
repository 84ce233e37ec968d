// seed writes a few sample scripts into SCRIPTS_DIR and inserts demo jobs
// covering every schedule kind into the local dev database.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/tkwok/triggerd/internal/domain"
	"github.com/tkwok/triggerd/internal/infrastructure/postgres"
)

type scriptSpec struct {
	name string
	body string
}

var scripts = []scriptSpec{
	{"hello.sh", "#!/bin/bash\necho \"hello from $(hostname) at $(date -u)\"\n"},
	{"flaky.sh", "#!/bin/bash\n# fails roughly half the time\nexit $((RANDOM % 2))\n"},
	{"slow.py", "import time\nprint(\"sleeping\")\ntime.sleep(15)\nprint(\"done\")\n"},
	{"report.py", "import sys\nprint(\"args:\", sys.argv[1:])\n"},
}

type jobSpec struct {
	name         string
	script       string
	args         *string
	intervalSec  int
	scheduleType domain.ScheduleType
	scheduleTime *string
	scheduleDay  *int
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

var jobs = []jobSpec{
	// Interval jobs, the bread and butter
	{name: "heartbeat-echo", script: "hello.sh", intervalSec: 60, scheduleType: domain.ScheduleInterval},
	{name: "flaky-retry-demo", script: "flaky.sh", intervalSec: 120, scheduleType: domain.ScheduleInterval},
	{name: "slow-burner", script: "slow.py", intervalSec: 300, scheduleType: domain.ScheduleInterval},

	// Calendar jobs (times stored in UTC)
	{name: "hourly-report", script: "report.py", args: strPtr("--mode hourly"), scheduleType: domain.ScheduleHourly, scheduleTime: strPtr("00:15")},
	{name: "daily-digest", script: "report.py", args: strPtr("--mode daily"), scheduleType: domain.ScheduleDaily, scheduleTime: strPtr("01:00")},
	{name: "weekly-cleanup", script: "hello.sh", scheduleType: domain.ScheduleWeekly, scheduleTime: strPtr("18:00"), scheduleDay: intPtr(6)},
	{name: "month-end-close", script: "report.py", args: strPtr("--mode monthly"), scheduleType: domain.ScheduleMonthly, scheduleTime: strPtr("02:30"), scheduleDay: intPtr(31)},

	// Manual, only runs via the dashboard's Run Now
	{name: "on-demand-check", script: "hello.sh", scheduleType: domain.ScheduleManual},
}

func main() {
	_ = godotenv.Load()
	ctx := context.Background()

	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		log.Fatal("DB_URL is not set")
	}
	scriptsDir := os.Getenv("SCRIPTS_DIR")
	if scriptsDir == "" {
		scriptsDir = "./scripts"
	}

	if err := os.MkdirAll(scriptsDir, 0o755); err != nil {
		log.Fatalf("scripts dir: %v", err)
	}
	for _, s := range scripts {
		path := filepath.Join(scriptsDir, s.name)
		if err := os.WriteFile(path, []byte(s.body), 0o755); err != nil {
			log.Fatalf("write %s: %v", s.name, err)
		}
		log.Printf("wrote %s", path)
	}

	pool, err := postgres.NewPool(ctx, dbURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	repo := postgres.NewJobRepository(pool)
	now := time.Now().UTC()

	for _, j := range jobs {
		job := &domain.ScheduledJob{
			Name:            j.name,
			ScriptPath:      j.script,
			ScriptArgs:      j.args,
			IntervalSeconds: j.intervalSec,
			ScheduleType:    j.scheduleType,
			ScheduleTime:    j.scheduleTime,
			ScheduleDay:     j.scheduleDay,
			IsActive:        true,
		}
		if j.scheduleType != domain.ScheduleManual {
			job.NextRun = &now
		}

		created, err := repo.Create(ctx, job)
		if err != nil {
			log.Fatalf("insert %s: %v", j.name, err)
		}
		log.Printf("created job %d: %s", created.ID, created.Name)
	}

	log.Printf("seeded %d jobs", len(jobs))
}
