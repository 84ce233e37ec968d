package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tkwok/triggerd/internal/domain"
)

// ExecResult is everything the reporting step needs about one script run.
type ExecResult struct {
	Status       domain.ExecutionStatus
	LogOutput    string
	ErrorMessage *string
	Duration     time.Duration
}

// Executor runs job scripts as subprocesses with a hard wall-clock timeout.
type Executor struct {
	scriptsDir string
	pythonBin  string
	timeout    time.Duration
	logger     *slog.Logger
}

func NewExecutor(scriptsDir, pythonBin string, timeout time.Duration, logger *slog.Logger) *Executor {
	return &Executor{
		scriptsDir: scriptsDir,
		pythonBin:  pythonBin,
		timeout:    timeout,
		logger:     logger.With("component", "executor"),
	}
}

// resolveCommand picks the interpreter from the script extension. Unknown
// extensions are executed directly and rely on the file being executable.
func (e *Executor) resolveCommand(scriptPath string, args []string) (string, []string) {
	switch strings.ToLower(filepath.Ext(scriptPath)) {
	case ".py":
		return e.pythonBin, append([]string{scriptPath}, args...)
	case ".sh":
		return "/bin/bash", append([]string{scriptPath}, args...)
	case ".bat":
		return "cmd.exe", append([]string{"/c", scriptPath}, args...)
	default:
		return scriptPath, args
	}
}

// Execute runs the job's script and classifies the outcome. The process is
// killed once the timeout elapses; a missing script or a spawn failure is
// ERROR rather than FAILURE since the script itself never ran.
func (e *Executor) Execute(ctx context.Context, job *domain.ScheduledJob) ExecResult {
	scriptPath := job.ScriptPath
	if !filepath.IsAbs(scriptPath) {
		scriptPath = filepath.Join(e.scriptsDir, scriptPath)
	}

	if _, err := os.Stat(scriptPath); err != nil {
		msg := fmt.Sprintf("Script not found: %s", scriptPath)
		return ExecResult{
			Status:       domain.ExecError,
			LogOutput:    msg,
			ErrorMessage: &msg,
		}
	}

	var args []string
	if job.ScriptArgs != nil {
		args = strings.Fields(*job.ScriptArgs)
	}
	name, argv := e.resolveCommand(scriptPath, args)

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, name, argv...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Info("executing script", "job_id", job.ID, "command", name, "args", argv)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	logOutput := formatLogOutput(stdout.String(), stderr.String())

	if runCtx.Err() == context.DeadlineExceeded {
		msg := fmt.Sprintf("Execution timed out after %d seconds", int(e.timeout.Seconds()))
		return ExecResult{
			Status:       domain.ExecFailure,
			LogOutput:    logOutput + "\n\n" + msg,
			ErrorMessage: &msg,
			Duration:     elapsed,
		}
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := fmt.Sprintf("Script exited with code %d", exitErr.ExitCode())
			return ExecResult{
				Status:       domain.ExecFailure,
				LogOutput:    fmt.Sprintf("%s\n\nExit Code: %d", logOutput, exitErr.ExitCode()),
				ErrorMessage: &msg,
				Duration:     elapsed,
			}
		}
		msg := fmt.Sprintf("Failed to start script: %v", err)
		return ExecResult{
			Status:       domain.ExecError,
			LogOutput:    msg,
			ErrorMessage: &msg,
			Duration:     elapsed,
		}
	}

	return ExecResult{
		Status:    domain.ExecSuccess,
		LogOutput: logOutput,
		Duration:  elapsed,
	}
}

func formatLogOutput(stdout, stderr string) string {
	return fmt.Sprintf("STDOUT:\n%s\n\nSTDERR:\n%s", stdout, stderr)
}
