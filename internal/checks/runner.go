// Package checks executes verification checks as shell commands. A check
// that fails is a data outcome, never an error; the runner always returns a
// result the evidence store can persist.
package checks

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/exiw-ai/proofloop/pkg/models"
)

// DefaultTimeout bounds a check that carries no timeout of its own.
const DefaultTimeout = 5 * time.Minute

// Runner runs check commands through the shell.
type Runner struct {
	Shell string // defaults to /bin/sh
}

// Run executes one check. The check's own cwd wins over the fallback cwd.
// Timeouts and spawn failures come back as FAIL with exit code -1.
func (r Runner) Run(ctx context.Context, check models.CheckSpec, cwd string) models.CheckRunResult {
	start := time.Now().UTC()
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	workDir := check.Cwd
	if workDir == "" {
		workDir = cwd
	}

	cmd := exec.CommandContext(ctx, shell, "-c", check.Command)
	cmd.Dir = workDir
	cmd.Env = os.Environ()
	for k, v := range check.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	duration := time.Since(start)

	result := models.CheckRunResult{
		CheckID:   check.ID,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  duration,
		Timestamp: start,
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		slog.Warn("check timed out", "check", check.Name, "timeout", timeout)
		result.Status = models.CheckFail
		result.ExitCode = -1
		result.Stderr = "Timeout after " + timeout.String()
	case err == nil:
		result.Status = models.CheckPass
		result.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// Spawn failure, not a command result.
			slog.Error("check failed to run", "check", check.Name, "err", err)
			result.ExitCode = -1
			result.Stderr = err.Error()
		}
		result.Status = models.CheckFail
	}
	return result
}
