// Package runner executes external programs and classifies how they ended.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/larsks/bootstick/internal/failure"
)

type Status int

const (
	Success Status = iota
	Failure
	Abnormal
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Abnormal:
		return "abnormal"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the result of running one external program. ExitCode is only
// meaningful for Failure; Err is only set for Abnormal.
type Outcome struct {
	Status   Status
	ExitCode int
	Err      error
}

func (o Outcome) OK() bool {
	return o.Status == Success
}

func (o Outcome) String() string {
	switch o.Status {
	case Failure:
		return fmt.Sprintf("exit status %d", o.ExitCode)
	case Abnormal:
		return fmt.Sprintf("abnormal termination: %v", o.Err)
	default:
		return o.Status.String()
	}
}

// Runner runs external programs synchronously.
type Runner interface {
	// Run executes name with args, attached to the operator's terminal.
	Run(ctx context.Context, name string, args ...string) Outcome

	// Output executes name with args and returns what it wrote to stdout.
	Output(ctx context.Context, name string, args ...string) ([]byte, Outcome)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer

	// Timeout bounds each command when positive.
	Timeout time.Duration

	logger *logrus.Entry
}

func NewExecRunner(logger *logrus.Logger, timeout time.Duration) *ExecRunner {
	if logger == nil {
		logger = logrus.New()
	}
	return &ExecRunner{
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Timeout: timeout,
		logger:  logger.WithField("component", "runner"),
	}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) Outcome {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	cmd := command(ctx, name, args...)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	r.logger.WithFields(logrus.Fields{"command": name, "args": args}).Debug("exec")
	start := time.Now()
	outcome := Classify(cmd.Run())
	r.logOutcome(name, args, outcome, time.Since(start))
	return outcome
}

func (r *ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, Outcome) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var stdout bytes.Buffer
	cmd := command(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = r.Stderr

	r.logger.WithFields(logrus.Fields{"command": name, "args": args}).Debug("exec")
	start := time.Now()
	outcome := Classify(cmd.Run())
	r.logOutcome(name, args, outcome, time.Since(start))
	return stdout.Bytes(), outcome
}

// command starts children in their own process group so that a terminal
// interrupt reaches only bootstick, which stops between steps, and never a
// half-finished parted, mkfs.vfat or rsync.
func command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

func (r *ExecRunner) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout > 0 {
		return context.WithTimeout(ctx, r.Timeout)
	}
	return context.WithCancel(ctx)
}

func (r *ExecRunner) logOutcome(name string, args []string, outcome Outcome, elapsed time.Duration) {
	entry := r.logger.WithFields(logrus.Fields{
		"command":     name,
		"args":        args,
		"status":      outcome.Status.String(),
		"duration_ms": elapsed.Milliseconds(),
	})
	if outcome.Status == Failure {
		entry = entry.WithField("exit_code", outcome.ExitCode)
	}
	entry.Debug("exec finished")
}

// Classify maps the error returned by exec.Cmd.Run onto an Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return Outcome{Status: Success}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return Outcome{Status: Abnormal, ExitCode: -1, Err: fmt.Errorf("killed by signal %d", ws.Signal())}
		}
		if code := exitErr.ExitCode(); code >= 0 {
			return Outcome{Status: Failure, ExitCode: code}
		}
		return Outcome{Status: Abnormal, ExitCode: -1, Err: err}
	}

	return Outcome{Status: Abnormal, ExitCode: -1, Err: err}
}

// Error converts a non-successful outcome into a *failure.CommandError.
// It returns nil for Success.
func Error(name string, args []string, outcome Outcome) error {
	switch outcome.Status {
	case Success:
		return nil
	case Failure:
		return &failure.CommandError{Name: name, Args: args, ExitCode: outcome.ExitCode}
	default:
		return &failure.CommandError{Name: name, Args: args, ExitCode: -1, Cause: outcome.Err}
	}
}

// Checked runs a command and reports a diagnostic naming it when it does
// not succeed. The caller decides whether to continue, abort, or roll back.
func Checked(ctx context.Context, r Runner, logger *logrus.Entry, name string, args ...string) error {
	outcome := r.Run(ctx, name, args...)
	err := Error(name, args, outcome)
	if err != nil && logger != nil {
		logger.WithFields(logrus.Fields{
			"command": name,
			"args":    args,
			"outcome": outcome.String(),
		}).Error("command failed")
	}
	return err
}
