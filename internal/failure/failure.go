// Package failure defines the error kinds reported by bootstick.
//
// Every error returned by the core wraps exactly one of the sentinel kinds
// below, so callers can classify an outcome with errors.Is regardless of how
// much context has been added on the way up.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidImage      = errors.New("invalid image")
	ErrInsufficientSpace = errors.New("insufficient space")
	ErrCommandFailed     = errors.New("external command failed")
	ErrMountFailed       = errors.New("mount failed")
	ErrFormatFailed      = errors.New("format failed")
	ErrCopyFailed        = errors.New("copy failed")
	ErrRollbackFailed    = errors.New("rollback failed")
	ErrCancelled         = errors.New("cancelled")
)

// CommandError describes an external command that did not exit cleanly.
type CommandError struct {
	Name string
	Args []string

	// ExitCode is the program's exit status. It is -1 when the program was
	// killed by a signal or could not be started, in which case Cause holds
	// the reason.
	ExitCode int
	Cause    error
}

func (e *CommandError) CommandLine() string {
	return strings.TrimSpace(e.Name + " " + strings.Join(e.Args, " "))
}

func (e *CommandError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("command %q exited with status %d", e.CommandLine(), e.ExitCode)
	}
	return fmt.Sprintf("command %q terminated abnormally: %v", e.CommandLine(), e.Cause)
}

func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}

func (e *CommandError) Unwrap() error {
	return e.Cause
}

// StepError attributes a failure to a named pipeline step.
type StepError struct {
	Step string
	Kind error
	Err  error
}

func NewStepError(step string, kind, err error) *StepError {
	return &StepError{Step: step, Kind: kind, Err: err}
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Step, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// SpaceError reports an image/device pair rejected by the space gate.
// When one of the sizes could not be read, Cause is set and the
// corresponding size is zero.
type SpaceError struct {
	Image      string
	Device     string
	ImageSize  int64
	DeviceSize int64
	Cause      error
}

func (e *SpaceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cannot compare %s with %s: %v", e.Image, e.Device, e.Cause)
	}
	return fmt.Sprintf("%s (%d bytes) does not fit on %s (%d bytes)",
		e.Image, e.ImageSize, e.Device, e.DeviceSize)
}

func (e *SpaceError) Is(target error) bool {
	return target == ErrInsufficientSpace
}

func (e *SpaceError) Unwrap() error {
	return e.Cause
}

// RollbackError carries the failure that triggered a rollback together with
// the releases that did not succeed. Cause stays the primary error: Kind
// reports its kind, not ErrRollbackFailed.
type RollbackError struct {
	Cause    error
	Failures []error
}

func (e *RollbackError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%v (rollback incomplete: %s)", e.Cause, strings.Join(msgs, "; "))
}

func (e *RollbackError) Unwrap() []error {
	return append([]error{e.Cause, ErrRollbackFailed}, e.Failures...)
}

// Kind returns the sentinel kind wrapped by err, or nil if err carries none.
func Kind(err error) error {
	for _, kind := range []error{
		ErrCancelled,
		ErrNotFound,
		ErrInvalidImage,
		ErrInsufficientSpace,
		ErrMountFailed,
		ErrFormatFailed,
		ErrCopyFailed,
		ErrRollbackFailed,
		ErrCommandFailed,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
