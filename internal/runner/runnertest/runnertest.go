// Package runnertest provides a scripted runner.Runner for tests.
package runnertest

import (
	"context"
	"strings"
	"sync"

	"github.com/larsks/bootstick/internal/runner"
)

type Call struct {
	Name string
	Args []string
}

func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

type rule struct {
	prefix string
	handle func(Call) ([]byte, runner.Outcome)
}

// Fake records every command and answers with the most recently registered
// rule whose prefix matches the command line. Unmatched commands succeed
// with no output.
type Fake struct {
	mu    sync.Mutex
	calls []Call
	rules []rule
}

func New() *Fake {
	return &Fake{}
}

// Fail makes commands starting with prefix exit with code.
func (f *Fake) Fail(prefix string, code int) {
	f.Handle(prefix, func(Call) ([]byte, runner.Outcome) {
		return nil, runner.Outcome{Status: runner.Failure, ExitCode: code}
	})
}

// Respond makes commands starting with prefix succeed and print output.
func (f *Fake) Respond(prefix, output string) {
	f.Handle(prefix, func(Call) ([]byte, runner.Outcome) {
		return []byte(output), runner.Outcome{Status: runner.Success}
	})
}

// Hook runs fn for commands starting with prefix and reports success.
func (f *Fake) Hook(prefix string, fn func(Call)) {
	f.Handle(prefix, func(c Call) ([]byte, runner.Outcome) {
		fn(c)
		return nil, runner.Outcome{Status: runner.Success}
	})
}

func (f *Fake) Handle(prefix string, fn func(Call) ([]byte, runner.Outcome)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{prefix: prefix, handle: fn})
}

func (f *Fake) Run(ctx context.Context, name string, args ...string) runner.Outcome {
	_, outcome := f.dispatch(name, args)
	return outcome
}

func (f *Fake) Output(ctx context.Context, name string, args ...string) ([]byte, runner.Outcome) {
	return f.dispatch(name, args)
}

func (f *Fake) dispatch(name string, args []string) ([]byte, runner.Outcome) {
	call := Call{Name: name, Args: append([]string(nil), args...)}
	line := call.String()

	f.mu.Lock()
	f.calls = append(f.calls, call)
	var handle func(Call) ([]byte, runner.Outcome)
	for i := len(f.rules) - 1; i >= 0; i-- {
		if strings.HasPrefix(line, f.rules[i].prefix) {
			handle = f.rules[i].handle
			break
		}
	}
	f.mu.Unlock()

	if handle == nil {
		return nil, runner.Outcome{Status: runner.Success}
	}
	return handle(call)
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Commands returns the recorded command lines in order.
func (f *Fake) Commands() []string {
	calls := f.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.String()
	}
	return lines
}

// Count returns how many recorded commands start with prefix.
func (f *Fake) Count(prefix string) int {
	n := 0
	for _, line := range f.Commands() {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}

// Index returns the position of the first recorded command starting with
// prefix, or -1.
func (f *Fake) Index(prefix string) int {
	for i, line := range f.Commands() {
		if strings.HasPrefix(line, prefix) {
			return i
		}
	}
	return -1
}

// Reset forgets recorded calls but keeps the rules.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}
