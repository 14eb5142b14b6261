// Package command runs external programs and reports their exit status and output.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Result captures execution details for a finished command.
type Result struct {
	Command  []string      `json:"command"`
	Workdir  string        `json:"workdir,omitempty"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Runner executes one external program synchronously.
type Runner interface {
	// Run blocks until the program exits or the timeout elapses. A zero
	// timeout means no limit. A non-zero exit yields *ExecutionError and a
	// missing executable yields *NotFoundError.
	Run(ctx context.Context, executable string, args []string, timeout time.Duration) (*Result, error)

	// LookPath resolves an executable name to a path.
	LookPath(executable string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	workdir string
}

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithWorkdir sets the working directory for launched programs.
func WithWorkdir(dir string) Option {
	return func(r *ExecRunner) {
		r.workdir = dir
	}
}

// NewExecRunner creates a runner backed by os/exec.
func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LookPath resolves executable on PATH, or checks it directly when it contains a separator.
func (r *ExecRunner) LookPath(executable string) (string, error) {
	path, err := exec.LookPath(executable)
	if err != nil {
		return "", &NotFoundError{Name: executable, Err: err}
	}
	return path, nil
}

// Run launches executable with args and waits for it.
func (r *ExecRunner) Run(ctx context.Context, executable string, args []string, timeout time.Duration) (*Result, error) {
	if executable == "" {
		return nil, fmt.Errorf("command requires an executable")
	}
	if _, err := r.LookPath(executable); err != nil {
		return nil, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, executable, args...)
	if r.workdir != "" {
		cmd.Dir = r.workdir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Command:  append([]string{executable}, args...),
		Workdir:  r.workdir,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			result.ExitCode = -1
			return result, &ExecutionError{Result: result, Err: ctxErr}
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			if errors.Is(err, exec.ErrNotFound) {
				return nil, &NotFoundError{Name: executable, Err: err}
			}
			return nil, fmt.Errorf("run %s: %w", executable, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	if result.ExitCode != 0 {
		return result, &ExecutionError{Result: result}
	}
	return result, nil
}

// String renders the command line for log messages.
func (r *Result) String() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.Command, " ")
}
