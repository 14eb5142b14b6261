package command

import (
	"fmt"
	"strings"
)

// ExecutionError reports a program that exited with a non-zero status.
type ExecutionError struct {
	Result *Result
	Err    error
}

func (e *ExecutionError) Error() string {
	if e == nil || e.Result == nil {
		return "command failed"
	}
	msg := fmt.Sprintf("%s exited with status %d", e.Result.String(), e.Result.ExitCode)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if stderr := strings.TrimSpace(e.Result.Stderr); stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, lastLine(stderr))
	}
	return msg
}

func (e *ExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ExitCode returns the exit status, or -1 when unknown.
func (e *ExecutionError) ExitCode() int {
	if e == nil || e.Result == nil {
		return -1
	}
	return e.Result.ExitCode
}

// NotFoundError reports an executable or file that could not be located.
type NotFoundError struct {
	Name string
	Err  error
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Name)
}

func (e *NotFoundError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
