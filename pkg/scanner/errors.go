package scanner

import (
	"context"
	"errors"
	"fmt"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/runner"
)

var (
	ErrToolFailure  = errors.New("tool failure")
	ErrTimeout      = errors.New("tool timed out")
	ErrParseFailure = errors.New("malformed tool output")
)

// maxStderr bounds the stderr excerpt kept in a ToolFailureError.
const maxStderr = 4096

// ToolFailureError is returned when a tool exits with a nonzero code, crashes
// or cannot be started.
type ToolFailureError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolFailureError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Tool)
	if e.ExitCode != 0 {
		msg = fmt.Sprintf("%s with exit code %d", msg, e.ExitCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Stderr)
	}
	return msg
}

func (e *ToolFailureError) Is(target error) bool {
	return target == ErrToolFailure
}

func (e *ToolFailureError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when a tool did not finish before its deadline or
// was cancelled.
type TimeoutError struct {
	Tool string
	Err  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not complete: %v", e.Tool, e.Err)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// ParseError is returned when tool output cannot be decoded.
type ParseError struct {
	Tool string
	Err  error
}

func NewParseError(tool string, err error) *ParseError {
	return &ParseError{Tool: tool, Err: err}
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s output: %v", e.Tool, e.Err)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParseFailure
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Classify maps an adapter error onto the error class recorded in reports.
func Classify(err error) v1alpha1.ErrorClass {
	switch {
	case errors.Is(err, ErrParseFailure):
		return v1alpha1.ErrorClassParseFailure
	case errors.Is(err, ErrTimeout),
		errors.Is(err, runner.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return v1alpha1.ErrorClassTimeout
	default:
		return v1alpha1.ErrorClassToolFailure
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
