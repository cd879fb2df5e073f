package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
)

var ErrAborted = errors.New("run aborted")

// AbortedError is returned when a run ends without a Report, either because
// no scanner produced a result or because the overall deadline elapsed.
type AbortedError struct {
	RunID    string
	Reason   string
	Failures []v1alpha1.Failure
	Err      error
}

func (e *AbortedError) Error() string {
	msg := fmt.Sprintf("run %s aborted: %s", e.RunID, e.Reason)
	if len(e.Failures) > 0 {
		failures := make([]string, len(e.Failures))
		for i, f := range e.Failures {
			failures[i] = fmt.Sprintf("%s: %s", f.Scanner, f.Message)
		}
		msg = fmt.Sprintf("%s (%s)", msg, strings.Join(failures, "; "))
	}
	return msg
}

func (e *AbortedError) Is(target error) bool {
	return target == ErrAborted
}

func (e *AbortedError) Unwrap() error {
	return e.Err
}
