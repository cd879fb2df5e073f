package cmd

import "fmt"

// ExitCodeError signals a scan that completed but did not pass. The
// executable exits with Code instead of the generic error code.
type ExitCodeError struct {
	Code   int
	Failed []string
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("%d target(s) did not pass: %v", len(e.Failed), e.Failed)
}
