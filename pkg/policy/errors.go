package policy

import "fmt"

// Error reports a rule whose predicate could not be evaluated against a
// resource. It is recorded as a Verdict with outcome Error, never as a Fail.
type Error struct {
	Rule     string
	Resource string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("evaluating rule %s against %s: %v", e.Rule, e.Resource, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
