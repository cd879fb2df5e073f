package v1alpha1

// CheckStatus of a single compliance framework check.
// +enum
type CheckStatus string

const (
	CheckStatusPass          CheckStatus = "Pass"
	CheckStatusFail          CheckStatus = "Fail"
	CheckStatusIndeterminate CheckStatus = "Indeterminate"
	CheckStatusNotApplicable CheckStatus = "NotApplicable"
)

// IsDeterminate reports whether the status takes part in the score.
func (s CheckStatus) IsDeterminate() bool {
	return s == CheckStatusPass || s == CheckStatusFail
}

type CheckResult struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Weight float64     `json:"weight"`
	Status CheckStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

// Score is the weighted compliance score of a framework.
type Score struct {
	Framework string `json:"framework"`
	Version   string `json:"version,omitempty"`

	// Value is in the range [0, 100].
	Value     float64 `json:"value"`
	PassScore float64 `json:"passScore"`
	Pass      bool    `json:"pass"`

	// Indeterminate is set when no check of the framework was determinate or
	// when any check is indeterminate.
	Indeterminate bool `json:"indeterminate,omitempty"`

	PassCount          int           `json:"passCount"`
	FailCount          int           `json:"failCount"`
	IndeterminateCount int           `json:"indeterminateCount"`
	Checks             []CheckResult `json:"checks"`
}
