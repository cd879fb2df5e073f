package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// RunStatus is the lifecycle state of an analysis run.
// +enum
type RunStatus string

const (
	RunStatusPending         RunStatus = "Pending"
	RunStatusRunning         RunStatus = "Running"
	RunStatusCompleted       RunStatus = "Completed"
	RunStatusPartiallyFailed RunStatus = "PartiallyFailed"
	RunStatusAborted         RunStatus = "Aborted"
)

// IsTerminal reports whether no transition leaves the status.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusPartiallyFailed || s == RunStatusAborted
}

// ErrorClass classifies why a scanner did not contribute findings.
// +enum
type ErrorClass string

const (
	ErrorClassToolFailure  ErrorClass = "ToolFailure"
	ErrorClassTimeout      ErrorClass = "Timeout"
	ErrorClassParseFailure ErrorClass = "ParseFailure"
)

type ScannerOutcome string

const (
	ScannerOutcomeSucceeded ScannerOutcome = "Succeeded"
	ScannerOutcomeFailed    ScannerOutcome = "Failed"
)

// ScannerResult records how one scanner did within a run.
type ScannerResult struct {
	Scanner      `json:",inline"`
	Outcome      ScannerOutcome  `json:"outcome"`
	FindingCount int             `json:"findingCount"`
	Duration     metav1.Duration `json:"duration"`
}

// Failure is a scanner failure recorded in a report.
type Failure struct {
	Scanner string     `json:"scanner"`
	Class   ErrorClass `json:"class"`
	Message string     `json:"message"`
}

type ReportSummary struct {
	Findings          FindingSummary `json:"findings"`
	Verdicts          VerdictSummary `json:"verdicts"`
	SeverityThreshold Severity       `json:"severityThreshold"`
}

// Report is the result of one analysis run. It is assembled once all
// scanners finished and never exposed partially built.
type Report struct {
	RunID           string          `json:"runID"`
	Target          Target          `json:"target"`
	UpdateTimestamp metav1.Time     `json:"updateTimestamp"`
	Status          RunStatus       `json:"status"`
	Scanners        []ScannerResult `json:"scanners"`
	Findings        []Finding       `json:"findings"`
	Verdicts        []Verdict       `json:"verdicts"`
	Scores          []Score         `json:"scores"`
	Failures        []Failure       `json:"failures,omitempty"`
	Summary         ReportSummary   `json:"summary"`
	Pass            bool            `json:"pass"`
	RuleSetHash     string          `json:"ruleSetHash,omitempty"`
}
