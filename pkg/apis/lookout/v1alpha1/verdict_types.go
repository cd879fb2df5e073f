package v1alpha1

// Outcome of evaluating one policy rule against one resource.
// +enum
type Outcome string

const (
	OutcomePass  Outcome = "Pass"
	OutcomeFail  Outcome = "Fail"
	OutcomeError Outcome = "Error"
)

// Verdict is the result of one rule applied to one resource.
type Verdict struct {
	// Rule is the name of a loaded rule.
	Rule string `json:"rule"`

	// Resource identifies the evaluated resource as kind/namespace/name.
	Resource string   `json:"resource"`
	Outcome  Outcome  `json:"outcome"`
	Severity Severity `json:"severity"`
	Category string   `json:"category,omitempty"`
	Evidence []string `json:"evidence,omitempty"`
}

type VerdictSummary struct {
	PassCount  int `json:"passCount"`
	FailCount  int `json:"failCount"`
	ErrorCount int `json:"errorCount"`
}

// SummarizeVerdicts counts verdicts by outcome.
func SummarizeVerdicts(verdicts []Verdict) VerdictSummary {
	var s VerdictSummary
	for _, v := range verdicts {
		switch v.Outcome {
		case OutcomePass:
			s.PassCount++
		case OutcomeFail:
			s.FailCount++
		case OutcomeError:
			s.ErrorCount++
		}
	}
	return s
}
