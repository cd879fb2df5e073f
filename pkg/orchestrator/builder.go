package orchestrator

import (
	"time"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/findings"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Builder assembles a Report in one step once every part is known.
type Builder interface {
	RunID(id string) Builder
	Target(target v1alpha1.Target) Builder
	Timestamp(t time.Time) Builder
	Status(status v1alpha1.RunStatus) Builder
	Scanners(scanners []v1alpha1.ScannerResult) Builder
	Findings(findings []v1alpha1.Finding) Builder
	Verdicts(verdicts []v1alpha1.Verdict) Builder
	Scores(scores []v1alpha1.Score) Builder
	Failures(failures []v1alpha1.Failure) Builder
	SeverityThreshold(threshold v1alpha1.Severity) Builder
	RuleSetHash(hash string) Builder
	Get() v1alpha1.Report
}

func NewBuilder() Builder {
	return &builder{
		threshold: v1alpha1.SeverityHigh,
	}
}

type builder struct {
	report    v1alpha1.Report
	threshold v1alpha1.Severity
}

func (b *builder) RunID(id string) Builder {
	b.report.RunID = id
	return b
}

func (b *builder) Target(target v1alpha1.Target) Builder {
	b.report.Target = target
	return b
}

func (b *builder) Timestamp(t time.Time) Builder {
	b.report.UpdateTimestamp = metav1.NewTime(t)
	return b
}

func (b *builder) Status(status v1alpha1.RunStatus) Builder {
	b.report.Status = status
	return b
}

func (b *builder) Scanners(scanners []v1alpha1.ScannerResult) Builder {
	b.report.Scanners = scanners
	return b
}

func (b *builder) Findings(findings []v1alpha1.Finding) Builder {
	b.report.Findings = findings
	return b
}

func (b *builder) Verdicts(verdicts []v1alpha1.Verdict) Builder {
	b.report.Verdicts = verdicts
	return b
}

func (b *builder) Scores(scores []v1alpha1.Score) Builder {
	b.report.Scores = scores
	return b
}

func (b *builder) Failures(failures []v1alpha1.Failure) Builder {
	b.report.Failures = failures
	return b
}

func (b *builder) SeverityThreshold(threshold v1alpha1.Severity) Builder {
	b.threshold = threshold
	return b
}

func (b *builder) RuleSetHash(hash string) Builder {
	b.report.RuleSetHash = hash
	return b
}

// Get returns the report with its summary and overall verdict. Empty
// collections are never nil so that they encode as empty lists.
func (b *builder) Get() v1alpha1.Report {
	report := b.report
	if report.Scanners == nil {
		report.Scanners = []v1alpha1.ScannerResult{}
	}
	if report.Findings == nil {
		report.Findings = []v1alpha1.Finding{}
	}
	if report.Verdicts == nil {
		report.Verdicts = []v1alpha1.Verdict{}
	}
	if report.Scores == nil {
		report.Scores = []v1alpha1.Score{}
	}
	report.Summary = v1alpha1.ReportSummary{
		Findings:          findings.Summarize(report.Findings),
		Verdicts:          v1alpha1.SummarizeVerdicts(report.Verdicts),
		SeverityThreshold: b.threshold,
	}
	report.Pass = Pass(report, b.threshold)
	return report
}

// Pass is the overall verdict of a report: the run completed, no finding
// and no failed rule reaches the threshold, and every framework passes
// without indeterminate checks. Rules that could not be evaluated never count
// as passed; unless a framework maps them they only show in the summary.
func Pass(report v1alpha1.Report, threshold v1alpha1.Severity) bool {
	if report.Status != v1alpha1.RunStatusCompleted {
		return false
	}
	if len(findings.FilterBySeverity(report.Findings, threshold)) > 0 {
		return false
	}
	for _, v := range report.Verdicts {
		if v.Outcome == v1alpha1.OutcomeFail && v.Severity.AtLeast(threshold) {
			return false
		}
	}
	for _, s := range report.Scores {
		if !s.Pass || s.Indeterminate {
			return false
		}
	}
	return true
}
