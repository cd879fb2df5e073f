package findings

import (
	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
)

// Summarize counts findings per severity and per kind.
func Summarize(findings []v1alpha1.Finding) v1alpha1.FindingSummary {
	s := v1alpha1.FindingSummary{
		Total:  len(findings),
		ByKind: make(map[v1alpha1.FindingKind]int),
	}
	for _, f := range findings {
		switch f.Severity {
		case v1alpha1.SeverityCritical:
			s.CriticalCount++
		case v1alpha1.SeverityHigh:
			s.HighCount++
		case v1alpha1.SeverityMedium:
			s.MediumCount++
		case v1alpha1.SeverityLow:
			s.LowCount++
		default:
			s.UnknownCount++
		}
		if f.ConfirmedExploited {
			s.ConfirmedExploitedCount++
		}
		s.ByKind[f.Kind]++
	}
	return s
}

// FilterBySeverity returns the findings at or above threshold.
func FilterBySeverity(findings []v1alpha1.Finding, threshold v1alpha1.Severity) []v1alpha1.Finding {
	var out []v1alpha1.Finding
	for _, f := range findings {
		if f.Severity.AtLeast(threshold) {
			out = append(out, f)
		}
	}
	return out
}
