package policy

import (
	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/findings"
	"github.com/emirpasic/gods/sets/hashset"
)

// NewFindingsDocument summarizes findings into the document rules see as
// input.findings (expressions) or data.lookout.findings (Rego modules).
//
// Only kinds reported by a successful scanner are present under byKind, and
// confirmedExploited is only present when vulnerabilities are covered, so
// that rules reading counts nobody produced are undefined rather than zero.
// The covered kinds are listed under covered. A nil coverage covers every
// kind.
func NewFindingsDocument(all []v1alpha1.Finding, coverage []v1alpha1.FindingKind) map[string]interface{} {
	covered := hashset.New()
	if coverage == nil {
		for _, kind := range v1alpha1.FindingKinds {
			covered.Add(kind)
		}
	}
	for _, kind := range coverage {
		covered.Add(kind)
	}

	document := counts(findings.Summarize(all))
	if !covered.Contains(v1alpha1.FindingKindVulnerability) {
		delete(document, "confirmedExploited")
	}

	kinds := make([]interface{}, 0, covered.Size())
	byKind := make(map[string]interface{}, covered.Size())
	grouped := make(map[v1alpha1.FindingKind][]v1alpha1.Finding)
	for _, f := range all {
		grouped[f.Kind] = append(grouped[f.Kind], f)
	}
	for _, kind := range v1alpha1.FindingKinds {
		if !covered.Contains(kind) {
			continue
		}
		kinds = append(kinds, string(kind))
		byKind[string(kind)] = counts(findings.Summarize(grouped[kind]))
	}
	document["byKind"] = byKind
	document["covered"] = kinds
	return document
}

func counts(s v1alpha1.FindingSummary) map[string]interface{} {
	return map[string]interface{}{
		"total":              s.Total,
		"critical":           s.CriticalCount,
		"high":               s.HighCount,
		"medium":             s.MediumCount,
		"low":                s.LowCount,
		"unknown":            s.UnknownCount,
		"confirmedExploited": s.ConfirmedExploitedCount,
	}
}
