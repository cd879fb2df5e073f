package compliance

import (
	"fmt"
	"strings"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/emirpasic/gods/sets/hashset"
)

// Mapper decides a check on one kind of evidence.
type Mapper interface {
	// mapCheck returns the status of the check and the reason for it. It
	// returns false when the mapping holds nothing this Mapper decides on.
	mapCheck(mapping Mapping) (v1alpha1.CheckStatus, string, bool)
}

// verdictMapper decides checks on the verdicts of mapped rules.
type verdictMapper struct {
	byRule map[string][]v1alpha1.Verdict
}

func newVerdictMapper(all []v1alpha1.Verdict) *verdictMapper {
	byRule := make(map[string][]v1alpha1.Verdict)
	for _, v := range all {
		byRule[v.Rule] = append(byRule[v.Rule], v)
	}
	return &verdictMapper{byRule: byRule}
}

func (m *verdictMapper) mapCheck(mapping Mapping) (v1alpha1.CheckStatus, string, bool) {
	if len(mapping.Rules) == 0 {
		return "", "", false
	}
	var failed, errored []string
	total := 0
	for _, rule := range mapping.Rules {
		for _, v := range m.byRule[rule] {
			total++
			switch v.Outcome {
			case v1alpha1.OutcomeFail:
				failed = append(failed, v.Rule+" on "+v.Resource)
			case v1alpha1.OutcomeError:
				errored = append(errored, v.Rule+" on "+v.Resource)
			}
		}
	}
	switch {
	case len(failed) > 0:
		return v1alpha1.CheckStatusFail, "failed: " + strings.Join(failed, ", "), true
	case len(errored) > 0:
		return v1alpha1.CheckStatusIndeterminate, "could not evaluate: " + strings.Join(errored, ", "), true
	case total == 0:
		return v1alpha1.CheckStatusNotApplicable, "no resources matched the mapped rules", true
	default:
		return v1alpha1.CheckStatusPass, "", true
	}
}

// findingMapper decides checks on findings of mapped kinds. Kinds outside the
// coverage were not reported by any successful scanner, so their absence
// proves nothing. Kinds no launched scanner produces are not applicable.
type findingMapper struct {
	byKind    map[v1alpha1.FindingKind][]v1alpha1.Finding
	coverage  *hashset.Set
	attempted *hashset.Set
}

func newFindingMapper(all []v1alpha1.Finding, coverage, attempted *hashset.Set) *findingMapper {
	byKind := make(map[v1alpha1.FindingKind][]v1alpha1.Finding)
	for _, f := range all {
		byKind[f.Kind] = append(byKind[f.Kind], f)
	}
	return &findingMapper{byKind: byKind, coverage: coverage, attempted: attempted}
}

func (m *findingMapper) covers(kind v1alpha1.FindingKind) bool {
	return m.coverage == nil || m.coverage.Contains(kind)
}

func (m *findingMapper) attempts(kind v1alpha1.FindingKind) bool {
	if m.attempted == nil || m.attempted.Contains(kind) {
		return true
	}
	return m.coverage != nil && m.coverage.Contains(kind)
}

func (m *findingMapper) mapCheck(mapping Mapping) (v1alpha1.CheckStatus, string, bool) {
	if len(mapping.FindingKinds) == 0 {
		return "", "", false
	}
	var failed, uncovered []string
	attempted := false
	for _, kind := range mapping.FindingKinds {
		count := 0
		for _, f := range m.byKind[kind] {
			if f.Severity.AtLeast(mapping.FailOn) {
				count++
			}
		}
		if count > 0 {
			failed = append(failed, fmt.Sprintf("%d %s findings at or above %s", count, kind, mapping.FailOn))
			continue
		}
		if !m.attempts(kind) {
			continue
		}
		attempted = true
		if !m.covers(kind) {
			uncovered = append(uncovered, string(kind))
		}
	}
	switch {
	case len(failed) > 0:
		return v1alpha1.CheckStatusFail, strings.Join(failed, ", "), true
	case len(uncovered) > 0:
		return v1alpha1.CheckStatusIndeterminate, "no successful scanner reports " + strings.Join(uncovered, ", ") + " findings", true
	case !attempted:
		return v1alpha1.CheckStatusNotApplicable, "no scanner reports " + joinKinds(mapping.FindingKinds) + " findings", true
	default:
		return v1alpha1.CheckStatusPass, "", true
	}
}

// mapCheck combines the statuses of every Mapper. A failure wins over an
// indeterminate status, which wins over a pass. A check is not applicable
// only when no Mapper found it applicable or decidable.
func mapCheck(check Check, mappers ...Mapper) v1alpha1.CheckResult {
	result := v1alpha1.CheckResult{
		ID:     check.ID,
		Name:   check.Name,
		Weight: check.Weight,
	}

	statuses := make(map[v1alpha1.CheckStatus][]string)
	for _, mapper := range mappers {
		status, reason, ok := mapper.mapCheck(check.Mapping)
		if !ok {
			continue
		}
		statuses[status] = append(statuses[status], reason)
	}

	for _, status := range []v1alpha1.CheckStatus{
		v1alpha1.CheckStatusFail,
		v1alpha1.CheckStatusIndeterminate,
		v1alpha1.CheckStatusPass,
		v1alpha1.CheckStatusNotApplicable,
	} {
		if reasons, ok := statuses[status]; ok {
			result.Status = status
			result.Reason = joinReasons(reasons)
			return result
		}
	}
	result.Status = v1alpha1.CheckStatusNotApplicable
	return result
}

func joinKinds(kinds []v1alpha1.FindingKind) string {
	names := make([]string, len(kinds))
	for i, kind := range kinds {
		names[i] = string(kind)
	}
	return strings.Join(names, ", ")
}

func joinReasons(reasons []string) string {
	var nonEmpty []string
	for _, r := range reasons {
		if r != "" {
			nonEmpty = append(nonEmpty, r)
		}
	}
	return strings.Join(nonEmpty, "; ")
}
