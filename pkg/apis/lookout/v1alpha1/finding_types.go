package v1alpha1

import (
	"sort"
)

// FindingKind classifies a normalized finding.
// +enum
type FindingKind string

const (
	FindingKindVulnerability   FindingKind = "Vulnerability"
	FindingKindLicenseIssue    FindingKind = "LicenseIssue"
	FindingKindPolicyViolation FindingKind = "PolicyViolation"
	FindingKindComplianceGap   FindingKind = "ComplianceGap"
)

// FindingKinds lists every finding kind.
var FindingKinds = []FindingKind{
	FindingKindVulnerability,
	FindingKindLicenseIssue,
	FindingKindPolicyViolation,
	FindingKindComplianceGap,
}

// Subject is the thing a finding is about: a package at a version, or a
// resource such as an image layer, a manifest or a network port.
type Subject struct {
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Resource string `json:"resource,omitempty"`
}

func (s Subject) String() string {
	switch {
	case s.Name != "" && s.Version != "":
		return s.Name + "@" + s.Version
	case s.Name != "":
		return s.Name
	default:
		return s.Resource
	}
}

// FindingDetail carries kind specific attributes of a finding.
type FindingDetail struct {
	Title           string            `json:"title,omitempty"`
	Description     string            `json:"description,omitempty"`
	VulnerabilityID string            `json:"vulnerabilityID,omitempty"`
	FixedVersion    string            `json:"fixedVersion,omitempty"`
	RuleName        string            `json:"ruleName,omitempty"`
	License         string            `json:"license,omitempty"`
	Links           []string          `json:"links,omitempty"`
	Score           *float64          `json:"score,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Finding is a normalized issue reported by one or more scanners. Findings
// are values: every transformation returns a copy.
type Finding struct {
	// ID is the fingerprint of the finding, unique within a report.
	ID                 string        `json:"id"`
	Kind               FindingKind   `json:"kind"`
	Severity           Severity      `json:"severity"`
	Sources            []string      `json:"sources"`
	Subject            Subject       `json:"subject"`
	Detail             FindingDetail `json:"detail"`
	ConfirmedExploited bool          `json:"confirmedExploited"`
}

// DeepCopy returns a copy of the finding which shares no memory with f.
func (f Finding) DeepCopy() Finding {
	out := f
	out.Sources = copyStrings(f.Sources)
	out.Detail.Links = copyStrings(f.Detail.Links)
	if f.Detail.Score != nil {
		score := *f.Detail.Score
		out.Detail.Score = &score
	}
	if f.Detail.Metadata != nil {
		out.Detail.Metadata = make(map[string]string, len(f.Detail.Metadata))
		for k, v := range f.Detail.Metadata {
			out.Detail.Metadata[k] = v
		}
	}
	return out
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// FindingSummary counts findings per severity and per kind.
type FindingSummary struct {
	Total                   int                 `json:"total"`
	CriticalCount           int                 `json:"criticalCount"`
	HighCount               int                 `json:"highCount"`
	MediumCount             int                 `json:"mediumCount"`
	LowCount                int                 `json:"lowCount"`
	UnknownCount            int                 `json:"unknownCount"`
	ConfirmedExploitedCount int                 `json:"confirmedExploitedCount"`
	ByKind                  map[FindingKind]int `json:"byKind,omitempty"`
}

// Kinds returns the kinds present in the summary in sorted order.
func (s FindingSummary) Kinds() []FindingKind {
	var kinds []FindingKind
	for kind := range s.ByKind {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool {
		return kinds[i] < kinds[j]
	})
	return kinds
}
