package v1alpha1

import (
	"fmt"
	"strings"
)

// Severity level of a finding, a policy rule or a compliance check threshold.
// +enum
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityUnknown  Severity = "UNKNOWN"
)

var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
	SeverityUnknown:  0,
}

// Severities lists known severities from the most to the least severe.
var Severities = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityUnknown,
}

// Rank returns the numeric rank of the severity. Unrecognized values rank
// like SeverityUnknown.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is at or above the given threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return s.Rank() >= threshold.Rank()
}

// IsValid reports whether s is one of the known severities.
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// StringToSeverity parses a severity as spelled by scanners and policy
// documents.
func StringToSeverity(name string) (Severity, error) {
	switch s := strings.ToUpper(strings.TrimSpace(name)); s {
	case "CRITICAL", "HIGH", "MEDIUM", "LOW", "UNKNOWN":
		return Severity(s), nil
	case "NEGLIGIBLE", "NONE", "INFO":
		return SeverityLow, nil
	case "":
		return SeverityUnknown, nil
	default:
		return "", fmt.Errorf("unrecognized name literal: %s", name)
	}
}

// MaxSeverity returns the more severe of a and b. SeverityUnknown never
// wins over a known severity.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	if a.Rank() == b.Rank() && !a.IsValid() {
		return b
	}
	return a
}

// Scanner is the spec for a scanner contributing to a security report.
type Scanner struct {
	// Name the name of the scanner.
	Name string `json:"name"`

	// Vendor the name of the vendor providing the scanner.
	Vendor string `json:"vendor"`

	// Version the version of the scanner.
	Version string `json:"version,omitempty"`
}

// Target identifies what a run analyzes. At least one of Image or Manifests
// is set.
type Target struct {
	// Image is a container image reference, e.g. registry/name:tag.
	Image string `json:"image,omitempty"`

	// Manifests is a directory or file with Kubernetes manifests.
	Manifests string `json:"manifests,omitempty"`
}

func (t Target) String() string {
	switch {
	case t.Image != "" && t.Manifests != "":
		return t.Image + " (" + t.Manifests + ")"
	case t.Image != "":
		return t.Image
	default:
		return t.Manifests
	}
}
