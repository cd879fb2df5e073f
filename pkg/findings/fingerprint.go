// Package findings merges findings reported by several scanners into one
// deduplicated set.
package findings

import (
	"fmt"
	"strings"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/zeebo/blake3"
)

// Fingerprinter computes the identity of a finding. Findings with equal
// fingerprints describe the same issue and are merged.
type Fingerprinter func(finding v1alpha1.Finding) string

// Identifier returns the scanner agnostic identifier of the issue: the
// vulnerability id, the rule name, the license or the title in that order of
// preference.
func Identifier(finding v1alpha1.Finding) string {
	switch {
	case finding.Detail.VulnerabilityID != "":
		return strings.ToUpper(finding.Detail.VulnerabilityID)
	case finding.Detail.RuleName != "":
		return finding.Detail.RuleName
	case finding.Detail.License != "":
		return finding.Detail.License
	default:
		return finding.Detail.Title
	}
}

// DefaultFingerprint hashes the kind, the subject and the identifier of the
// finding with BLAKE3.
func DefaultFingerprint(finding v1alpha1.Finding) string {
	hasher := blake3.New()
	parts := []string{
		string(finding.Kind),
		finding.Subject.Name,
		finding.Subject.Version,
		finding.Subject.Resource,
		Identifier(finding),
	}
	for i, part := range parts {
		if i > 0 {
			_, _ = hasher.Write([]byte{0})
		}
		_, _ = hasher.Write([]byte(part))
	}
	return fmt.Sprintf("%x", hasher.Sum(nil))
}
