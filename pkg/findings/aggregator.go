package findings

import (
	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/ext"
	"github.com/aquasecurity/lookout/pkg/kev"
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/go-logr/logr"
)

// Aggregator merges per scanner finding sets into one set with unique
// fingerprints. Merging is commutative and idempotent: the result does not
// depend on the order of the inputs or on whether a set is merged twice.
type Aggregator struct {
	fingerprint Fingerprinter
	kev         kev.Set
	logger      logr.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		fingerprint: DefaultFingerprint,
		logger:      logr.Discard(),
	}
}

func (a *Aggregator) WithFingerprinter(fingerprint Fingerprinter) *Aggregator {
	a.fingerprint = fingerprint
	return a
}

// WithKEV sets the known exploited vulnerabilities used to flag findings.
func (a *Aggregator) WithKEV(set kev.Set) *Aggregator {
	a.kev = set
	return a
}

func (a *Aggregator) WithLogger(logger logr.Logger) *Aggregator {
	a.logger = logger
	return a
}

// Merge groups findings by fingerprint and merges each group. The result is
// ordered by severity, most severe first, then by fingerprint.
func (a *Aggregator) Merge(sets ...[]v1alpha1.Finding) []v1alpha1.Finding {
	groups := treemap.NewWithStringComparator()
	total := 0
	for _, set := range sets {
		for _, finding := range set {
			total++
			f := normalize(finding)
			f.ID = a.fingerprint(f)
			if existing, found := groups.Get(f.ID); found {
				f = merge(existing.(v1alpha1.Finding), f)
			}
			groups.Put(f.ID, f)
		}
	}

	merged := make([]v1alpha1.Finding, 0, groups.Size())
	it := groups.Iterator()
	for it.Next() {
		f := it.Value().(v1alpha1.Finding)
		if f.Kind == v1alpha1.FindingKindVulnerability && a.kev.Contains(f.Detail.VulnerabilityID) {
			f.ConfirmedExploited = true
		}
		merged = append(merged, f)
	}
	OrderedBy(BySeverity, ByID).Sort(merged)

	a.logger.V(1).Info("Merged findings", "input", total, "unique", len(merged))
	return merged
}

func normalize(finding v1alpha1.Finding) v1alpha1.Finding {
	f := finding.DeepCopy()
	if !f.Severity.IsValid() {
		f.Severity = v1alpha1.SeverityUnknown
	}
	f.Sources = ext.UnionStrings(f.Sources)
	f.Detail.Links = ext.UnionStrings(f.Detail.Links)
	return f
}

// merge combines two findings with the same fingerprint. Every field is
// combined with a commutative, associative operation.
func merge(a, b v1alpha1.Finding) v1alpha1.Finding {
	out := a
	out.Severity = v1alpha1.MaxSeverity(a.Severity, b.Severity)
	out.Sources = ext.UnionStrings(a.Sources, b.Sources)
	out.ConfirmedExploited = a.ConfirmedExploited || b.ConfirmedExploited

	out.Subject = v1alpha1.Subject{
		Name:     richer(a.Subject.Name, b.Subject.Name),
		Version:  richer(a.Subject.Version, b.Subject.Version),
		Resource: richer(a.Subject.Resource, b.Subject.Resource),
	}

	out.Detail = v1alpha1.FindingDetail{
		Title:           richer(a.Detail.Title, b.Detail.Title),
		Description:     richer(a.Detail.Description, b.Detail.Description),
		VulnerabilityID: richer(a.Detail.VulnerabilityID, b.Detail.VulnerabilityID),
		FixedVersion:    LowestVersion(a.Detail.FixedVersion, b.Detail.FixedVersion),
		RuleName:        richer(a.Detail.RuleName, b.Detail.RuleName),
		License:         richer(a.Detail.License, b.Detail.License),
		Links:           ext.UnionStrings(a.Detail.Links, b.Detail.Links),
		Score:           maxScore(a.Detail.Score, b.Detail.Score),
		Metadata:        mergeMetadata(a.Detail.Metadata, b.Detail.Metadata),
	}
	return out
}

// richer prefers the longer text, and the lexically smaller one on ties.
func richer(a, b string) string {
	switch {
	case len(a) != len(b):
		if len(a) > len(b) {
			return a
		}
		return b
	case a < b:
		return a
	default:
		return b
	}
}

func maxScore(a, b *float64) *float64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *b > *a:
		return b
	default:
		return a
	}
}

func mergeMetadata(a, b map[string]string) map[string]string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if existing, ok := out[k]; ok {
			v = richer(existing, v)
		}
		out[k] = v
	}
	return out
}
