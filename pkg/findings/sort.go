package findings

import (
	"sort"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
)

type LessFunc func(f1, f2 *v1alpha1.Finding) bool

// multiSorter implements the Sort interface, sorting the findings within.
type multiSorter struct {
	findings []v1alpha1.Finding
	less     []LessFunc
}

// Sort sorts the argument slice according to the LessFunc functions passed to OrderedBy.
func (ms *multiSorter) Sort(findings []v1alpha1.Finding) {
	ms.findings = findings
	sort.Stable(ms)
}

// OrderedBy returns a Sorter that sorts using the LessFunc functions, in order.
func OrderedBy(less ...LessFunc) *multiSorter {
	return &multiSorter{
		less: less,
	}
}

func (ms *multiSorter) Len() int {
	return len(ms.findings)
}

func (ms *multiSorter) Swap(i, j int) {
	ms.findings[i], ms.findings[j] = ms.findings[j], ms.findings[i]
}

// Less loops along the less functions until it finds a comparison that
// discriminates between the two items.
func (ms *multiSorter) Less(i, j int) bool {
	p, q := &ms.findings[i], &ms.findings[j]
	var k int
	for k = 0; k < len(ms.less)-1; k++ {
		less := ms.less[k]
		switch {
		case less(p, q):
			return true
		case less(q, p):
			return false
		}
	}
	return ms.less[k](p, q)
}

var (
	// BySeverity orders the most severe findings first.
	BySeverity LessFunc = func(f1, f2 *v1alpha1.Finding) bool {
		return f1.Severity.Rank() > f2.Severity.Rank()
	}

	ByID LessFunc = func(f1, f2 *v1alpha1.Finding) bool {
		return f1.ID < f2.ID
	}
)
