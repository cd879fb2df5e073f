package findings

import (
	"github.com/hashicorp/go-version"
)

// LowestVersion returns the lowest of the given versions. Versions that
// parse as semantic versions order before those that do not, which order
// lexically. Empty strings are ignored.
func LowestVersion(versions ...string) string {
	lowest := ""
	for _, v := range versions {
		if v == "" {
			continue
		}
		if lowest == "" || versionLess(v, lowest) {
			lowest = v
		}
	}
	return lowest
}

func versionLess(a, b string) bool {
	va, errA := version.NewVersion(a)
	vb, errB := version.NewVersion(b)
	switch {
	case errA == nil && errB == nil:
		if c := va.Compare(vb); c != 0 {
			return c < 0
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
