package ext

import "sort"

// SliceContainsString returns true if the specified slice of strings
// contains the given value, false otherwise.
func SliceContainsString(slice []string, value string) bool {
	for _, s := range slice {
		if s == value {
			return true
		}
	}
	return false
}

func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// UnionStrings returns the sorted set union of the given slices.
func UnionStrings(slices ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, slice := range slices {
		for _, s := range slice {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
