package findings_test

import (
	"testing"

	"github.com/aquasecurity/lookout/pkg/findings"
	"github.com/stretchr/testify/assert"
)

func TestLowestVersion(t *testing.T) {
	testCases := []struct {
		name     string
		versions []string
		expected string
	}{
		{name: "Should return empty for no versions", versions: nil, expected: ""},
		{name: "Should ignore empty versions", versions: []string{"", "1.2.3", ""}, expected: "1.2.3"},
		{name: "Should compare semantically", versions: []string{"1.10.0", "1.9.2"}, expected: "1.9.2"},
		{name: "Should prefer parsable versions", versions: []string{"1:2.3~deb", "2.0.0"}, expected: "2.0.0"},
		{name: "Should compare unparsable versions lexically", versions: []string{"r2", "r1"}, expected: "r1"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, findings.LowestVersion(tc.versions...))
		})
	}
}
