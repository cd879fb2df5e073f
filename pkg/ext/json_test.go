package ext_test

import (
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/aquasecurity/lookout/pkg/ext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJsonReader(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Should pass through a plain document",
			input:    `{"a":1}`,
			expected: `{"a":1}`,
		},
		{
			name:     "Should skip banner lines",
			input:    "2024-01-01T00:00:00Z INFO Need to update DB\nDownloading...\n[{\"a\":1}]",
			expected: `[{"a":1}]`,
		},
		{
			name:     "Should return nothing without a document",
			input:    "no json here",
			expected: "",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := io.ReadAll(ext.NewJsonReader(strings.NewReader(tc.input)))
			require.NoError(t, err)
			assert.Equal(t, tc.expected, string(out))
		})
	}

	t.Run("Should feed a json decoder", func(t *testing.T) {
		var v map[string]int
		err := json.NewDecoder(ext.NewJsonReader(strings.NewReader("noise {\"a\": 2}"))).Decode(&v)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"a": 2}, v)
	})
}
