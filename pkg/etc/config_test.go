package etc_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfig(t *testing.T) {

	t.Run("Should apply defaults", func(t *testing.T) {
		config, err := etc.GetConfig()
		require.NoError(t, err)
		assert.Equal(t, 4, config.Run.MaxConcurrency)
		assert.Equal(t, 5*time.Minute, config.Run.PerAdapterTimeout)
		assert.Equal(t, 15*time.Minute, config.Run.OverallDeadline)
		assert.Equal(t, v1alpha1.SeverityHigh, config.Run.SeverityThreshold)
		assert.False(t, config.Run.RequireAllAdaptersSucceed)
		assert.Equal(t, []string{"trivy", "grype", "syft", "dive"}, config.Run.EnabledAdapters)
		assert.Equal(t, []int{80, 443}, config.Nmap.AllowedPorts)
		assert.NoError(t, config.Validate())
	})

	t.Run("Should read environment variables", func(t *testing.T) {
		t.Setenv("LOOKOUT_MAX_CONCURRENCY", "2")
		t.Setenv("LOOKOUT_ADAPTER_TIMEOUT", "90s")
		t.Setenv("LOOKOUT_SEVERITY_THRESHOLD", "CRITICAL")
		t.Setenv("LOOKOUT_ADAPTERS", "trivy,conftest")
		t.Setenv("LOOKOUT_REQUIRE_ALL_ADAPTERS", "true")

		config, err := etc.GetConfig()
		require.NoError(t, err)
		assert.Equal(t, 2, config.Run.MaxConcurrency)
		assert.Equal(t, 90*time.Second, config.Run.PerAdapterTimeout)
		assert.Equal(t, v1alpha1.SeverityCritical, config.Run.SeverityThreshold)
		assert.Equal(t, []string{"trivy", "conftest"}, config.Run.EnabledAdapters)
		assert.True(t, config.Run.RequireAllAdaptersSucceed)
	})
}

func TestLoadFile(t *testing.T) {
	config, err := etc.GetConfig()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "lookout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`run:
  maxConcurrency: 8
  overallDeadline: 30m
  enabledAdapters:
  - grype
  - nmap
nmap:
  host: 10.0.0.1
`), 0o600))

	require.NoError(t, etc.LoadFile(path, &config))
	assert.Equal(t, 8, config.Run.MaxConcurrency)
	assert.Equal(t, 30*time.Minute, config.Run.OverallDeadline)
	assert.Equal(t, 5*time.Minute, config.Run.PerAdapterTimeout, "keys missing from the file keep their values")
	assert.Equal(t, []string{"grype", "nmap"}, config.Run.EnabledAdapters)
	assert.Equal(t, "10.0.0.1", config.Nmap.Host)
	assert.Equal(t, "nmap", config.Nmap.Path)

	err = etc.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), &config)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() etc.Config {
		config, err := etc.GetConfig()
		require.NoError(t, err)
		return config
	}

	testCases := []struct {
		name             string
		mutate           func(c *etc.Config)
		expectedProblems []string
	}{
		{
			name:   "Should accept defaults",
			mutate: func(c *etc.Config) {},
		},
		{
			name: "Should reject zero concurrency and timeouts",
			mutate: func(c *etc.Config) {
				c.Run.MaxConcurrency = 0
				c.Run.PerAdapterTimeout = 0
				c.Run.OverallDeadline = -time.Second
			},
			expectedProblems: []string{
				"maxConcurrency must be at least 1, got 0",
				"perAdapterTimeout must be positive, got 0s",
				"overallDeadline must be positive, got -1s",
			},
		},
		{
			name: "Should reject unknown and duplicate adapters",
			mutate: func(c *etc.Config) {
				c.Run.EnabledAdapters = []string{"trivy", "clair", "trivy"}
			},
			expectedProblems: []string{
				`unknown adapter "clair"`,
				`adapter "trivy" enabled more than once`,
			},
		},
		{
			name: "Should reject unknown severity threshold",
			mutate: func(c *etc.Config) {
				c.Run.SeverityThreshold = "SEVERE"
			},
			expectedProblems: []string{`severityThreshold "SEVERE" is not a known severity`},
		},
		{
			name: "Should require nmap host when nmap is enabled",
			mutate: func(c *etc.Config) {
				c.Run.EnabledAdapters = []string{"nmap"}
			},
			expectedProblems: []string{"nmap host is required when nmap is enabled"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := valid()
			tc.mutate(&config)
			err := config.Validate()
			if len(tc.expectedProblems) == 0 {
				assert.NoError(t, err)
				return
			}
			var configErr *etc.ConfigurationError
			require.True(t, errors.As(err, &configErr))
			assert.Equal(t, tc.expectedProblems, configErr.Problems)
		})
	}
}
