package falco_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/aquasecurity/lookout/pkg/lookout"
	"github.com/aquasecurity/lookout/pkg/plugin/falco"
	"github.com/aquasecurity/lookout/pkg/scanner"
	"github.com/aquasecurity/lookout/pkg/scanner/scannertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlugin(config etc.Falco) scanner.Adapter {
	return falco.NewPlugin(lookout.NewPluginContext().WithName(lookout.Falco).Build(), config)
}

func TestPlugin_Parse(t *testing.T) {
	output := scanner.NewRawOutput(scannertest.Fixture(t, "events.jsonl"))
	output.Target = v1alpha1.Target{Image: "nginx:1.25"}

	findings, err := newPlugin(etc.Falco{}).Parse(output)
	require.NoError(t, err)
	assert.Equal(t, []v1alpha1.Finding{
		{
			Kind:     v1alpha1.FindingKindComplianceGap,
			Severity: v1alpha1.SeverityLow,
			Sources:  []string{"falco"},
			Subject:  v1alpha1.Subject{Name: "nginx:1.25"},
			Detail: v1alpha1.FindingDetail{
				Title:       "Terminal shell in container",
				Description: "10:00:05.123: Notice A shell was spawned in a container with an attached terminal (user=root container_id=3c1a2b nginx shell=sh)",
				RuleName:    "Terminal shell in container",
				Metadata: map[string]string{
					"priority": "Notice",
					"source":   "syscall",
					"tags":     "container,mitre_execution,shell",
				},
			},
		},
		{
			Kind:     v1alpha1.FindingKindComplianceGap,
			Severity: v1alpha1.SeverityCritical,
			Sources:  []string{"falco"},
			Subject:  v1alpha1.Subject{Name: "nginx:1.25"},
			Detail: v1alpha1.FindingDetail{
				Title:       "Read sensitive file untrusted",
				Description: "10:00:07.000: Critical Sensitive file opened for reading (file=/etc/shadow container_id=3c1a2b)",
				RuleName:    "Read sensitive file untrusted",
				Metadata: map[string]string{
					"priority": "Critical",
					"source":   "syscall",
					"tags":     "filesystem",
				},
			},
		},
	}, findings)
}

func TestPlugin_ParseMalformed(t *testing.T) {
	output := scanner.NewRawOutput([]byte("{\"rule\": \"x\", \"priority\":\n"))
	_, err := newPlugin(etc.Falco{}).Parse(output)
	assert.ErrorIs(t, err, scanner.ErrParseFailure)
}

func TestPriorityToSeverity(t *testing.T) {
	testCases := []struct {
		priority string
		expected v1alpha1.Severity
	}{
		{"Emergency", v1alpha1.SeverityCritical},
		{"Alert", v1alpha1.SeverityCritical},
		{"CRITICAL", v1alpha1.SeverityCritical},
		{"Error", v1alpha1.SeverityHigh},
		{"Warning", v1alpha1.SeverityMedium},
		{"Notice", v1alpha1.SeverityLow},
		{"Informational", v1alpha1.SeverityLow},
		{"Debug", v1alpha1.SeverityLow},
	}
	for _, tc := range testCases {
		t.Run("Should map "+tc.priority, func(t *testing.T) {
			assert.Equal(t, tc.expected, falco.PriorityToSeverity(tc.priority))
		})
	}
}

func TestPlugin_Run(t *testing.T) {

	t.Run("Should read events file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "events.json")
		require.NoError(t, os.WriteFile(file, scannertest.Fixture(t, "events.jsonl"), 0o600))

		plugin := newPlugin(etc.Falco{EventsFile: file})
		output, err := plugin.Run(context.Background(), v1alpha1.Target{Image: "redis:7"})
		require.NoError(t, err)
		defer output.Close()

		findings, err := plugin.Parse(output)
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, v1alpha1.SeverityHigh, findings[0].Severity)
	})

	t.Run("Should return ToolFailure for missing events file", func(t *testing.T) {
		_, err := newPlugin(etc.Falco{EventsFile: filepath.Join(t.TempDir(), "missing")}).
			Run(context.Background(), v1alpha1.Target{Image: "redis:7"})
		assert.ErrorIs(t, err, scanner.ErrToolFailure)
	})

	t.Run("Should run falco for the configured duration", func(t *testing.T) {
		tool := scannertest.NewTool(t, scannertest.ToolOptions{
			Stdout: `{"rule":"Terminal shell in container","priority":"Warning","output":"shell","output_fields":{}}`,
		})
		plugin := newPlugin(etc.Falco{Path: tool.Path, Duration: 30 * time.Second})
		output, err := plugin.Run(context.Background(), v1alpha1.Target{Image: "nginx:1.25"})
		require.NoError(t, err)
		defer output.Close()

		assert.Equal(t, []string{"-M", "30", "-o", "json_output=true", "-o", "stdout_output.enabled=true"}, tool.Args(t))
		findings, err := plugin.Parse(output)
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, v1alpha1.SeverityMedium, findings[0].Severity)
	})
}
