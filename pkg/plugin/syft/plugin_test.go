package syft_test

import (
	"context"
	"testing"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/aquasecurity/lookout/pkg/lookout"
	"github.com/aquasecurity/lookout/pkg/plugin/syft"
	"github.com/aquasecurity/lookout/pkg/scanner"
	"github.com/aquasecurity/lookout/pkg/scanner/scannertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlugin(config etc.Syft) scanner.Adapter {
	return syft.NewPlugin(lookout.NewPluginContext().WithName(lookout.Syft).Build(), config)
}

func TestPlugin_Parse(t *testing.T) {

	t.Run("Should report denied and missing licenses", func(t *testing.T) {
		plugin := newPlugin(etc.Syft{DeniedLicenses: []string{"agpl-3.0"}, ReportUnlicensed: true})
		findings, err := plugin.Parse(scanner.NewRawOutput(scannertest.Fixture(t, "sbom.json")))
		require.NoError(t, err)
		require.Len(t, findings, 2)

		assert.Equal(t, v1alpha1.Finding{
			Kind:     v1alpha1.FindingKindLicenseIssue,
			Severity: v1alpha1.SeverityHigh,
			Sources:  []string{"syft"},
			Subject:  v1alpha1.Subject{Name: "mongo-tools", Version: "100.9.0"},
			Detail: v1alpha1.FindingDetail{
				Title:   "denied license SSPL-1.0 OR AGPL-3.0",
				License: "SSPL-1.0 OR AGPL-3.0",
				Metadata: map[string]string{
					"pkgType": "go-module",
					"purl":    "pkg:golang/mongo-tools@100.9.0",
					"path":    "/usr/bin/mongodump",
				},
			},
		}, findings[0])

		assert.Equal(t, "left-pad", findings[1].Subject.Name)
		assert.Equal(t, v1alpha1.SeverityUnknown, findings[1].Severity)
		assert.Equal(t, "no license declared", findings[1].Detail.Title)
	})

	t.Run("Should not report unlicensed components unless asked to", func(t *testing.T) {
		findings, err := newPlugin(etc.Syft{}).Parse(scanner.NewRawOutput(scannertest.Fixture(t, "sbom.json")))
		require.NoError(t, err)
		assert.Empty(t, findings)
	})

	t.Run("Should decode licenses written as plain strings", func(t *testing.T) {
		plugin := newPlugin(etc.Syft{DeniedLicenses: []string{"GPL-3.0"}})
		findings, err := plugin.Parse(scanner.NewRawOutput([]byte(`{"artifacts":[{"name":"bash","version":"5.2","licenses":["GPL-3.0"]}]}`)))
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, "GPL-3.0", findings[0].Detail.License)
	})

	t.Run("Should return ParseError on malformed output", func(t *testing.T) {
		_, err := newPlugin(etc.Syft{}).Parse(scanner.NewRawOutput([]byte(`{"artifacts":[{"licenses":42}]}`)))
		assert.ErrorIs(t, err, scanner.ErrParseFailure)
	})
}

func TestPlugin_Run(t *testing.T) {
	tool := scannertest.NewTool(t, scannertest.ToolOptions{Stdout: `{"artifacts":[]}`})

	plugin := newPlugin(etc.Syft{Path: tool.Path})
	output, err := plugin.Run(context.Background(), v1alpha1.Target{Image: "app:1.0"})
	require.NoError(t, err)
	defer output.Close()

	assert.Equal(t, []string{"app:1.0", "-o", "json", "--quiet"}, tool.Args(t))
	assert.False(t, plugin.Supports(v1alpha1.Target{Manifests: "k8s"}))
}
