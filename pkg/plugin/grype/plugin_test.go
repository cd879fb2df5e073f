package grype_test

import (
	"context"
	"testing"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/docker"
	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/aquasecurity/lookout/pkg/lookout"
	"github.com/aquasecurity/lookout/pkg/plugin/grype"
	"github.com/aquasecurity/lookout/pkg/scanner"
	"github.com/aquasecurity/lookout/pkg/scanner/scannertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"
)

func newPlugin(config etc.Grype, dockerConfig *docker.Config) scanner.Adapter {
	return grype.NewPlugin(lookout.NewPluginContext().
		WithName(lookout.Grype).
		WithDockerConfig(dockerConfig).
		Build(), config)
}

func TestPlugin_Parse(t *testing.T) {

	t.Run("Should convert matches to vulnerability findings", func(t *testing.T) {
		findings, err := newPlugin(etc.Grype{}, nil).Parse(scanner.NewRawOutput(scannertest.Fixture(t, "report.json")))
		require.NoError(t, err)
		require.Len(t, findings, 2)

		assert.Equal(t, v1alpha1.Finding{
			Kind:     v1alpha1.FindingKindVulnerability,
			Severity: v1alpha1.SeverityCritical,
			Sources:  []string{"grype"},
			Subject:  v1alpha1.Subject{Name: "openssl", Version: "1.1.1"},
			Detail: v1alpha1.FindingDetail{
				Description:     "A buffer overflow in openssl allows remote code execution.",
				VulnerabilityID: "CVE-2023-1234",
				FixedVersion:    "1.1.1w",
				Links: []string{
					"https://nvd.nist.gov/vuln/detail/CVE-2023-1234",
					"https://www.openssl.org/news/secadv.txt",
				},
				Score: ptr.To(9.8),
				Metadata: map[string]string{
					"pkgType":  "deb",
					"purl":     "pkg:deb/debian/openssl@1.1.1",
					"fixState": "fixed",
					"layer":    "sha256:bbb",
				},
			},
		}, findings[0])

		assert.Equal(t, v1alpha1.SeverityLow, findings[1].Severity)
		assert.Empty(t, findings[1].Detail.FixedVersion)
		assert.Nil(t, findings[1].Detail.Score)
	})

	t.Run("Should ignore unknown fields and tolerate banners", func(t *testing.T) {
		findings, err := newPlugin(etc.Grype{}, nil).Parse(scanner.NewRawOutput([]byte(
			"[0000]  WARN some warning\n{\"matches\":[],\"futureField\":{\"x\":1}}")))
		require.NoError(t, err)
		assert.Empty(t, findings)
	})

	t.Run("Should return ParseError on truncated output", func(t *testing.T) {
		_, err := newPlugin(etc.Grype{}, nil).Parse(scanner.NewRawOutput([]byte(`{"matches":[{"vulnerability":`)))
		assert.ErrorIs(t, err, scanner.ErrParseFailure)
	})
}

func TestPlugin_Run(t *testing.T) {
	tool := scannertest.NewTool(t, scannertest.ToolOptions{Stdout: `{"matches":[]}`})

	dockerConfig := &docker.Config{Auths: map[string]docker.Auth{
		"https://index.docker.io/v1/": {Username: "docker", Password: "hub"},
	}}
	plugin := newPlugin(etc.Grype{Path: tool.Path, OnlyFixed: true}, dockerConfig)

	output, err := plugin.Run(context.Background(), v1alpha1.Target{Image: "nginx:1.25"})
	require.NoError(t, err)
	defer output.Close()

	assert.Equal(t, []string{"nginx:1.25", "-o", "json", "--quiet", "--only-fixed"}, tool.Args(t))
	assert.Equal(t, "index.docker.io", tool.Env(t, "GRYPE_REGISTRY_AUTH_AUTHORITY"))
	assert.Equal(t, "docker", tool.Env(t, "GRYPE_REGISTRY_AUTH_USERNAME"))
	assert.Equal(t, "hub", tool.Env(t, "GRYPE_REGISTRY_AUTH_PASSWORD"))
}

func TestPlugin_Run_ToolFailure(t *testing.T) {
	tool := scannertest.NewTool(t, scannertest.ToolOptions{Stderr: "could not fetch image", ExitCode: 1})

	_, err := newPlugin(etc.Grype{Path: tool.Path}, nil).Run(context.Background(), v1alpha1.Target{Image: "nginx:1.25"})
	var toolErr *scanner.ToolFailureError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, 1, toolErr.ExitCode)
	assert.Equal(t, "could not fetch image", toolErr.Stderr)
}
