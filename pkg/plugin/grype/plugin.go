package grype

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/docker"
	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/aquasecurity/lookout/pkg/ext"
	"github.com/aquasecurity/lookout/pkg/findings"
	"github.com/aquasecurity/lookout/pkg/lookout"
	"github.com/aquasecurity/lookout/pkg/scanner"
)

type plugin struct {
	ctx    lookout.PluginContext
	config etc.Grype
}

// NewPlugin constructs a new scanner.Adapter, which is using Anchore Grype
// to find vulnerabilities in container images.
func NewPlugin(ctx lookout.PluginContext, config etc.Grype) scanner.Adapter {
	return &plugin{
		ctx:    ctx,
		config: config,
	}
}

func (p *plugin) Name() string {
	return lookout.Grype
}

func (p *plugin) Scanner() v1alpha1.Scanner {
	return v1alpha1.Scanner{
		Name:   "Grype",
		Vendor: "Anchore Inc.",
	}
}

func (p *plugin) Kinds() []v1alpha1.FindingKind {
	return []v1alpha1.FindingKind{v1alpha1.FindingKindVulnerability}
}

func (p *plugin) Supports(target v1alpha1.Target) bool {
	return target.Image != ""
}

func (p *plugin) Run(ctx context.Context, target v1alpha1.Target) (*scanner.RawOutput, error) {
	args := []string{target.Image, "-o", "json", "--quiet"}
	if p.config.OnlyFixed {
		args = append(args, "--only-fixed")
	}

	env, err := p.registryEnv(target.Image)
	if err != nil {
		return nil, err
	}

	return scanner.Execute(ctx, p.ctx.GetLogger(), p.Name(), scanner.Command{
		Path: p.config.Path,
		Args: args,
		Env:  env,
	})
}

func (p *plugin) registryEnv(image string) ([]string, error) {
	auth, found, err := p.ctx.GetDockerConfig().CredentialsFor(image)
	if err != nil {
		return nil, fmt.Errorf("resolving registry credentials: %w", err)
	}
	if !found {
		return nil, nil
	}
	server, err := docker.GetServerFromImageRef(image)
	if err != nil {
		return nil, err
	}
	return []string{
		"GRYPE_REGISTRY_AUTH_AUTHORITY=" + server,
		"GRYPE_REGISTRY_AUTH_USERNAME=" + auth.Username,
		"GRYPE_REGISTRY_AUTH_PASSWORD=" + auth.Password,
	}, nil
}

func (p *plugin) Parse(output *scanner.RawOutput) ([]v1alpha1.Finding, error) {
	var report ScanReport
	if err := json.NewDecoder(ext.NewJsonReader(bytes.NewReader(output.Stdout))).Decode(&report); err != nil {
		return nil, scanner.NewParseError(p.Name(), err)
	}

	result := make([]v1alpha1.Finding, 0, len(report.Matches))
	for _, match := range report.Matches {
		vul := match.Vulnerability
		artifact := match.Artifact

		severity, err := v1alpha1.StringToSeverity(vul.Severity)
		if err != nil {
			severity = v1alpha1.SeverityUnknown
		}

		var links []string
		if vul.DataSource != "" {
			links = append(links, vul.DataSource)
		}

		metadata := map[string]string{}
		if artifact.Type != "" {
			metadata["pkgType"] = artifact.Type
		}
		if artifact.PURL != "" {
			metadata["purl"] = artifact.PURL
		}
		if vul.Fix.State != "" {
			metadata["fixState"] = vul.Fix.State
		}
		if len(artifact.Locations) > 0 && artifact.Locations[0].LayerID != "" {
			metadata["layer"] = artifact.Locations[0].LayerID
		}

		result = append(result, v1alpha1.Finding{
			Kind:     v1alpha1.FindingKindVulnerability,
			Severity: severity,
			Sources:  []string{p.Name()},
			Subject: v1alpha1.Subject{
				Name:    artifact.Name,
				Version: artifact.Version,
			},
			Detail: v1alpha1.FindingDetail{
				Description:     vul.Description,
				VulnerabilityID: vul.Id,
				FixedVersion:    findings.LowestVersion(vul.Fix.Versions...),
				Links:           ext.UnionStrings(links, vul.URLs),
				Score:           scoreV3(vul.CVSs),
				Metadata:        metadata,
			},
		})
	}
	return result, nil
}

// scoreV3 returns the base score of the most recent CVSS v3 entry.
func scoreV3(cvss []CVS) *float64 {
	var score *float64
	var scoreVersion string
	for _, c := range cvss {
		if !strings.HasPrefix(c.Version, "3.") || c.Metrics.BaseScore == nil {
			continue
		}
		if score == nil || c.Version > scoreVersion {
			score = c.Metrics.BaseScore
			scoreVersion = c.Version
		}
	}
	return score
}
