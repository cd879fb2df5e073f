package syft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/aquasecurity/lookout/pkg/ext"
	"github.com/aquasecurity/lookout/pkg/lookout"
	"github.com/aquasecurity/lookout/pkg/scanner"
)

const titleUnlicensed = "no license declared"

type plugin struct {
	ctx    lookout.PluginContext
	config etc.Syft
	denied map[string]bool
}

// NewPlugin constructs a new scanner.Adapter, which generates an SBOM with
// Anchore Syft and reports components with denied or missing licenses.
func NewPlugin(ctx lookout.PluginContext, config etc.Syft) scanner.Adapter {
	denied := make(map[string]bool, len(config.DeniedLicenses))
	for _, license := range config.DeniedLicenses {
		denied[strings.ToUpper(strings.TrimSpace(license))] = true
	}
	return &plugin{
		ctx:    ctx,
		config: config,
		denied: denied,
	}
}

func (p *plugin) Name() string {
	return lookout.Syft
}

func (p *plugin) Scanner() v1alpha1.Scanner {
	return v1alpha1.Scanner{
		Name:   "Syft",
		Vendor: "Anchore Inc.",
	}
}

func (p *plugin) Kinds() []v1alpha1.FindingKind {
	return []v1alpha1.FindingKind{v1alpha1.FindingKindLicenseIssue}
}

func (p *plugin) Supports(target v1alpha1.Target) bool {
	return target.Image != ""
}

func (p *plugin) Run(ctx context.Context, target v1alpha1.Target) (*scanner.RawOutput, error) {
	return scanner.Execute(ctx, p.ctx.GetLogger(), p.Name(), scanner.Command{
		Path: p.config.Path,
		Args: []string{target.Image, "-o", "json", "--quiet"},
	})
}

func (p *plugin) Parse(output *scanner.RawOutput) ([]v1alpha1.Finding, error) {
	var doc Document
	if err := json.NewDecoder(ext.NewJsonReader(bytes.NewReader(output.Stdout))).Decode(&doc); err != nil {
		return nil, scanner.NewParseError(p.Name(), err)
	}
	p.ctx.GetLogger().V(1).Info("Parsed SBOM", "components", len(doc.Artifacts), "syftVersion", doc.Descriptor.Version)

	findings := make([]v1alpha1.Finding, 0)
	for _, artifact := range doc.Artifacts {
		if len(artifact.Licenses) == 0 {
			if p.config.ReportUnlicensed {
				findings = append(findings, p.newFinding(artifact, v1alpha1.SeverityUnknown, "", titleUnlicensed))
			}
			continue
		}
		for _, license := range artifact.Licenses {
			name := license.Name()
			if !p.isDenied(name) {
				continue
			}
			findings = append(findings, p.newFinding(artifact, v1alpha1.SeverityHigh, name, fmt.Sprintf("denied license %s", name)))
		}
	}
	return findings, nil
}

// isDenied reports whether any license identifier of the SPDX expression is
// on the deny list.
func (p *plugin) isDenied(expression string) bool {
	tokens := strings.FieldsFunc(expression, func(r rune) bool {
		return r == ' ' || r == '(' || r == ')'
	})
	for _, token := range tokens {
		if p.denied[strings.ToUpper(token)] {
			return true
		}
	}
	return false
}

func (p *plugin) newFinding(artifact Artifact, severity v1alpha1.Severity, license, title string) v1alpha1.Finding {
	metadata := map[string]string{}
	if artifact.Type != "" {
		metadata["pkgType"] = artifact.Type
	}
	if artifact.PURL != "" {
		metadata["purl"] = artifact.PURL
	}
	if len(artifact.Locations) > 0 {
		metadata["path"] = artifact.Locations[0].Path
	}
	return v1alpha1.Finding{
		Kind:     v1alpha1.FindingKindLicenseIssue,
		Severity: severity,
		Sources:  []string{p.Name()},
		Subject: v1alpha1.Subject{
			Name:    artifact.Name,
			Version: artifact.Version,
		},
		Detail: v1alpha1.FindingDetail{
			Title:    title,
			License:  license,
			Metadata: metadata,
		},
	}
}
