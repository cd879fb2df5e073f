package trivy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/aquasecurity/lookout/pkg/ext"
	"github.com/aquasecurity/lookout/pkg/lookout"
	"github.com/aquasecurity/lookout/pkg/scanner"
)

// permissiveCategories are license categories that never make a finding.
var permissiveCategories = map[string]bool{
	"notice":       true,
	"permissive":   true,
	"unencumbered": true,
}

type plugin struct {
	ctx    lookout.PluginContext
	config etc.Trivy
}

// NewPlugin constructs a new scanner.Adapter, which is using the Trivy
// vulnerability and license scanner.
func NewPlugin(ctx lookout.PluginContext, config etc.Trivy) scanner.Adapter {
	return &plugin{
		ctx:    ctx,
		config: config,
	}
}

func (p *plugin) Name() string {
	return lookout.Trivy
}

func (p *plugin) Scanner() v1alpha1.Scanner {
	return v1alpha1.Scanner{
		Name:   "Trivy",
		Vendor: "Aqua Security",
	}
}

func (p *plugin) Kinds() []v1alpha1.FindingKind {
	return []v1alpha1.FindingKind{v1alpha1.FindingKindVulnerability, v1alpha1.FindingKindLicenseIssue}
}

func (p *plugin) Supports(target v1alpha1.Target) bool {
	return target.Image != ""
}

func (p *plugin) Run(ctx context.Context, target v1alpha1.Target) (*scanner.RawOutput, error) {
	env, err := p.registryEnv(target.Image)
	if err != nil {
		return nil, err
	}
	return scanner.Execute(ctx, p.ctx.GetLogger(), p.Name(), scanner.Command{
		Path: p.config.Path,
		Args: p.args(target.Image),
		Env:  env,
	})
}

func (p *plugin) args(image string) []string {
	args := []string{"image", "--format", "json", "--quiet", "--no-progress"}
	if len(p.config.Scanners) > 0 {
		args = append(args, "--scanners", strings.Join(p.config.Scanners, ","))
	}
	if p.config.IgnoreUnfixed {
		args = append(args, "--ignore-unfixed")
	}
	return append(args, image)
}

func (p *plugin) registryEnv(image string) ([]string, error) {
	auth, found, err := p.ctx.GetDockerConfig().CredentialsFor(image)
	if err != nil {
		return nil, fmt.Errorf("resolving registry credentials: %w", err)
	}
	if !found {
		return nil, nil
	}
	return []string{
		"TRIVY_USERNAME=" + auth.Username,
		"TRIVY_PASSWORD=" + auth.Password,
	}, nil
}

func (p *plugin) Parse(output *scanner.RawOutput) ([]v1alpha1.Finding, error) {
	results, err := decodeResults(ext.NewJsonReader(bytes.NewReader(output.Stdout)))
	if err != nil {
		return nil, scanner.NewParseError(p.Name(), err)
	}

	findings := make([]v1alpha1.Finding, 0)
	for _, result := range results {
		for _, vuln := range result.Vulnerabilities {
			findings = append(findings, p.toVulnerabilityFinding(result, vuln))
		}
		for _, license := range result.Licenses {
			if permissiveCategories[strings.ToLower(license.Category)] {
				continue
			}
			findings = append(findings, p.toLicenseFinding(license))
		}
	}
	return findings, nil
}

// decodeResults accepts both the current report object and the legacy
// top-level array of results.
func decodeResults(reader io.Reader) ([]ScanResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("no JSON document in output")
	}
	if data[0] == '[' {
		var results []ScanResult
		if err := json.Unmarshal(data, &results); err != nil {
			return nil, err
		}
		return results, nil
	}
	var report ScanReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}
	return report.Results, nil
}

func (p *plugin) toVulnerabilityFinding(result ScanResult, vuln Vulnerability) v1alpha1.Finding {
	metadata := map[string]string{
		"target": result.Target,
	}
	if result.Type != "" {
		metadata["pkgType"] = result.Type
	}
	if vuln.Layer.DiffID != "" {
		metadata["layer"] = vuln.Layer.DiffID
	}

	var links []string
	if vuln.PrimaryURL != "" {
		links = append(links, vuln.PrimaryURL)
	}
	links = ext.UnionStrings(links, vuln.References)

	return v1alpha1.Finding{
		Kind:     v1alpha1.FindingKindVulnerability,
		Severity: p.severity(vuln.Severity),
		Sources:  []string{p.Name()},
		Subject: v1alpha1.Subject{
			Name:    vuln.PkgName,
			Version: vuln.InstalledVersion,
		},
		Detail: v1alpha1.FindingDetail{
			Title:           vuln.Title,
			Description:     vuln.Description,
			VulnerabilityID: vuln.VulnerabilityID,
			FixedVersion:    vuln.FixedVersion,
			Links:           links,
			Score:           GetScoreFromCVSS(vuln.Cvss),
			Metadata:        metadata,
		},
	}
}

func (p *plugin) toLicenseFinding(license License) v1alpha1.Finding {
	subject := v1alpha1.Subject{Name: license.PkgName}
	if subject.Name == "" {
		subject.Resource = license.FilePath
	}
	var links []string
	if license.Link != "" {
		links = []string{license.Link}
	}
	return v1alpha1.Finding{
		Kind:     v1alpha1.FindingKindLicenseIssue,
		Severity: p.severity(license.Severity),
		Sources:  []string{p.Name()},
		Subject:  subject,
		Detail: v1alpha1.FindingDetail{
			Title:    fmt.Sprintf("%s license %s", license.Category, license.Name),
			License:  license.Name,
			Links:    links,
			Metadata: map[string]string{"category": license.Category},
		},
	}
}

func (p *plugin) severity(value string) v1alpha1.Severity {
	severity, err := v1alpha1.StringToSeverity(value)
	if err != nil {
		p.ctx.GetLogger().V(1).Info("Unrecognized severity", "severity", value)
		return v1alpha1.SeverityUnknown
	}
	return severity
}

// GetScoreFromCVSS returns the CVSS v3 score of a vendor, if any, and falls
// back to the NVD score.
func GetScoreFromCVSS(CVSSs map[string]*CVSS) *float64 {
	var nvdScore, vendorScore *float64

	sources := make([]string, 0, len(CVSSs))
	for source := range CVSSs {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	for _, source := range sources {
		cvss := CVSSs[source]
		if cvss == nil || cvss.V3Score == nil {
			continue
		}
		if source == "nvd" {
			nvdScore = cvss.V3Score
		} else if vendorScore == nil {
			vendorScore = cvss.V3Score
		}
	}

	if vendorScore != nil {
		return vendorScore
	}

	return nvdScore
}
