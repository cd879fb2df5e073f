package conftest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/aquasecurity/lookout/pkg/ext"
	"github.com/aquasecurity/lookout/pkg/lookout"
	"github.com/aquasecurity/lookout/pkg/scanner"
)

const defaultCategory = "Security"

type plugin struct {
	ctx    lookout.PluginContext
	config etc.Conftest
}

// NewPlugin constructs a new scanner.Adapter, which is using the Conftest
// CLI to test manifests against a directory of Rego policies.
func NewPlugin(ctx lookout.PluginContext, config etc.Conftest) scanner.Adapter {
	return &plugin{
		ctx:    ctx,
		config: config,
	}
}

func (p *plugin) Name() string {
	return lookout.Conftest
}

func (p *plugin) Scanner() v1alpha1.Scanner {
	return v1alpha1.Scanner{
		Name:   "Conftest",
		Vendor: "Open Policy Agent",
	}
}

func (p *plugin) Kinds() []v1alpha1.FindingKind {
	return []v1alpha1.FindingKind{v1alpha1.FindingKindPolicyViolation}
}

func (p *plugin) Supports(target v1alpha1.Target) bool {
	return target.Manifests != ""
}

func (p *plugin) Run(ctx context.Context, target v1alpha1.Target) (*scanner.RawOutput, error) {
	output, err := scanner.Execute(ctx, p.ctx.GetLogger(), p.Name(), scanner.Command{
		Path: p.config.Path,
		Args: []string{
			"test",
			"--output", "json",
			"--no-color",
			"--all-namespaces",
			"--policy", p.config.PolicyDir,
			target.Manifests,
		},
		// Conftest exits with 1 when any policy failed.
		OKExitCodes: []int{1},
	})
	if err != nil {
		return nil, err
	}
	output.Target = target
	return output, nil
}

func (p *plugin) Parse(output *scanner.RawOutput) ([]v1alpha1.Finding, error) {
	var checkResults []CheckResult
	if err := json.NewDecoder(ext.NewJsonReader(bytes.NewReader(output.Stdout))).Decode(&checkResults); err != nil {
		return nil, scanner.NewParseError(p.Name(), fmt.Errorf("decoding check results: %w", err))
	}

	findings := make([]v1alpha1.Finding, 0)
	for _, cr := range checkResults {
		for _, failure := range cr.Failures {
			severity := v1alpha1.SeverityHigh
			if value := failure.metadataString("severity"); value != "" {
				if s, err := v1alpha1.StringToSeverity(value); err == nil && s != v1alpha1.SeverityUnknown {
					severity = s
				}
			}
			findings = append(findings, p.toFinding(output.Target, cr, failure, severity))
		}
		for _, warning := range cr.Warnings {
			findings = append(findings, p.toFinding(output.Target, cr, warning, v1alpha1.SeverityLow))
		}
	}
	return findings, nil
}

func (p *plugin) toFinding(target v1alpha1.Target, cr CheckResult, result Result, severity v1alpha1.Severity) v1alpha1.Finding {
	category := result.metadataString("category")
	if category == "" {
		category = defaultCategory
	}
	return v1alpha1.Finding{
		Kind:     v1alpha1.FindingKindPolicyViolation,
		Severity: severity,
		Sources:  []string{p.Name()},
		Subject:  v1alpha1.Subject{Name: relativeFileName(target.Manifests, cr.FileName)},
		Detail: v1alpha1.FindingDetail{
			Title:       result.Message,
			Description: result.metadataString("description"),
			RuleName:    ruleName(result),
			Metadata: map[string]string{
				"namespace": cr.Namespace,
				"category":  category,
			},
		},
	}
}

// ruleName prefers the policy id and falls back to its title. Results
// without either are identified by their message.
func ruleName(result Result) string {
	if id := result.metadataString("id"); id != "" {
		return id
	}
	return result.metadataString("title")
}

func relativeFileName(dir, file string) string {
	if dir == "" {
		return file
	}
	rel, err := filepath.Rel(dir, file)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return file
	}
	return rel
}
