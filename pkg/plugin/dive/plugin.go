package dive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/aquasecurity/lookout/pkg/lookout"
	"github.com/aquasecurity/lookout/pkg/scanner"
)

const (
	exportFile = "dive.json"

	RuleLowestEfficiency   = "image-efficiency"
	RuleHighestWastedBytes = "image-wasted-bytes"

	maxTopWasted = 5
)

var (
	efficiencyLine  = regexp.MustCompile(`efficiency:\s*([0-9]+(?:\.[0-9]+)?)\s*%`)
	wastedBytesLine = regexp.MustCompile(`wastedBytes:\s*([0-9]+)\s*bytes`)
)

type plugin struct {
	ctx    lookout.PluginContext
	config etc.Dive
}

// NewPlugin constructs a new scanner.Adapter, which measures wasted space in
// image layers with dive.
func NewPlugin(ctx lookout.PluginContext, config etc.Dive) scanner.Adapter {
	return &plugin{
		ctx:    ctx,
		config: config,
	}
}

func (p *plugin) Name() string {
	return lookout.Dive
}

func (p *plugin) Scanner() v1alpha1.Scanner {
	return v1alpha1.Scanner{
		Name:   "Dive",
		Vendor: "wagoodman",
	}
}

func (p *plugin) Kinds() []v1alpha1.FindingKind {
	return []v1alpha1.FindingKind{v1alpha1.FindingKindComplianceGap}
}

func (p *plugin) Supports(target v1alpha1.Target) bool {
	return target.Image != ""
}

// Run disables dive's own CI rules so that the exit code only reflects
// errors. Thresholds are applied in Parse.
func (p *plugin) Run(ctx context.Context, target v1alpha1.Target) (*scanner.RawOutput, error) {
	output, err := scanner.Execute(ctx, p.ctx.GetLogger(), p.Name(), scanner.Command{
		Path: p.config.Path,
		Args: []string{
			target.Image,
			"--ci",
			"--json", scanner.WorkDir + "/" + exportFile,
			"--lowestEfficiency=0",
			"--highestWastedBytes=disabled",
			"--highestUserWastedPercent=disabled",
		},
	})
	if err != nil {
		return nil, err
	}
	output.Target = target
	return output, nil
}

func (p *plugin) Parse(output *scanner.RawOutput) ([]v1alpha1.Finding, error) {
	analysis, err := p.analyze(output)
	if err != nil {
		return nil, scanner.NewParseError(p.Name(), err)
	}

	subject := v1alpha1.Subject{Name: output.Target.Image}
	metadata := map[string]string{
		"efficiency":  strconv.FormatFloat(analysis.Efficiency, 'f', 4, 64),
		"wastedBytes": strconv.FormatInt(analysis.WastedBytes, 10),
	}
	if len(analysis.TopWasted) > 0 {
		metadata["topWastedFiles"] = strings.Join(analysis.TopWasted, ",")
	}

	findings := make([]v1alpha1.Finding, 0)
	if analysis.Efficiency < p.config.LowestEfficiency {
		findings = append(findings, p.newFinding(subject, RuleLowestEfficiency,
			fmt.Sprintf("image efficiency %.2f%% is below %.2f%%", analysis.Efficiency*100, p.config.LowestEfficiency*100),
			metadata))
	}
	if p.config.HighestWastedBytes > 0 && analysis.WastedBytes > p.config.HighestWastedBytes {
		findings = append(findings, p.newFinding(subject, RuleHighestWastedBytes,
			fmt.Sprintf("image wastes %d bytes, more than %d", analysis.WastedBytes, p.config.HighestWastedBytes),
			metadata))
	}
	return findings, nil
}

func (p *plugin) newFinding(subject v1alpha1.Subject, rule, title string, metadata map[string]string) v1alpha1.Finding {
	copied := make(map[string]string, len(metadata))
	for k, v := range metadata {
		copied[k] = v
	}
	return v1alpha1.Finding{
		Kind:     v1alpha1.FindingKindComplianceGap,
		Severity: v1alpha1.SeverityLow,
		Sources:  []string{p.Name()},
		Subject:  subject,
		Detail: v1alpha1.FindingDetail{
			Title:    title,
			RuleName: rule,
			Metadata: copied,
		},
	}
}

// analyze prefers the JSON export and falls back to the CI summary printed
// on stdout.
func (p *plugin) analyze(output *scanner.RawOutput) (Analysis, error) {
	f, err := output.Open(exportFile)
	switch {
	case err == nil:
		defer func() {
			_ = f.Close()
		}()
		return decodeExport(f)
	case errors.Is(err, os.ErrNotExist):
		return parseSummary(output.Stdout)
	default:
		return Analysis{}, err
	}
}

func decodeExport(reader io.Reader) (Analysis, error) {
	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return Analysis{}, err
	}
	analysis := Analysis{
		Efficiency:  export.Image.EfficiencyScore,
		WastedBytes: export.Image.InefficientBytes,
	}
	for i, ref := range export.Image.FileReferences {
		if i == maxTopWasted {
			break
		}
		analysis.TopWasted = append(analysis.TopWasted, ref.File)
	}
	return analysis, nil
}

func parseSummary(stdout []byte) (Analysis, error) {
	var analysis Analysis
	var foundEfficiency, foundWasted bool

	lines := bufio.NewScanner(bytes.NewReader(stdout))
	for lines.Scan() {
		line := lines.Text()
		if m := efficiencyLine.FindStringSubmatch(line); m != nil && !foundEfficiency {
			value, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				return Analysis{}, fmt.Errorf("efficiency %q: %w", m[1], err)
			}
			analysis.Efficiency = value / 100
			foundEfficiency = true
		}
		if m := wastedBytesLine.FindStringSubmatch(line); m != nil && !foundWasted {
			value, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				return Analysis{}, fmt.Errorf("wastedBytes %q: %w", m[1], err)
			}
			analysis.WastedBytes = value
			foundWasted = true
		}
	}
	if err := lines.Err(); err != nil {
		return Analysis{}, err
	}
	if !foundEfficiency || !foundWasted {
		return Analysis{}, errors.New("efficiency or wastedBytes missing from dive output")
	}
	return analysis, nil
}
