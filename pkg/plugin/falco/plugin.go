package falco

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/aquasecurity/lookout/pkg/lookout"
	"github.com/aquasecurity/lookout/pkg/scanner"
	"github.com/google/go-containerregistry/pkg/name"
)

const maxEventSize = 1024 * 1024

type plugin struct {
	ctx    lookout.PluginContext
	config etc.Falco
}

// NewPlugin constructs a new scanner.Adapter, which reports Falco runtime
// alerts raised by containers of the analyzed image. Events are read from a
// file written by a running Falco daemon, or collected by running Falco for
// a fixed duration.
func NewPlugin(ctx lookout.PluginContext, config etc.Falco) scanner.Adapter {
	return &plugin{
		ctx:    ctx,
		config: config,
	}
}

func (p *plugin) Name() string {
	return lookout.Falco
}

func (p *plugin) Scanner() v1alpha1.Scanner {
	return v1alpha1.Scanner{
		Name:   "Falco",
		Vendor: "The Falco Authors",
	}
}

func (p *plugin) Kinds() []v1alpha1.FindingKind {
	return []v1alpha1.FindingKind{v1alpha1.FindingKindComplianceGap}
}

func (p *plugin) Supports(target v1alpha1.Target) bool {
	return target.Image != ""
}

func (p *plugin) Run(ctx context.Context, target v1alpha1.Target) (*scanner.RawOutput, error) {
	if p.config.EventsFile != "" {
		content, err := os.ReadFile(p.config.EventsFile)
		if err != nil {
			return nil, &scanner.ToolFailureError{Tool: p.Name(), Err: fmt.Errorf("reading events file: %w", err)}
		}
		output := scanner.NewRawOutput(content)
		output.Target = target
		return output, nil
	}

	output, err := scanner.Execute(ctx, p.ctx.GetLogger(), p.Name(), scanner.Command{
		Path: p.config.Path,
		Args: []string{
			"-M", strconv.Itoa(int(p.config.Duration.Seconds())),
			"-o", "json_output=true",
			"-o", "stdout_output.enabled=true",
		},
	})
	if err != nil {
		return nil, err
	}
	output.Target = target
	return output, nil
}

func (p *plugin) Parse(output *scanner.RawOutput) ([]v1alpha1.Finding, error) {
	repository := normalizeRepository(output.Target.Image)

	findings := make([]v1alpha1.Finding, 0)
	lines := bufio.NewScanner(bytes.NewReader(output.Stdout))
	lines.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	lineNumber := 0
	for lines.Scan() {
		lineNumber++
		line := strings.TrimSpace(lines.Text())
		// Falco prints its banner and rule loading messages as plain text.
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, scanner.NewParseError(p.Name(), fmt.Errorf("line %d: %w", lineNumber, err))
		}
		if event.Rule == "" {
			continue
		}
		if image := event.imageRepository(); image != "" && repository != "" && normalizeRepository(image) != repository {
			continue
		}
		findings = append(findings, p.toFinding(output.Target, event))
	}
	if err := lines.Err(); err != nil {
		return nil, scanner.NewParseError(p.Name(), err)
	}
	return findings, nil
}

func (p *plugin) toFinding(target v1alpha1.Target, event Event) v1alpha1.Finding {
	metadata := map[string]string{
		"priority": event.Priority,
	}
	if event.Source != "" {
		metadata["source"] = event.Source
	}
	if len(event.Tags) > 0 {
		tags := append([]string(nil), event.Tags...)
		sort.Strings(tags)
		metadata["tags"] = strings.Join(tags, ",")
	}
	return v1alpha1.Finding{
		Kind:     v1alpha1.FindingKindComplianceGap,
		Severity: PriorityToSeverity(event.Priority),
		Sources:  []string{p.Name()},
		Subject:  v1alpha1.Subject{Name: target.Image},
		Detail: v1alpha1.FindingDetail{
			Title:       event.Rule,
			Description: event.Output,
			RuleName:    event.Rule,
			Metadata:    metadata,
		},
	}
}

// PriorityToSeverity maps a Falco rule priority to a severity.
func PriorityToSeverity(priority string) v1alpha1.Severity {
	switch strings.ToLower(priority) {
	case "emergency", "alert", "critical":
		return v1alpha1.SeverityCritical
	case "error":
		return v1alpha1.SeverityHigh
	case "warning":
		return v1alpha1.SeverityMedium
	default:
		return v1alpha1.SeverityLow
	}
}

// normalizeRepository returns the fully qualified repository of an image so
// that "nginx" and "docker.io/library/nginx:1.25" compare equal.
func normalizeRepository(image string) string {
	if image == "" {
		return ""
	}
	ref, err := name.ParseReference(image)
	if err != nil {
		return image
	}
	return ref.Context().Name()
}
