package nmap

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/aquasecurity/lookout/pkg/lookout"
	"github.com/aquasecurity/lookout/pkg/scanner"
)

const (
	reportFile = "nmap.xml"

	RuleUnexpectedOpenPort = "unexpected-open-port"
)

type plugin struct {
	ctx    lookout.PluginContext
	config etc.Nmap
}

// NewPlugin constructs a new scanner.Adapter, which scans the host serving
// the analyzed image for open ports outside of the allowed list.
func NewPlugin(ctx lookout.PluginContext, config etc.Nmap) scanner.Adapter {
	return &plugin{
		ctx:    ctx,
		config: config,
	}
}

func (p *plugin) Name() string {
	return lookout.Nmap
}

func (p *plugin) Scanner() v1alpha1.Scanner {
	return v1alpha1.Scanner{
		Name:   "Nmap",
		Vendor: "Nmap Project",
	}
}

func (p *plugin) Kinds() []v1alpha1.FindingKind {
	return []v1alpha1.FindingKind{v1alpha1.FindingKindComplianceGap}
}

func (p *plugin) Supports(target v1alpha1.Target) bool {
	return target.Image != "" && p.config.Host != ""
}

func (p *plugin) Run(ctx context.Context, target v1alpha1.Target) (*scanner.RawOutput, error) {
	output, err := scanner.Execute(ctx, p.ctx.GetLogger(), p.Name(), scanner.Command{
		Path: p.config.Path,
		Args: []string{"-F", "-oX", scanner.WorkDir + "/" + reportFile, p.config.Host},
	})
	if err != nil {
		return nil, err
	}
	output.Target = target
	return output, nil
}

func (p *plugin) Parse(output *scanner.RawOutput) ([]v1alpha1.Finding, error) {
	f, err := output.Open(reportFile)
	if err != nil {
		return nil, scanner.NewParseError(p.Name(), err)
	}
	defer func() {
		_ = f.Close()
	}()

	var run Run
	if err := xml.NewDecoder(f).Decode(&run); err != nil {
		return nil, scanner.NewParseError(p.Name(), fmt.Errorf("decoding %s: %w", reportFile, err))
	}

	findings := make([]v1alpha1.Finding, 0)
	for _, host := range run.Hosts {
		if host.Status.State != "" && host.Status.State != "up" {
			continue
		}
		address := host.Address()
		for _, port := range host.Ports {
			if port.State.State != "open" || p.allowed(port.PortID) {
				continue
			}
			findings = append(findings, p.toFinding(output.Target, address, port))
		}
	}
	p.ctx.GetLogger().V(1).Info("Parsed port scan", "hosts", len(run.Hosts), "unexpectedOpenPorts", len(findings))
	return findings, nil
}

func (p *plugin) allowed(port int) bool {
	for _, allowed := range p.config.AllowedPorts {
		if allowed == port {
			return true
		}
	}
	return false
}

func (p *plugin) toFinding(target v1alpha1.Target, address string, port Port) v1alpha1.Finding {
	endpoint := fmt.Sprintf("%s:%d/%s", address, port.PortID, port.Protocol)
	metadata := map[string]string{
		"host":     address,
		"port":     strconv.Itoa(port.PortID),
		"protocol": port.Protocol,
	}
	if port.Service.Name != "" {
		metadata["service"] = port.Service.Name
	}
	return v1alpha1.Finding{
		Kind:     v1alpha1.FindingKindComplianceGap,
		Severity: v1alpha1.SeverityMedium,
		Sources:  []string{p.Name()},
		Subject:  v1alpha1.Subject{Name: target.Image, Resource: endpoint},
		Detail: v1alpha1.FindingDetail{
			Title:       fmt.Sprintf("unexpected open port %d/%s", port.PortID, port.Protocol),
			Description: "Only ports in the allowed list should be exposed. Close the port or add it to the allowed ports.",
			RuleName:    RuleUnexpectedOpenPort,
			Metadata:    metadata,
		},
	}
}
