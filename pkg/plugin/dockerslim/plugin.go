package dockerslim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/aquasecurity/lookout/pkg/lookout"
	"github.com/aquasecurity/lookout/pkg/scanner"
	"github.com/google/go-containerregistry/pkg/v1/partial"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
)

const (
	artifactsDir = "artifacts"
	reportFile   = artifactsDir + "/creport.json"
	imageArchive = "slim.tar"

	RuleImageNotMinimal = "image-not-minimal"
)

type plugin struct {
	ctx    lookout.PluginContext
	config etc.DockerSlim
}

// NewPlugin constructs a new scanner.Adapter, which builds a minified copy
// of the image with docker-slim and reports how much of the original image
// is unnecessary.
func NewPlugin(ctx lookout.PluginContext, config etc.DockerSlim) scanner.Adapter {
	return &plugin{
		ctx:    ctx,
		config: config,
	}
}

func (p *plugin) Name() string {
	return lookout.DockerSlim
}

func (p *plugin) Scanner() v1alpha1.Scanner {
	return v1alpha1.Scanner{
		Name:   "DockerSlim",
		Vendor: "slim.ai",
	}
}

func (p *plugin) Kinds() []v1alpha1.FindingKind {
	return []v1alpha1.FindingKind{v1alpha1.FindingKindComplianceGap}
}

func (p *plugin) Supports(target v1alpha1.Target) bool {
	return target.Image != ""
}

func (p *plugin) Run(ctx context.Context, target v1alpha1.Target) (*scanner.RawOutput, error) {
	slimTag := SlimTag(target.Image)
	output, err := scanner.Execute(ctx, p.ctx.GetLogger(), p.Name(),
		scanner.Command{
			Path: p.config.Path,
			Args: []string{
				"build",
				"--target", target.Image,
				"--tag", slimTag,
				"--http-probe=false",
				"--copy-meta-artifacts", scanner.WorkDir + "/" + artifactsDir,
			},
		},
		scanner.Command{
			Path: p.config.DockerPath,
			Args: []string{"save", "-o", scanner.WorkDir + "/" + imageArchive, slimTag},
		},
	)
	if err != nil {
		return nil, err
	}
	output.Target = target
	return output, nil
}

// SlimTag returns the tag of the minified image built for image.
func SlimTag(image string) string {
	repository := image
	if i := strings.Index(repository, "@"); i >= 0 {
		repository = repository[:i]
	}
	if i := strings.LastIndex(repository, ":"); i > strings.LastIndex(repository, "/") {
		repository = repository[:i]
	}
	return repository + "-slim:latest"
}

func (p *plugin) Parse(output *scanner.RawOutput) ([]v1alpha1.Finding, error) {
	analysis, err := p.analyze(output)
	if err != nil {
		return nil, scanner.NewParseError(p.Name(), err)
	}

	findings := make([]v1alpha1.Finding, 0)
	if analysis.Ratio <= p.config.MaxReductionRatio {
		return findings, nil
	}
	findings = append(findings, v1alpha1.Finding{
		Kind:     v1alpha1.FindingKindComplianceGap,
		Severity: v1alpha1.SeverityLow,
		Sources:  []string{p.Name()},
		Subject:  v1alpha1.Subject{Name: output.Target.Image},
		Detail: v1alpha1.FindingDetail{
			Title:       fmt.Sprintf("image could be %.1f times smaller", analysis.Ratio),
			Description: "The image contains files that are not used at runtime. Remove unnecessary packages.",
			RuleName:    RuleImageNotMinimal,
			Metadata: map[string]string{
				"originalSize": strconv.FormatInt(analysis.OriginalSize, 10),
				"slimSize":     strconv.FormatInt(analysis.SlimSize, 10),
				"slimLayers":   strconv.Itoa(analysis.SlimLayers),
				"ratio":        strconv.FormatFloat(analysis.Ratio, 'f', 2, 64),
			},
		},
	})
	return findings, nil
}

func (p *plugin) analyze(output *scanner.RawOutput) (Analysis, error) {
	report, reportErr := readReport(output)
	archiveSize, layers, archiveErr := readArchive(output)
	if reportErr != nil && archiveErr != nil {
		return Analysis{}, fmt.Errorf("no usable docker-slim output: %v; %v", reportErr, archiveErr)
	}

	analysis := Analysis{
		OriginalSize: report.SourceImage.Size,
		SlimSize:     report.MinifiedImageSize,
		SlimLayers:   layers,
	}
	if archiveErr == nil && archiveSize > 0 {
		analysis.SlimSize = archiveSize
	}

	switch {
	case analysis.OriginalSize > 0 && analysis.SlimSize > 0:
		analysis.Ratio = float64(analysis.OriginalSize) / float64(analysis.SlimSize)
	case report.MinifiedBy > 0:
		analysis.Ratio = report.MinifiedBy
	default:
		return Analysis{}, errors.New("unable to determine original and minified image sizes")
	}
	return analysis, nil
}

func readReport(output *scanner.RawOutput) (Report, error) {
	f, err := output.Open(reportFile)
	if err != nil {
		return Report{}, err
	}
	defer func() {
		_ = f.Close()
	}()
	var report Report
	if err := json.NewDecoder(f).Decode(&report); err != nil {
		return Report{}, fmt.Errorf("decoding %s: %w", reportFile, err)
	}
	return report, nil
}

// readArchive sums the uncompressed sizes of the layers of a `docker save`
// archive.
func readArchive(output *scanner.RawOutput) (int64, int, error) {
	img, err := tarball.Image(func() (io.ReadCloser, error) {
		return output.Open(imageArchive)
	}, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("reading %s: %w", imageArchive, err)
	}
	layers, err := img.Layers()
	if err != nil {
		return 0, 0, fmt.Errorf("reading layers of %s: %w", imageArchive, err)
	}
	var total int64
	for _, layer := range layers {
		size, err := partial.UncompressedSize(layer)
		if err != nil {
			return 0, 0, fmt.Errorf("reading layers of %s: %w", imageArchive, err)
		}
		total += size
	}
	return total, len(layers), nil
}
