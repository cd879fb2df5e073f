package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/compliance"
	"github.com/aquasecurity/lookout/pkg/docker"
	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/aquasecurity/lookout/pkg/ext"
	"github.com/aquasecurity/lookout/pkg/kev"
	"github.com/aquasecurity/lookout/pkg/kube"
	"github.com/aquasecurity/lookout/pkg/orchestrator"
	"github.com/aquasecurity/lookout/pkg/plugin"
	"github.com/aquasecurity/lookout/pkg/policy"
	"github.com/aquasecurity/lookout/pkg/scanner"
	"github.com/aquasecurity/lookout/pkg/utils"
	"github.com/emirpasic/gods/sets/treeset"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

const scanLong = `Scan a container image and/or Kubernetes manifests.

The enabled scanners run concurrently against the image, their findings are
merged, policy rules are evaluated against the manifests and the image, and
compliance frameworks are scored. The command exits with 0 when every target
passes, with the --exit-code value when a target does not pass, and with 1 on
error.`

const scanExample = `  # Scan an image with the default scanners
  lookout scan --image nginx:1.25

  # Scan an image and the manifests deploying it with extra policies
  lookout scan --image registry.example.com/shop/api:1.4.2 --manifests ./deploy --policy ./policies

  # Scan every image referenced by the manifests, every night
  lookout scan --manifests ./deploy --scan-manifest-images --schedule "0 2 * * *"`

// ScanFlags are the flags of the scan command.
type ScanFlags struct {
	Image              string
	Manifests          string
	ScanManifestImages bool
	Policies           []string
	NoBuiltinRules     bool
	KEVFile            string
	FrameworksDir      string
	Output             string
	Schedule           string
	ExitCode           int

	Adapters          []string
	SeverityThreshold string
	MaxConcurrency    int
	AdapterTimeout    time.Duration
	Deadline          time.Duration
	RequireAll        bool
}

func NewScanCmd(global *GlobalFlags, outWriter io.Writer) *cobra.Command {
	var flags ScanFlags
	cmd := &cobra.Command{
		Use:     "scan",
		Short:   "Scan a container image and Kubernetes manifests",
		Long:    scanLong,
		Example: scanExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := global.LoadConfig(cmd)
			if err != nil {
				return err
			}
			flags.apply(cmd, &config)
			return flags.run(cmd.Context(), config, outWriter)
		},
	}

	cmd.Flags().StringVar(&flags.Image, "image", "", "Container image reference, e.g. registry/name:tag")
	cmd.Flags().StringVar(&flags.Manifests, "manifests", "", "Directory or file with Kubernetes manifests")
	cmd.Flags().BoolVar(&flags.ScanManifestImages, "scan-manifest-images", false,
		"Scan every container image referenced by the manifests in its own run")
	cmd.Flags().StringArrayVar(&flags.Policies, "policy", nil, "Policy document directory or file (repeatable)")
	cmd.Flags().BoolVar(&flags.NoBuiltinRules, "no-builtin-rules", false, "Do not load the built-in rules")
	cmd.Flags().StringVar(&flags.KEVFile, "kev", "", "Known Exploited Vulnerabilities catalog (CISA JSON feed or a list of CVE ids)")
	cmd.Flags().StringVar(&flags.FrameworksDir, "frameworks", "", "Directory with additional compliance framework specs")
	addOutputFlag(cmd, &flags.Output, OutputTable)
	cmd.Flags().StringVar(&flags.Schedule, "schedule", "", "Cron expression; when set, scans repeat on this schedule until interrupted")
	cmd.Flags().IntVar(&flags.ExitCode, "exit-code", 2, "Exit code when a target does not pass")

	cmd.Flags().StringSliceVar(&flags.Adapters, "scanners", nil, "Comma-separated names of the enabled scanners")
	cmd.Flags().StringVar(&flags.SeverityThreshold, "severity-threshold", "", "Lowest severity failing a target")
	cmd.Flags().IntVar(&flags.MaxConcurrency, "max-concurrency", 0, "Maximum number of scanners running at once")
	cmd.Flags().DurationVar(&flags.AdapterTimeout, "scanner-timeout", 0, "Timeout of a single scanner")
	cmd.Flags().DurationVar(&flags.Deadline, "deadline", 0, "Deadline of the whole run")
	cmd.Flags().BoolVar(&flags.RequireAll, "require-all-scanners", false,
		"Mark the run PartiallyFailed when any scanner fails")

	return cmd
}

// apply overrides configuration values with flags set on the command line.
func (f *ScanFlags) apply(cmd *cobra.Command, config *etc.Config) {
	changed := cmd.Flags().Changed
	if changed("scanners") {
		config.Run.EnabledAdapters = f.Adapters
	}
	if changed("severity-threshold") {
		config.Run.SeverityThreshold = v1alpha1.Severity(f.SeverityThreshold)
	}
	if changed("max-concurrency") {
		config.Run.MaxConcurrency = f.MaxConcurrency
	}
	if changed("scanner-timeout") {
		config.Run.PerAdapterTimeout = f.AdapterTimeout
	}
	if changed("deadline") {
		config.Run.OverallDeadline = f.Deadline
	}
	if changed("require-all-scanners") {
		config.Run.RequireAllAdaptersSucceed = f.RequireAll
	}
}

func (f *ScanFlags) validate() error {
	var problems []string
	if err := validateOutput(f.Output); err != nil {
		problems = append(problems, err.Error())
	}
	if f.Image == "" && f.Manifests == "" {
		problems = append(problems, "an image or a manifests path is required")
	}
	if f.ScanManifestImages && f.Manifests == "" {
		problems = append(problems, "--scan-manifest-images requires --manifests")
	}
	if f.Schedule != "" {
		if err := utils.ValidateCron(f.Schedule); err != nil {
			problems = append(problems, fmt.Sprintf("invalid schedule %q: %v", f.Schedule, err))
		}
	}
	if len(problems) > 0 {
		return &etc.ConfigurationError{Problems: problems}
	}
	return nil
}

// scan holds everything loaded once and shared by all runs of a command.
type scan struct {
	config     etc.Config
	rules      *policy.RuleSet
	frameworks []compliance.Framework
	kev        kev.Set
	adapters   []scanner.Adapter
	targets    []v1alpha1.Target
	logger     logr.Logger
}

func (f *ScanFlags) run(ctx context.Context, config etc.Config, outWriter io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := f.validate(); err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return err
	}

	logger, flush, err := newLogger(config.LogDevMode)
	if err != nil {
		return err
	}
	defer flush()

	s, err := f.prepare(ctx, config, logger)
	if err != nil {
		return err
	}

	if f.Schedule == "" {
		return f.scanOnce(ctx, s, outWriter)
	}
	return f.scanOnSchedule(ctx, s, outWriter, ext.NewSystemClock())
}

func (f *ScanFlags) prepare(ctx context.Context, config etc.Config, logger logr.Logger) (*scan, error) {
	rules, err := policy.LoadRules(ctx, f.Policies, !f.NoBuiltinRules, logger)
	if err != nil {
		return nil, err
	}
	frameworks, err := compliance.LoadFrameworks(f.FrameworksDir, logger)
	if err != nil {
		return nil, err
	}

	var set kev.Set
	if f.KEVFile != "" {
		set, err = kev.LoadFile(f.KEVFile)
		if err != nil {
			return nil, err
		}
		logger.V(1).Info("Loaded KEV catalog", "path", f.KEVFile, "count", set.Len())
	}

	var dockerConfig *docker.Config
	if config.DockerConfig != "" {
		dockerConfig, err = docker.LoadConfig(config.DockerConfig)
		if err != nil {
			return nil, err
		}
	}

	adapters, err := plugin.NewResolver().
		WithConfig(config).
		WithLogger(logger).
		WithDockerConfig(dockerConfig).
		GetAdapters()
	if err != nil {
		return nil, err
	}

	targets, err := f.targets(logger)
	if err != nil {
		return nil, err
	}

	return &scan{
		config:     config,
		rules:      rules,
		frameworks: frameworks,
		kev:        set,
		adapters:   adapters,
		targets:    targets,
		logger:     logger,
	}, nil
}

// targets returns the targets to scan: the image and manifests given on the
// command line, then each distinct image referenced by the manifests when
// requested.
func (f *ScanFlags) targets(logger logr.Logger) ([]v1alpha1.Target, error) {
	targets := []v1alpha1.Target{{Image: f.Image, Manifests: f.Manifests}}
	if !f.ScanManifestImages {
		return targets, nil
	}

	resources, err := kube.LoadManifests(f.Manifests, logger)
	if err != nil {
		return nil, &etc.ConfigurationError{Problems: []string{err.Error()}}
	}
	images := treeset.NewWithStringComparator()
	for _, resource := range resources {
		if _, ok := kube.PodTemplate(resource); !ok {
			continue
		}
		refs, err := kube.ContainerImages(resource)
		if err != nil {
			logger.Error(err, "Unable to read container images", "resource", resource.ID())
			continue
		}
		for _, ref := range refs {
			images.Add(ref)
		}
	}
	images.Remove(f.Image)
	for _, image := range images.Values() {
		targets = append(targets, v1alpha1.Target{Image: image.(string)})
	}
	return targets, nil
}

// scanOnce runs every target. A target whose run aborts does not stop the
// others; the reports of completed runs are printed before the errors are
// returned.
func (f *ScanFlags) scanOnce(ctx context.Context, s *scan, outWriter io.Writer) error {
	reports := make([]v1alpha1.Report, 0, len(s.targets))
	var failed []string
	var errs []error
	for _, target := range s.targets {
		rc := orchestrator.NewRunContext(s.config).
			WithRules(s.rules).
			WithFrameworks(s.frameworks).
			WithKEV(s.kev).
			WithLogger(s.logger)
		report, err := orchestrator.New(rc, s.adapters...).Run(ctx, target)
		if err != nil {
			s.logger.Error(err, "Unable to scan target", "target", target.String())
			errs = append(errs, fmt.Errorf("scanning %s: %w", target, err))
			continue
		}
		if !report.Pass {
			failed = append(failed, target.String())
		}
		reports = append(reports, report)
	}

	if len(reports) > 0 {
		if err := PrintReports(outWriter, f.Output, reports); err != nil {
			return err
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if len(failed) > 0 && f.ExitCode != 0 {
		sort.Strings(failed)
		return &ExitCodeError{Code: f.ExitCode, Failed: failed}
	}
	return nil
}

// scanOnSchedule scans at every activation of the cron schedule until ctx is
// done. Each activation is an independent set of runs; a failing activation
// is logged and does not stop the schedule.
func (f *ScanFlags) scanOnSchedule(ctx context.Context, s *scan, outWriter io.Writer, clock ext.Clock) error {
	for {
		wait, err := utils.NextCronDuration(f.Schedule, clock.Now(), clock)
		if err != nil {
			return err
		}
		if !utils.DurationExceeded(wait) {
			s.logger.Info("Waiting for the next scheduled scan", "schedule", f.Schedule, "in", wait)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		if err := f.scanOnce(ctx, s, outWriter); err != nil {
			s.logger.Error(err, "Scheduled scan did not pass")
		}
	}
}
