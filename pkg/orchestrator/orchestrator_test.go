package orchestrator_test

import (
	"context"
	"errors"
	"time"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/compliance"
	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/aquasecurity/lookout/pkg/ext"
	"github.com/aquasecurity/lookout/pkg/kev"
	"github.com/aquasecurity/lookout/pkg/orchestrator"
	"github.com/aquasecurity/lookout/pkg/policy"
	"github.com/aquasecurity/lookout/pkg/scanner"
	"github.com/go-logr/logr"
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var fixedTime = time.Date(2024, time.March, 14, 9, 30, 0, 0, time.UTC)

func newConfig() etc.Config {
	return etc.Config{
		Run: etc.Run{
			MaxConcurrency:    4,
			PerAdapterTimeout: time.Minute,
			OverallDeadline:   time.Minute,
			SeverityThreshold: v1alpha1.SeverityHigh,
			EnabledAdapters:   []string{"trivy", "grype"},
		},
	}
}

func newRunContext(config etc.Config) orchestrator.RunContext {
	return orchestrator.NewRunContext(config).
		WithClock(ext.NewFixedClock(fixedTime)).
		WithIDGenerator(ext.NewSimpleIDGenerator()).
		WithLogger(logr.Discard())
}

func vulnerability(source string, severity v1alpha1.Severity) v1alpha1.Finding {
	return v1alpha1.Finding{
		Kind:     v1alpha1.FindingKindVulnerability,
		Severity: severity,
		Sources:  []string{source},
		Subject:  v1alpha1.Subject{Name: "openssl", Version: "1.1.1"},
		Detail: v1alpha1.FindingDetail{
			VulnerabilityID: "CVE-2023-1234",
			Title:           "openssl: buffer overflow",
		},
	}
}

var image = v1alpha1.Target{Image: "registry.example.com/shop/web:1.4.2"}

var _ = ginkgo.Describe("Orchestrator", func() {

	ginkgo.Context("when every scanner succeeds", func() {
		ginkgo.It("merges findings of all scanners into one report", func() {
			rc := newRunContext(newConfig()).
				WithKEV(kev.NewSet("CVE-2023-1234")).
				WithFrameworks([]compliance.Framework{{
					Name:      "Images",
					PassScore: 80,
					Checks: []compliance.Check{{
						ID: "1", Name: "No vulnerabilities", Weight: 1,
						Mapping: compliance.Mapping{
							FindingKinds: []v1alpha1.FindingKind{v1alpha1.FindingKindVulnerability},
							FailOn:       v1alpha1.SeverityHigh,
						},
					}},
				}})
			o := orchestrator.New(rc,
				&fakeAdapter{name: "trivy", findings: []v1alpha1.Finding{vulnerability("trivy", v1alpha1.SeverityHigh)}},
				&fakeAdapter{name: "grype", findings: []v1alpha1.Finding{vulnerability("grype", v1alpha1.SeverityCritical)}},
			)
			Expect(o.Status()).To(Equal(v1alpha1.RunStatusPending))

			report, err := o.Run(context.Background(), image)
			Expect(err).ToNot(HaveOccurred())
			Expect(o.Status()).To(Equal(v1alpha1.RunStatusCompleted))

			Expect(report.RunID).To(Equal("00000000-0000-0000-0000-000000000001"))
			Expect(report.Target).To(Equal(image))
			Expect(report.UpdateTimestamp.Time).To(Equal(fixedTime))
			Expect(report.Status).To(Equal(v1alpha1.RunStatusCompleted))
			Expect(report.Failures).To(BeEmpty())

			Expect(report.Findings).To(HaveLen(1))
			finding := report.Findings[0]
			Expect(finding.Severity).To(Equal(v1alpha1.SeverityCritical))
			Expect(finding.Sources).To(Equal([]string{"grype", "trivy"}))
			Expect(finding.ConfirmedExploited).To(BeTrue())
			Expect(finding.ID).ToNot(BeEmpty())

			Expect(report.Scanners).To(HaveLen(2))
			Expect(report.Scanners[0].Name).To(Equal("trivy"))
			Expect(report.Scanners[0].Outcome).To(Equal(v1alpha1.ScannerOutcomeSucceeded))
			Expect(report.Scanners[0].FindingCount).To(Equal(1))

			Expect(report.Scores).To(HaveLen(1))
			Expect(report.Scores[0].FailCount).To(Equal(1))
			Expect(report.Summary.Findings.CriticalCount).To(Equal(1))
			Expect(report.Summary.SeverityThreshold).To(Equal(v1alpha1.SeverityHigh))
			Expect(report.Pass).To(BeFalse())
		})

		ginkgo.It("passes when nothing reaches the severity threshold", func() {
			o := orchestrator.New(newRunContext(newConfig()),
				&fakeAdapter{name: "trivy", findings: []v1alpha1.Finding{vulnerability("trivy", v1alpha1.SeverityMedium)}},
			)
			report, err := o.Run(context.Background(), image)
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Pass).To(BeTrue())
			Expect(report.Verdicts).To(BeEmpty())
			Expect(report.Scores).To(BeEmpty())
		})

		ginkgo.It("evaluates rules against manifests and the image", func() {
			rules, err := policy.LoadRules(context.Background(), nil, true, logr.Discard())
			Expect(err).ToNot(HaveOccurred())
			o := orchestrator.New(newRunContext(newConfig()).WithRules(rules),
				&fakeAdapter{name: "trivy"},
			)

			report, err := o.Run(context.Background(), v1alpha1.Target{
				Image:     "nginx:1.25",
				Manifests: "testdata/manifests",
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(report.RuleSetHash).To(Equal(rules.Hash()))

			var privileged []v1alpha1.Verdict
			images := 0
			for _, v := range report.Verdicts {
				if v.Rule == "disallow-privileged-containers" {
					privileged = append(privileged, v)
				}
				if v.Resource == "Image/nginx:1.25" {
					images++
					Expect(v.Outcome).To(Equal(v1alpha1.OutcomePass))
				}
			}
			Expect(privileged).To(HaveLen(1))
			Expect(privileged[0].Resource).To(Equal("Deployment/prod/web"))
			Expect(privileged[0].Outcome).To(Equal(v1alpha1.OutcomeFail))
			Expect(images).To(Equal(2))
			Expect(report.Summary.Verdicts.FailCount).To(BeNumerically(">", 0))
			Expect(report.Pass).To(BeFalse())
		})

		ginkgo.It("evaluates rules of a manifests only target without scanners", func() {
			rules, err := policy.LoadRules(context.Background(), nil, true, logr.Discard())
			Expect(err).ToNot(HaveOccurred())
			o := orchestrator.New(newRunContext(newConfig()).WithRules(rules), &fakeAdapter{name: "trivy"})

			report, err := o.Run(context.Background(), v1alpha1.Target{Manifests: "testdata/manifests"})
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Scanners).To(BeEmpty())
			Expect(report.Verdicts).ToNot(BeEmpty())
		})
	})

	ginkgo.Context("when scanners fail", func() {
		ginkgo.It("aborts without a report when every scanner failed", func() {
			o := orchestrator.New(newRunContext(newConfig()),
				&fakeAdapter{name: "trivy", runErr: &scanner.ToolFailureError{Tool: "trivy", ExitCode: 2, Stderr: "FATAL"}},
				&fakeAdapter{name: "grype", runErr: &scanner.ToolFailureError{Tool: "grype", ExitCode: 1}},
			)
			report, err := o.Run(context.Background(), image)
			Expect(err).To(MatchError(orchestrator.ErrAborted))
			Expect(report).To(Equal(v1alpha1.Report{}))
			Expect(o.Status()).To(Equal(v1alpha1.RunStatusAborted))

			var aborted *orchestrator.AbortedError
			Expect(errors.As(err, &aborted)).To(BeTrue())
			Expect(aborted.Reason).To(Equal("every scanner failed"))
			Expect(aborted.Failures).To(Equal([]v1alpha1.Failure{
				{Scanner: "trivy", Class: v1alpha1.ErrorClassToolFailure, Message: "trivy failed with exit code 2: FATAL"},
				{Scanner: "grype", Class: v1alpha1.ErrorClassToolFailure, Message: "grype failed with exit code 1"},
			}))
		})

		ginkgo.It("aborts when the overall deadline elapses", func() {
			config := newConfig()
			config.Run.OverallDeadline = 100 * time.Millisecond
			o := orchestrator.New(newRunContext(config),
				&fakeAdapter{name: "trivy", delay: 10 * time.Second},
				&fakeAdapter{name: "grype"},
			)
			started := time.Now()
			_, err := o.Run(context.Background(), image)
			Expect(time.Since(started)).To(BeNumerically("<", 5*time.Second))

			var aborted *orchestrator.AbortedError
			Expect(errors.As(err, &aborted)).To(BeTrue())
			Expect(aborted.Reason).To(Equal("overall deadline of 100ms elapsed"))
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(o.Status()).To(Equal(v1alpha1.RunStatusAborted))
		})

		ginkgo.It("records timed out scanners and completes", func() {
			config := newConfig()
			config.Run.PerAdapterTimeout = 50 * time.Millisecond
			o := orchestrator.New(newRunContext(config),
				&fakeAdapter{name: "trivy", delay: 10 * time.Second},
				&fakeAdapter{name: "grype"},
			)
			report, err := o.Run(context.Background(), image)
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Status).To(Equal(v1alpha1.RunStatusCompleted))
			Expect(report.Failures).To(HaveLen(1))
			Expect(report.Failures[0].Scanner).To(Equal("trivy"))
			Expect(report.Failures[0].Class).To(Equal(v1alpha1.ErrorClassTimeout))
			Expect(report.Scanners[0].Outcome).To(Equal(v1alpha1.ScannerOutcomeFailed))
		})

		ginkgo.It("records parse failures without findings", func() {
			o := orchestrator.New(newRunContext(newConfig()),
				&fakeAdapter{name: "trivy", parseErr: errors.New("unexpected end of JSON input")},
				&fakeAdapter{name: "grype", findings: []v1alpha1.Finding{vulnerability("grype", v1alpha1.SeverityLow)}},
			)
			report, err := o.Run(context.Background(), image)
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Status).To(Equal(v1alpha1.RunStatusCompleted))
			Expect(report.Failures).To(Equal([]v1alpha1.Failure{{
				Scanner: "trivy",
				Class:   v1alpha1.ErrorClassParseFailure,
				Message: "parsing trivy output: unexpected end of JSON input",
			}}))
			Expect(report.Findings).To(HaveLen(1))
			Expect(report.Findings[0].Sources).To(Equal([]string{"grype"}))
		})

		ginkgo.It("completes when the only scanner output cannot be parsed", func() {
			rc := newRunContext(newConfig()).WithFrameworks([]compliance.Framework{{
				Name:      "Images",
				PassScore: 80,
				Checks: []compliance.Check{{
					ID: "1", Weight: 1,
					Mapping: compliance.Mapping{
						FindingKinds: []v1alpha1.FindingKind{v1alpha1.FindingKindVulnerability},
						FailOn:       v1alpha1.SeverityHigh,
					},
				}},
			}})
			o := orchestrator.New(rc,
				&fakeAdapter{name: "trivy", parseErr: errors.New("invalid character '<' looking for beginning of value")},
			)
			report, err := o.Run(context.Background(), image)
			Expect(err).ToNot(HaveOccurred())
			Expect(o.Status()).To(Equal(v1alpha1.RunStatusCompleted))
			Expect(report.Status).To(Equal(v1alpha1.RunStatusCompleted))
			Expect(report.Findings).To(BeEmpty())
			Expect(report.Scanners[0].Outcome).To(Equal(v1alpha1.ScannerOutcomeFailed))
			Expect(report.Failures).To(HaveLen(1))
			Expect(report.Failures[0].Class).To(Equal(v1alpha1.ErrorClassParseFailure))
			Expect(report.Scores[0].Checks[0].Status).To(Equal(v1alpha1.CheckStatusIndeterminate))
			Expect(report.Pass).To(BeFalse())
		})

		ginkgo.It("never passes vulnerability rules when every vulnerability scanner failed", func() {
			rules, err := policy.LoadRules(context.Background(), nil, true, logr.Discard())
			Expect(err).ToNot(HaveOccurred())
			frameworks, err := compliance.LoadFrameworks("", logr.Discard())
			Expect(err).ToNot(HaveOccurred())

			o := orchestrator.New(newRunContext(newConfig()).WithRules(rules).WithFrameworks(frameworks),
				&fakeAdapter{name: "trivy", runErr: &scanner.ToolFailureError{Tool: "trivy", ExitCode: 1}},
				&fakeAdapter{name: "grype", runErr: &scanner.ToolFailureError{Tool: "grype", ExitCode: 1}},
				&fakeAdapter{name: "dive", kinds: []v1alpha1.FindingKind{v1alpha1.FindingKindComplianceGap}},
			)
			report, err := o.Run(context.Background(), v1alpha1.Target{Image: "nginx:1.25"})
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Status).To(Equal(v1alpha1.RunStatusCompleted))
			Expect(report.Failures).To(HaveLen(2))

			outcomes := make(map[string]v1alpha1.Outcome)
			for _, v := range report.Verdicts {
				if v.Resource == "Image/nginx:1.25" {
					outcomes[v.Rule] = v.Outcome
				}
			}
			Expect(outcomes).To(HaveKeyWithValue("no-critical-vulnerabilities", v1alpha1.OutcomeError))
			Expect(outcomes).To(HaveKeyWithValue("no-known-exploited-vulnerabilities", v1alpha1.OutcomeError))
			Expect(report.Summary.Verdicts.ErrorCount).To(BeNumerically(">=", 2))

			var nist *v1alpha1.Score
			for i := range report.Scores {
				if report.Scores[i].Framework == "NIST SP 800-190" {
					nist = &report.Scores[i]
				}
			}
			Expect(nist).ToNot(BeNil())
			statuses := make(map[string]v1alpha1.CheckStatus)
			for _, check := range nist.Checks {
				statuses[check.ID] = check.Status
			}
			Expect(statuses).To(HaveKeyWithValue("4.1.1", v1alpha1.CheckStatusIndeterminate))
			Expect(statuses).To(HaveKeyWithValue("4.4.1", v1alpha1.CheckStatusIndeterminate))
			Expect(statuses).To(HaveKeyWithValue("4.4.4", v1alpha1.CheckStatusNotApplicable))
			Expect(nist.Indeterminate).To(BeTrue())
			Expect(report.Pass).To(BeFalse())
		})

		ginkgo.It("reports partial failure when every scanner must succeed", func() {
			config := newConfig()
			config.Run.RequireAllAdaptersSucceed = true
			o := orchestrator.New(newRunContext(config),
				&fakeAdapter{name: "trivy", runErr: &scanner.ToolFailureError{Tool: "trivy", ExitCode: 1}},
				&fakeAdapter{name: "grype"},
			)
			report, err := o.Run(context.Background(), image)
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Status).To(Equal(v1alpha1.RunStatusPartiallyFailed))
			Expect(o.Status()).To(Equal(v1alpha1.RunStatusPartiallyFailed))
			Expect(report.Pass).To(BeFalse())
		})

		ginkgo.It("treats uncovered finding kinds as indeterminate", func() {
			rc := newRunContext(newConfig()).WithFrameworks([]compliance.Framework{{
				Name:      "Licenses",
				PassScore: 80,
				Checks: []compliance.Check{{
					ID: "1", Weight: 1,
					Mapping: compliance.Mapping{
						FindingKinds: []v1alpha1.FindingKind{v1alpha1.FindingKindLicenseIssue},
						FailOn:       v1alpha1.SeverityHigh,
					},
				}},
			}})
			o := orchestrator.New(rc,
				&fakeAdapter{name: "trivy"},
				&fakeAdapter{name: "grype", kinds: []v1alpha1.FindingKind{v1alpha1.FindingKindLicenseIssue}, runErr: errors.New("boom")},
			)
			report, err := o.Run(context.Background(), image)
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Scores[0].Indeterminate).To(BeTrue())
			Expect(report.Scores[0].Checks[0].Status).To(Equal(v1alpha1.CheckStatusIndeterminate))
			Expect(report.Pass).To(BeFalse())
		})
	})

	ginkgo.Context("when the input is invalid", func() {
		ginkgo.It("returns a configuration error before launching scanners", func() {
			config := newConfig()
			config.Run.MaxConcurrency = 0
			g := &gauge{}
			o := orchestrator.New(newRunContext(config), &fakeAdapter{name: "trivy", gauge: g})

			_, err := o.Run(context.Background(), image)
			var configErr *etc.ConfigurationError
			Expect(errors.As(err, &configErr)).To(BeTrue())
			Expect(configErr.Problems).To(ConsistOf("maxConcurrency must be at least 1, got 0"))
			Expect(g.calls.Load()).To(BeZero())
		})

		ginkgo.It("rejects an empty target", func() {
			_, err := orchestrator.New(newRunContext(newConfig()), &fakeAdapter{name: "trivy"}).
				Run(context.Background(), v1alpha1.Target{})
			Expect(err).To(MatchError("invalid configuration: an image or a manifests path is required"))
		})

		ginkgo.It("rejects an invalid image reference", func() {
			err := orchestrator.ValidateTarget(v1alpha1.Target{Image: "Registry/UPPER:case"})
			var configErr *etc.ConfigurationError
			Expect(errors.As(err, &configErr)).To(BeTrue())
		})

		ginkgo.It("aborts when no scanner supports an image target", func() {
			_, err := orchestrator.New(newRunContext(newConfig()), &fakeAdapter{name: "trivy", unsupported: true}).
				Run(context.Background(), image)
			Expect(err).To(MatchError(orchestrator.ErrAborted))
			Expect(err.Error()).To(Equal("run 00000000-0000-0000-0000-000000000001 aborted: no enabled scanner supports the target"))
		})

		ginkgo.It("runs only once", func() {
			o := orchestrator.New(newRunContext(newConfig()), &fakeAdapter{name: "trivy"})
			_, err := o.Run(context.Background(), image)
			Expect(err).ToNot(HaveOccurred())
			_, err = o.Run(context.Background(), image)
			Expect(err).To(MatchError("run already Completed"))
		})
	})

	ginkgo.It("never runs more scanners at once than allowed", func() {
		config := newConfig()
		config.Run.MaxConcurrency = 2
		g := &gauge{}
		var adapters []scanner.Adapter
		for _, name := range []string{"trivy", "grype", "syft", "dive"} {
			adapters = append(adapters, &fakeAdapter{name: name, delay: 50 * time.Millisecond, gauge: g})
		}
		report, err := orchestrator.New(newRunContext(config), adapters...).Run(context.Background(), image)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Scanners).To(HaveLen(4))
		Expect(g.calls.Load()).To(Equal(int32(4)))
		Expect(g.peak.Load()).To(BeNumerically("<=", 2))
	})
})
