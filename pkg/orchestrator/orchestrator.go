// Package orchestrator drives one analysis run: it launches the scanners
// that support the target, merges their findings, evaluates policy rules,
// scores compliance frameworks and assembles the Report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/compliance"
	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/aquasecurity/lookout/pkg/ext"
	"github.com/aquasecurity/lookout/pkg/findings"
	"github.com/aquasecurity/lookout/pkg/kube"
	"github.com/aquasecurity/lookout/pkg/policy"
	"github.com/aquasecurity/lookout/pkg/runner"
	"github.com/aquasecurity/lookout/pkg/scanner"
	"github.com/emirpasic/gods/sets/hashset"
	"github.com/google/go-containerregistry/pkg/name"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Orchestrator executes a single run. Status moves from Pending to Running
// and ends in Completed, PartiallyFailed or Aborted.
type Orchestrator struct {
	rc       RunContext
	adapters []scanner.Adapter

	mu     sync.Mutex
	status v1alpha1.RunStatus
}

func New(rc RunContext, adapters ...scanner.Adapter) *Orchestrator {
	return &Orchestrator{
		rc:       rc,
		adapters: adapters,
		status:   v1alpha1.RunStatusPending,
	}
}

func (o *Orchestrator) Status() v1alpha1.RunStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Orchestrator) setStatus(status v1alpha1.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status = status
}

// adapterResult is what one adapter contributed to the run.
type adapterResult struct {
	findings []v1alpha1.Finding
	parseErr error
}

// ValidateTarget checks that at least one of image and manifests is set and
// that the image is a valid reference.
func ValidateTarget(target v1alpha1.Target) error {
	var problems []string
	if target.Image == "" && target.Manifests == "" {
		problems = append(problems, "an image or a manifests path is required")
	}
	if target.Image != "" {
		if _, err := name.ParseReference(target.Image); err != nil {
			problems = append(problems, fmt.Sprintf("invalid image reference %q: %v", target.Image, err))
		}
	}
	if len(problems) > 0 {
		return &etc.ConfigurationError{Problems: problems}
	}
	return nil
}

// Run analyzes the target and returns the Report. It returns a
// *etc.ConfigurationError before launching any scanner when the
// configuration or the target is invalid, and an *AbortedError when no
// scanner produced a result or the overall deadline elapsed.
func (o *Orchestrator) Run(ctx context.Context, target v1alpha1.Target) (v1alpha1.Report, error) {
	o.mu.Lock()
	if o.status != v1alpha1.RunStatusPending {
		o.mu.Unlock()
		return v1alpha1.Report{}, fmt.Errorf("run already %s", o.status)
	}
	o.status = v1alpha1.RunStatusRunning
	o.mu.Unlock()

	report, err := o.run(ctx, target)
	if err != nil {
		o.setStatus(v1alpha1.RunStatusAborted)
		return v1alpha1.Report{}, err
	}
	o.setStatus(report.Status)
	return report, nil
}

func (o *Orchestrator) run(ctx context.Context, target v1alpha1.Target) (v1alpha1.Report, error) {
	config := o.rc.Config.Run
	logger := o.rc.Logger
	runID := o.rc.IDGenerator.GenerateID()
	logger = logger.WithValues("runID", runID)

	// 1. Validate configuration and inputs before anything is launched
	if err := o.rc.Config.Validate(); err != nil {
		return v1alpha1.Report{}, err
	}
	if err := ValidateTarget(target); err != nil {
		return v1alpha1.Report{}, err
	}
	rules := o.rc.Rules
	if rules == nil {
		rules, _ = policy.NewRuleSet(nil, nil)
	}
	var resources []kube.Resource
	if target.Manifests != "" {
		var err error
		resources, err = kube.LoadManifests(target.Manifests, logger)
		if err != nil {
			return v1alpha1.Report{}, &etc.ConfigurationError{Problems: []string{err.Error()}}
		}
	}

	logger.Info("Starting run", "target", target.String())
	start := o.rc.Clock.Now()

	// 2. Launch the adapters supporting the target with bounded concurrency
	var adapters []scanner.Adapter
	for _, adapter := range o.adapters {
		if !adapter.Supports(target) {
			logger.V(1).Info("Skipping scanner that does not support the target", "scanner", adapter.Name())
			continue
		}
		adapters = append(adapters, adapter)
	}
	if len(adapters) == 0 && target.Manifests == "" {
		return v1alpha1.Report{}, &AbortedError{RunID: runID, Reason: "no enabled scanner supports the target"}
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, config.OverallDeadline)
	defer cancel()

	results := make([]adapterResult, len(adapters))
	tasks := make([]runner.Runnable, len(adapters))
	for i, adapter := range adapters {
		i, adapter := i, adapter
		tasks[i] = runner.RunnableFunc(func(ctx context.Context) error {
			output, err := adapter.Run(ctx, target)
			if err != nil {
				return err
			}
			defer func() {
				if err := output.Close(); err != nil {
					logger.Error(err, "Unable to remove scanner output", "scanner", adapter.Name())
				}
			}()
			results[i].findings, results[i].parseErr = adapter.Parse(output)
			return nil
		})
	}
	runResults := runner.New(config.MaxConcurrency, config.PerAdapterTimeout).Run(deadlineCtx, tasks...)

	// 3. Collect scanner outcomes. A parse failure contributes no findings
	// and is recorded, but the scanner still ran.
	var scanners []v1alpha1.ScannerResult
	var failures []v1alpha1.Failure
	var sets [][]v1alpha1.Finding
	attempted := hashset.New()
	coverage := hashset.New()
	ran := 0
	for i, adapter := range adapters {
		for _, kind := range adapter.Kinds() {
			attempted.Add(kind)
		}
		err := runResults[i].Err
		if err == nil {
			ran++
			if results[i].parseErr != nil {
				err = results[i].parseErr
				if !errors.Is(err, scanner.ErrParseFailure) {
					err = scanner.NewParseError(adapter.Name(), err)
				}
			}
		}
		result := v1alpha1.ScannerResult{
			Scanner:  adapter.Scanner(),
			Duration: metav1.Duration{Duration: runResults[i].Duration},
		}
		if err != nil {
			class := scanner.Classify(err)
			logger.V(1).Info("Scanner failed", "scanner", adapter.Name(), "class", class, "error", err.Error())
			result.Outcome = v1alpha1.ScannerOutcomeFailed
			failures = append(failures, v1alpha1.Failure{
				Scanner: adapter.Name(),
				Class:   class,
				Message: err.Error(),
			})
		} else {
			logger.V(1).Info("Scanner succeeded", "scanner", adapter.Name(), "findings", len(results[i].findings),
				"duration", runResults[i].Duration)
			result.Outcome = v1alpha1.ScannerOutcomeSucceeded
			result.FindingCount = len(results[i].findings)
			sets = append(sets, results[i].findings)
			for _, kind := range adapter.Kinds() {
				coverage.Add(kind)
			}
		}
		scanners = append(scanners, result)
	}

	// 4. Abort without a report when the deadline elapsed or no scanner ran
	if err := deadlineCtx.Err(); err != nil {
		reason := "overall deadline of " + config.OverallDeadline.String() + " elapsed"
		if ctx.Err() != nil {
			reason = "cancelled"
		}
		return v1alpha1.Report{}, &AbortedError{RunID: runID, Reason: reason, Failures: failures, Err: err}
	}
	if len(adapters) > 0 && ran == 0 {
		return v1alpha1.Report{}, &AbortedError{RunID: runID, Reason: "every scanner failed", Failures: failures}
	}

	// 5. Aggregate, evaluate and score. Kinds of failed scanners are not
	// covered, so neither rules nor checks can pass on their absence.
	merged := findings.NewAggregator().
		WithKEV(o.rc.KEV).
		WithLogger(logger).
		Merge(sets...)

	covered := findingKinds(coverage)
	if target.Image != "" {
		resources = append(resources, kube.NewImageResource(target.Image))
	}
	verdicts, err := policy.NewEvaluator(logger).
		WithCoverage(covered).
		Evaluate(deadlineCtx, rules, resources, merged)
	if err != nil {
		return v1alpha1.Report{}, &AbortedError{RunID: runID, Reason: "evaluating rules", Failures: failures, Err: err}
	}

	scores := compliance.NewScorer(logger).
		WithCoverage(covered).
		WithAttempted(findingKinds(attempted)).
		ScoreAll(o.rc.Frameworks, merged, verdicts)

	// 6. Assemble the report
	status := v1alpha1.RunStatusCompleted
	if config.RequireAllAdaptersSucceed && len(failures) > 0 {
		status = v1alpha1.RunStatusPartiallyFailed
	}
	report := NewBuilder().
		RunID(runID).
		Target(target).
		Timestamp(o.rc.Clock.Now()).
		Status(status).
		Scanners(scanners).
		Findings(merged).
		Verdicts(verdicts).
		Scores(scores).
		Failures(failures).
		SeverityThreshold(config.SeverityThreshold).
		RuleSetHash(rules.Hash()).
		Get()

	logger.Info("Run finished", "status", report.Status, "pass", report.Pass,
		"findings", len(report.Findings), "verdicts", len(report.Verdicts), "failures", len(report.Failures),
		"duration", ext.Since(o.rc.Clock, start))
	return report, nil
}

func findingKinds(set *hashset.Set) []v1alpha1.FindingKind {
	kinds := make([]v1alpha1.FindingKind, 0, set.Size())
	for _, kind := range set.Values() {
		kinds = append(kinds, kind.(v1alpha1.FindingKind))
	}
	sort.Slice(kinds, func(i, j int) bool {
		return kinds[i] < kinds[j]
	})
	return kinds
}
