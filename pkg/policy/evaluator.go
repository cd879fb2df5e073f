package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/kube"
	"github.com/go-logr/logr"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
)

const warningPrefix = "warning: "

// Evaluator applies a RuleSet to resources and produces exactly one Verdict
// per applicable (rule, resource) pair. A rule that cannot be evaluated
// yields a Verdict with outcome Error and never stops other rules.
type Evaluator struct {
	logger   logr.Logger
	coverage []v1alpha1.FindingKind
}

func NewEvaluator(logger logr.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// WithCoverage sets the finding kinds reported by scanners that succeeded.
// Counts of other kinds are left out of the findings document, so rules
// reading them evaluate to Error. Without coverage every kind is covered.
func (e *Evaluator) WithCoverage(kinds []v1alpha1.FindingKind) *Evaluator {
	e.coverage = append([]v1alpha1.FindingKind{}, kinds...)
	return e
}

// evaluation holds what is shared by every rule of one Evaluate call.
type evaluation struct {
	rules       *RuleSet
	findings    map[string]interface{}
	store       storage.Store
	expressions map[string]*expression
	modules     map[string]*module
	prepareErrs map[string]error
}

// Evaluate returns the verdicts ordered by rule name and resource id. It
// only fails when ctx is done.
func (e *Evaluator) Evaluate(ctx context.Context, rules *RuleSet, resources []kube.Resource, findings []v1alpha1.Finding) ([]v1alpha1.Verdict, error) {
	document := NewFindingsDocument(findings, e.coverage)
	store, err := newStore(document)
	if err != nil {
		return nil, err
	}
	ev := &evaluation{
		rules:       rules,
		findings:    document,
		store:       store,
		expressions: make(map[string]*expression),
		modules:     make(map[string]*module),
		prepareErrs: make(map[string]error),
	}

	verdicts := make([]v1alpha1.Verdict, 0)
	for _, resource := range resources {
		for _, rule := range rules.ForKind(resource.Kind) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			_, podTemplate := rule.AppliesTo(resource.Kind)
			verdicts = append(verdicts, e.evaluate(ctx, ev, rule, resource, podTemplate))
		}
	}

	sort.SliceStable(verdicts, func(i, j int) bool {
		if verdicts[i].Rule != verdicts[j].Rule {
			return verdicts[i].Rule < verdicts[j].Rule
		}
		return verdicts[i].Resource < verdicts[j].Resource
	})
	summary := v1alpha1.SummarizeVerdicts(verdicts)
	e.logger.V(1).Info("Evaluated rules", "rules", rules.Len(), "resources", len(resources),
		"pass", summary.PassCount, "fail", summary.FailCount, "error", summary.ErrorCount)
	return verdicts, nil
}

func (e *Evaluator) evaluate(ctx context.Context, ev *evaluation, rule Rule, resource kube.Resource, podTemplate bool) v1alpha1.Verdict {
	verdict := v1alpha1.Verdict{
		Rule:     rule.Name,
		Resource: resource.ID(),
		Severity: rule.Severity,
		Category: rule.Category,
	}

	var pass bool
	var evidence []string
	var err error
	switch rule.Mode {
	case ModePattern:
		pass, evidence, err = evalPattern(rule, resource, podTemplate)
	case ModeExpression:
		pass, evidence, err = ev.evalExpression(ctx, rule, resource)
	case ModeRego:
		var severity v1alpha1.Severity
		pass, severity, evidence, err = ev.evalModule(ctx, rule, resource)
		if severity != "" {
			verdict.Severity = severity
		}
	default:
		err = fmt.Errorf("unknown mode %q", rule.Mode)
	}

	if err != nil {
		policyErr := &Error{Rule: rule.Name, Resource: resource.ID(), Err: err}
		e.logger.V(1).Info("Rule evaluation failed", "error", policyErr.Error())
		verdict.Outcome = v1alpha1.OutcomeError
		verdict.Evidence = []string{err.Error()}
		return verdict
	}
	if pass {
		verdict.Outcome = v1alpha1.OutcomePass
		return verdict
	}
	verdict.Outcome = v1alpha1.OutcomeFail
	verdict.Evidence = evidence
	return verdict
}

func evalPattern(rule Rule, resource kube.Resource, podTemplate bool) (bool, []string, error) {
	object := resource.Object
	if podTemplate {
		template, ok := kube.PodTemplate(resource)
		if !ok {
			template = map[string]interface{}{}
		}
		object = template
	}

	var failures []string
	for _, pattern := range rule.Patterns {
		ok, path, err := MatchPattern(pattern, object)
		if err != nil {
			return false, nil, err
		}
		if ok {
			return true, nil, nil
		}
		failures = append(failures, fmt.Sprintf("validation error: %s rule %s failed at path %s", rule.Message, rule.Name, path))
	}
	return false, failures, nil
}

func (ev *evaluation) evalExpression(ctx context.Context, rule Rule, resource kube.Resource) (bool, []string, error) {
	if err, failed := ev.prepareErrs[rule.Name]; failed {
		return false, nil, err
	}
	expr, ok := ev.expressions[rule.Name]
	if !ok {
		var err error
		expr, err = prepareExpression(ctx, rule.Expression)
		if err != nil {
			ev.prepareErrs[rule.Name] = err
			return false, nil, err
		}
		ev.expressions[rule.Name] = expr
	}

	pass, err := expr.eval(ctx, map[string]interface{}{
		"resource": resource.Object,
		"findings": ev.findings,
	})
	if err != nil {
		return false, nil, err
	}
	return pass, []string{rule.Message}, nil
}

// evalModule fails with the rule severity on deny results, and with LOW
// severity when there are only warnings.
func (ev *evaluation) evalModule(ctx context.Context, rule Rule, resource kube.Resource) (bool, v1alpha1.Severity, []string, error) {
	if err, failed := ev.prepareErrs[rule.Name]; failed {
		return false, "", nil, err
	}
	m, ok := ev.modules[rule.Name]
	if !ok {
		var err error
		m, err = prepareModule(ctx, rule, ev.rules.Libraries(), ev.store)
		if err != nil {
			ev.prepareErrs[rule.Name] = err
			return false, "", nil, err
		}
		ev.modules[rule.Name] = m
	}

	denials, warnings, err := m.eval(ctx, resource.Object)
	if err != nil {
		return false, "", nil, err
	}
	if len(denials) == 0 && len(warnings) == 0 {
		return true, "", nil, nil
	}
	evidence := append([]string(nil), denials...)
	for _, w := range warnings {
		evidence = append(evidence, warningPrefix+w)
	}
	if len(denials) == 0 {
		return false, v1alpha1.SeverityLow, evidence, nil
	}
	return false, "", evidence, nil
}

// newStore exposes the findings document as data.lookout.findings.
func newStore(findings map[string]interface{}) (storage.Store, error) {
	data, err := json.Marshal(map[string]interface{}{
		"lookout": map[string]interface{}{
			"findings": findings,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding findings document: %w", err)
	}
	return inmem.NewFromReader(bytes.NewReader(data)), nil
}
