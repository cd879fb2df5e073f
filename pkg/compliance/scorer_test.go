package compliance_test

import (
	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/compliance"
	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func ruleCheck(id string, weight float64, rules ...string) compliance.Check {
	return compliance.Check{ID: id, Name: "check " + id, Weight: weight, Mapping: compliance.Mapping{Rules: rules}}
}

func kindCheck(id string, weight float64, failOn v1alpha1.Severity, kinds ...v1alpha1.FindingKind) compliance.Check {
	return compliance.Check{ID: id, Name: "check " + id, Weight: weight, Mapping: compliance.Mapping{FindingKinds: kinds, FailOn: failOn}}
}

func verdict(rule, resource string, outcome v1alpha1.Outcome) v1alpha1.Verdict {
	return v1alpha1.Verdict{Rule: rule, Resource: resource, Outcome: outcome, Severity: v1alpha1.SeverityHigh}
}

var _ = ginkgo.Describe("Scorer", func() {
	scorer := func() *compliance.Scorer {
		return compliance.NewScorer(logr.Discard())
	}

	ginkgo.Context("with rule checks", func() {
		framework := compliance.Framework{
			Name:      "CIS Docker Benchmark",
			Version:   "1.6.0",
			PassScore: 80,
			Checks: []compliance.Check{
				ruleCheck("5.4", 60, "disallow-privileged-containers"),
				ruleCheck("5.9", 40, "disallow-host-namespaces"),
			},
		}

		ginkgo.It("scores the weight of passing checks", func() {
			score := scorer().Score(framework, nil, []v1alpha1.Verdict{
				verdict("disallow-privileged-containers", "Pod/default/a", v1alpha1.OutcomePass),
				verdict("disallow-host-namespaces", "Pod/default/a", v1alpha1.OutcomeFail),
			})
			expected := v1alpha1.Score{
				Framework: "CIS Docker Benchmark",
				Version:   "1.6.0",
				Value:     60,
				PassScore: 80,
				Pass:      false,
				PassCount: 1,
				FailCount: 1,
				Checks: []v1alpha1.CheckResult{
					{ID: "5.4", Name: "check 5.4", Weight: 60, Status: v1alpha1.CheckStatusPass},
					{ID: "5.9", Name: "check 5.9", Weight: 40, Status: v1alpha1.CheckStatusFail,
						Reason: "failed: disallow-host-namespaces on Pod/default/a"},
				},
			}
			Expect(cmp.Diff(expected, score)).To(BeEmpty())
		})

		ginkgo.It("excludes checks of rules that could not be evaluated", func() {
			score := scorer().Score(framework, nil, []v1alpha1.Verdict{
				verdict("disallow-privileged-containers", "Pod/default/a", v1alpha1.OutcomePass),
				verdict("disallow-host-namespaces", "Pod/default/a", v1alpha1.OutcomePass),
				verdict("disallow-host-namespaces", "NetworkPolicy/default/b", v1alpha1.OutcomeError),
			})
			Expect(score.Value).To(Equal(100.0))
			Expect(score.Pass).To(BeTrue())
			Expect(score.IndeterminateCount).To(Equal(1))
			Expect(score.Indeterminate).To(BeTrue())
			Expect(score.Checks[1].Status).To(Equal(v1alpha1.CheckStatusIndeterminate))
			Expect(score.Checks[1].Reason).To(Equal("could not evaluate: disallow-host-namespaces on NetworkPolicy/default/b"))
		})

		ginkgo.It("fails a check when any verdict failed even if others errored", func() {
			score := scorer().Score(framework, nil, []v1alpha1.Verdict{
				verdict("disallow-privileged-containers", "Pod/default/a", v1alpha1.OutcomeError),
				verdict("disallow-privileged-containers", "Pod/default/b", v1alpha1.OutcomeFail),
			})
			Expect(score.Checks[0].Status).To(Equal(v1alpha1.CheckStatusFail))
			Expect(score.Checks[1].Status).To(Equal(v1alpha1.CheckStatusNotApplicable))
			Expect(score.Value).To(Equal(0.0))
			Expect(score.Indeterminate).To(BeFalse())
		})

		ginkgo.It("scores zero and is indeterminate without determinate checks", func() {
			score := scorer().Score(framework, nil, []v1alpha1.Verdict{
				verdict("disallow-privileged-containers", "NetworkPolicy/default/b", v1alpha1.OutcomeError),
			})
			Expect(score.Value).To(Equal(0.0))
			Expect(score.Indeterminate).To(BeTrue())
			Expect(score.Pass).To(BeFalse())
			Expect(score.Checks[0].Status).To(Equal(v1alpha1.CheckStatusIndeterminate))
			Expect(score.Checks[1].Status).To(Equal(v1alpha1.CheckStatusNotApplicable))
			Expect(score.Checks[1].Reason).To(Equal("no resources matched the mapped rules"))
		})
	})

	ginkgo.Context("with finding kind checks", func() {
		framework := compliance.Framework{
			Name:      "NIST SP 800-190",
			PassScore: 50,
			Checks: []compliance.Check{
				kindCheck("4.1.1", 3, v1alpha1.SeverityHigh, v1alpha1.FindingKindVulnerability),
				kindCheck("4.4.4", 1, v1alpha1.SeverityHigh, v1alpha1.FindingKindPolicyViolation),
			},
		}
		high := v1alpha1.Finding{Kind: v1alpha1.FindingKindVulnerability, Severity: v1alpha1.SeverityHigh}
		medium := v1alpha1.Finding{Kind: v1alpha1.FindingKindVulnerability, Severity: v1alpha1.SeverityMedium}

		ginkgo.It("fails on findings at or above failOn", func() {
			score := scorer().Score(framework, []v1alpha1.Finding{high, medium}, nil)
			Expect(score.Checks[0].Status).To(Equal(v1alpha1.CheckStatusFail))
			Expect(score.Checks[0].Reason).To(Equal("1 Vulnerability findings at or above HIGH"))
			Expect(score.Checks[1].Status).To(Equal(v1alpha1.CheckStatusPass))
			Expect(score.Value).To(Equal(25.0))
			Expect(score.Pass).To(BeFalse())
		})

		ginkgo.It("passes on findings below failOn", func() {
			score := scorer().Score(framework, []v1alpha1.Finding{medium}, nil)
			Expect(score.Value).To(Equal(100.0))
			Expect(score.Pass).To(BeTrue())
		})

		ginkgo.It("never passes kinds no successful scanner reports", func() {
			score := scorer().
				WithCoverage([]v1alpha1.FindingKind{v1alpha1.FindingKindVulnerability}).
				Score(framework, []v1alpha1.Finding{medium}, nil)
			Expect(score.Checks[0].Status).To(Equal(v1alpha1.CheckStatusPass))
			Expect(score.Checks[1].Status).To(Equal(v1alpha1.CheckStatusIndeterminate))
			Expect(score.Checks[1].Reason).To(Equal("no successful scanner reports PolicyViolation findings"))
			Expect(score.Value).To(Equal(100.0))
			Expect(score.IndeterminateCount).To(Equal(1))
			Expect(score.Indeterminate).To(BeTrue())
		})

		ginkgo.It("does not apply kinds no launched scanner reports", func() {
			score := scorer().
				WithCoverage([]v1alpha1.FindingKind{v1alpha1.FindingKindVulnerability}).
				WithAttempted([]v1alpha1.FindingKind{v1alpha1.FindingKindVulnerability}).
				Score(framework, []v1alpha1.Finding{medium}, nil)
			Expect(score.Checks[0].Status).To(Equal(v1alpha1.CheckStatusPass))
			Expect(score.Checks[1].Status).To(Equal(v1alpha1.CheckStatusNotApplicable))
			Expect(score.Checks[1].Reason).To(Equal("no scanner reports PolicyViolation findings"))
			Expect(score.Value).To(Equal(100.0))
			Expect(score.Pass).To(BeTrue())
			Expect(score.Indeterminate).To(BeFalse())
		})

		ginkgo.It("fails uncovered kinds that still have findings", func() {
			score := scorer().
				WithCoverage(nil).
				Score(framework, []v1alpha1.Finding{high}, nil)
			Expect(score.Checks[0].Status).To(Equal(v1alpha1.CheckStatusFail))
			Expect(score.Checks[1].Status).To(Equal(v1alpha1.CheckStatusIndeterminate))
			Expect(score.Value).To(Equal(0.0))
			Expect(score.Indeterminate).To(BeTrue())
		})
	})

	ginkgo.Context("with mixed checks", func() {
		ginkgo.It("passes when rules matched nothing but findings are clean", func() {
			check := compliance.Check{ID: "4.4", Weight: 1, Mapping: compliance.Mapping{
				Rules:        []string{"no-critical-vulnerabilities"},
				FindingKinds: []v1alpha1.FindingKind{v1alpha1.FindingKindVulnerability},
				FailOn:       v1alpha1.SeverityHigh,
			}}
			scores := scorer().ScoreAll([]compliance.Framework{
				{Name: "a", PassScore: 80, Checks: []compliance.Check{check}},
				{Name: "b", PassScore: 80, Checks: []compliance.Check{ruleCheck("1", 1, "missing-rule")}},
			}, nil, nil)
			Expect(scores).To(HaveLen(2))
			Expect(scores[0].Checks[0].Status).To(Equal(v1alpha1.CheckStatusPass))
			Expect(scores[0].Pass).To(BeTrue())
			Expect(scores[1].Indeterminate).To(BeTrue())
		})
	})

	ginkgo.Context("when failures grow", func() {
		rules := []string{"rule-a", "rule-b", "rule-c", "rule-d"}
		framework := compliance.Framework{Name: "Weighted", PassScore: 80}
		for i, rule := range rules {
			framework.Checks = append(framework.Checks, ruleCheck(rule, float64(i+1), rule))
		}
		framework.Checks = append(framework.Checks, ruleCheck("errored", 5, "rule-errored"))

		ginkgo.It("never increases the score with a fixed number of errors", func() {
			outcomes := map[string]v1alpha1.Outcome{"rule-errored": v1alpha1.OutcomeError}
			for _, rule := range rules {
				outcomes[rule] = v1alpha1.OutcomePass
			}
			verdicts := func() []v1alpha1.Verdict {
				var all []v1alpha1.Verdict
				for rule, outcome := range outcomes {
					all = append(all, verdict(rule, "Pod/default/a", outcome))
				}
				return all
			}

			previous := scorer().Score(framework, nil, verdicts())
			Expect(previous.Value).To(Equal(100.0))
			Expect(previous.Indeterminate).To(BeTrue())
			for i, rule := range rules {
				outcomes[rule] = v1alpha1.OutcomeFail
				score := scorer().Score(framework, nil, verdicts())
				Expect(score.Value).To(BeNumerically("<=", previous.Value), "after failing %s", rule)
				Expect(score.FailCount).To(Equal(i + 1))
				Expect(score.IndeterminateCount).To(Equal(1))
				Expect(score.Indeterminate).To(BeTrue())
				Expect(score.Checks[4].Status).To(Equal(v1alpha1.CheckStatusIndeterminate))
				previous = score
			}
			Expect(previous.Value).To(Equal(0.0))
			Expect(previous.Pass).To(BeFalse())
		})
	})
})
