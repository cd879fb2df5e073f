package compliance

import (
	"math"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/emirpasic/gods/sets/hashset"
	"github.com/go-logr/logr"
)

// Scorer computes weighted compliance scores of frameworks from the
// findings and verdicts of a run.
type Scorer struct {
	logger    logr.Logger
	coverage  *hashset.Set
	attempted *hashset.Set
}

func NewScorer(logger logr.Logger) *Scorer {
	return &Scorer{logger: logger}
}

// WithCoverage sets the finding kinds produced by scanners that succeeded.
// Checks on other kinds are indeterminate unless a finding fails them.
// Without coverage every kind counts as covered.
func (s *Scorer) WithCoverage(kinds []v1alpha1.FindingKind) *Scorer {
	s.coverage = hashset.New()
	for _, kind := range kinds {
		s.coverage.Add(kind)
	}
	return s
}

// WithAttempted sets the finding kinds produced by the scanners launched for
// the run, successful or not. Checks on kinds nobody was asked for are not
// applicable. Without it every kind counts as attempted.
func (s *Scorer) WithAttempted(kinds []v1alpha1.FindingKind) *Scorer {
	s.attempted = hashset.New()
	for _, kind := range kinds {
		s.attempted.Add(kind)
	}
	return s
}

// ScoreAll scores every framework in order.
func (s *Scorer) ScoreAll(frameworks []Framework, findings []v1alpha1.Finding, verdicts []v1alpha1.Verdict) []v1alpha1.Score {
	mappers := s.mappers(findings, verdicts)
	scores := make([]v1alpha1.Score, 0, len(frameworks))
	for _, framework := range frameworks {
		scores = append(scores, s.score(framework, mappers))
	}
	return scores
}

// Score returns 100 times the weight of passing checks over the weight of
// determinate checks. A framework without determinate checks scores 0. A
// framework is indeterminate when it has no determinate checks or when any
// check is indeterminate.
func (s *Scorer) Score(framework Framework, findings []v1alpha1.Finding, verdicts []v1alpha1.Verdict) v1alpha1.Score {
	return s.score(framework, s.mappers(findings, verdicts))
}

func (s *Scorer) mappers(findings []v1alpha1.Finding, verdicts []v1alpha1.Verdict) []Mapper {
	return []Mapper{
		newVerdictMapper(verdicts),
		newFindingMapper(findings, s.coverage, s.attempted),
	}
}

func (s *Scorer) score(framework Framework, mappers []Mapper) v1alpha1.Score {
	score := v1alpha1.Score{
		Framework: framework.Name,
		Version:   framework.Version,
		PassScore: framework.PassScore,
		Checks:    make([]v1alpha1.CheckResult, 0, len(framework.Checks)),
	}

	var passed, determinate float64
	for _, check := range framework.Checks {
		result := mapCheck(check, mappers...)
		switch result.Status {
		case v1alpha1.CheckStatusPass:
			score.PassCount++
			passed += check.Weight
			determinate += check.Weight
		case v1alpha1.CheckStatusFail:
			score.FailCount++
			determinate += check.Weight
		case v1alpha1.CheckStatusIndeterminate:
			score.IndeterminateCount++
		}
		score.Checks = append(score.Checks, result)
	}

	if determinate == 0 {
		score.Indeterminate = true
		s.logger.V(1).Info("Framework has no determinate checks", "framework", framework.Name)
		return score
	}
	score.Value = math.Round(10000*passed/determinate) / 100
	score.Pass = score.Value >= framework.PassScore
	score.Indeterminate = score.IndeterminateCount > 0
	s.logger.V(1).Info("Scored framework", "framework", framework.Name, "score", score.Value, "pass", score.Pass,
		"indeterminate", score.IndeterminateCount)
	return score
}
