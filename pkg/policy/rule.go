package policy

import (
	"fmt"
	"sort"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/aquasecurity/lookout/pkg/kube"
)

const (
	kindAny      = "*"
	kindWorkload = "Workload"
)

// Mode selects how the predicate of a Rule is evaluated.
type Mode string

const (
	// ModePattern matches the resource against Kyverno validate patterns.
	ModePattern Mode = "Pattern"
	// ModeExpression evaluates a boolean Rego expression.
	ModeExpression Mode = "Expression"
	// ModeRego evaluates the deny and warn rules of a Rego module.
	ModeRego Mode = "Rego"
)

// Rule is a named predicate applied to every resource of its kinds.
type Rule struct {
	Name     string
	Title    string
	Kinds    []string
	Mode     Mode
	Message  string
	Severity v1alpha1.Severity
	Category string

	// Patterns holds one pattern, or the alternatives of a Kyverno
	// anyPattern of which one must match.
	Patterns []interface{}
	// Expression is a Rego expression over input.resource and
	// input.findings.
	Expression string
	// Module is the source of a Rego module with deny and warn rules.
	Module string

	// Autogen lists the workload kinds a pattern rule targeting Pod is also
	// applied to, through their pod template.
	Autogen []string

	// Source is the file the rule was loaded from.
	Source string
}

// AppliesTo reports whether the rule selects resources of the given kind,
// and whether the predicate must be evaluated against the pod template of
// the resource rather than the resource itself.
func (r Rule) AppliesTo(kind string) (applies bool, podTemplate bool) {
	if kind == string(kube.KindImage) {
		return r.hasKind(kind), false
	}
	if r.hasKind(kindAny) || r.hasKind(kind) {
		return true, false
	}
	if r.hasKind(kindWorkload) && kube.IsWorkload(kind) {
		return true, r.Mode == ModePattern
	}
	if r.Mode == ModePattern && r.hasKind(string(kube.KindPod)) {
		for _, controller := range r.Autogen {
			if controller == kind {
				return true, true
			}
		}
	}
	return false, false
}

func (r Rule) hasKind(kind string) bool {
	for _, k := range r.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// DefaultAutogen lists the controllers Kyverno generates pod rules for.
func DefaultAutogen() []string {
	return []string{
		string(kube.KindDaemonSet),
		string(kube.KindDeployment),
		string(kube.KindJob),
		string(kube.KindStatefulSet),
		string(kube.KindReplicaSet),
		string(kube.KindReplicationController),
		string(kube.KindCronJob),
	}
}

// RuleSet is the immutable set of rules of a run, together with the Rego
// libraries shared by Rego rules.
type RuleSet struct {
	rules     []Rule
	libraries map[string]string
}

// NewRuleSet returns the rules sorted by name. Duplicate names are a
// configuration error.
func NewRuleSet(rules []Rule, libraries map[string]string) (*RuleSet, error) {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	var problems []string
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Name == sorted[i-1].Name {
			problems = append(problems, fmt.Sprintf("duplicate rule name %q in %s and %s",
				sorted[i].Name, sourceOf(sorted[i-1]), sourceOf(sorted[i])))
		}
	}
	for _, rule := range sorted {
		if err := rule.validate(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return nil, &etc.ConfigurationError{Problems: problems}
	}

	libs := make(map[string]string, len(libraries))
	for name, module := range libraries {
		libs[name] = module
	}
	return &RuleSet{rules: sorted, libraries: libs}, nil
}

func sourceOf(rule Rule) string {
	if rule.Source == "" {
		return "<builtin>"
	}
	return rule.Source
}

func (r Rule) validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule in %s has no name", sourceOf(r))
	}
	if len(r.Kinds) == 0 {
		return fmt.Errorf("rule %q selects no kinds", r.Name)
	}
	if !r.Severity.IsValid() {
		return fmt.Errorf("rule %q has invalid severity %q", r.Name, r.Severity)
	}
	switch r.Mode {
	case ModePattern:
		if len(r.Patterns) == 0 {
			return fmt.Errorf("rule %q has no pattern", r.Name)
		}
	case ModeExpression:
		if r.Expression == "" {
			return fmt.Errorf("rule %q has no expression", r.Name)
		}
	case ModeRego:
		if r.Module == "" {
			return fmt.Errorf("rule %q has no Rego module", r.Name)
		}
	default:
		return fmt.Errorf("rule %q has unknown mode %q", r.Name, r.Mode)
	}
	return nil
}

func (s *RuleSet) Len() int {
	return len(s.rules)
}

// Names returns the rule names in order. Rules are ordered by name.
func (s *RuleSet) Names() []string {
	names := make([]string, len(s.rules))
	for i, rule := range s.rules {
		names[i] = rule.Name
	}
	return names
}

func (s *RuleSet) Get(name string) (Rule, bool) {
	i := sort.Search(len(s.rules), func(i int) bool {
		return s.rules[i].Name >= name
	})
	if i < len(s.rules) && s.rules[i].Name == name {
		return s.rules[i], true
	}
	return Rule{}, false
}

// ForKind returns the rules applicable to resources of the given kind.
func (s *RuleSet) ForKind(kind string) []Rule {
	var rules []Rule
	for _, rule := range s.rules {
		if applies, _ := rule.AppliesTo(kind); applies {
			rules = append(rules, rule)
		}
	}
	return rules
}

// Libraries returns the Rego modules imported by Rego rules.
func (s *RuleSet) Libraries() map[string]string {
	return s.libraries
}

// Hash identifies the effective rule set. Where the rules were loaded from
// does not contribute.
func (s *RuleSet) Hash() string {
	rules := make([]Rule, len(s.rules))
	for i, rule := range s.rules {
		rule.Source = ""
		rules[i] = rule
	}
	return kube.ComputeHash(struct {
		Rules     []Rule
		Libraries map[string]string
	}{rules, s.libraries})
}
