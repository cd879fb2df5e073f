package compliance

import (
	"fmt"
	"sort"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/emirpasic/gods/sets/hashset"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPassScore = 80
	DefaultWeight    = 1
)

// Framework represents a compliance framework such as the CIS Docker
// Benchmark.
type Framework struct {
	Name        string  `yaml:"name"`
	Version     string  `yaml:"version"`
	Description string  `yaml:"description"`
	PassScore   float64 `yaml:"passScore"`
	Checks      []Check `yaml:"checks"`
}

// Check represents a framework control and the evidence it is decided on.
type Check struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Weight      float64 `yaml:"weight"`
	Mapping     Mapping `yaml:"mapping"`
}

// Mapping represents the policy rules and finding kinds a check maps to.
type Mapping struct {
	Rules        []string               `yaml:"rules"`
	FindingKinds []v1alpha1.FindingKind `yaml:"findingKinds"`

	// FailOn is the lowest severity of a mapped finding that fails the check.
	FailOn v1alpha1.Severity `yaml:"failOn"`
}

// UnmarshalYAML applies defaults, normalizes the failOn severity and drops
// duplicate rules and kinds.
func (c *Check) UnmarshalYAML(node *yaml.Node) error {
	type check Check
	decoded := check{Weight: DefaultWeight}
	if err := node.Decode(&decoded); err != nil {
		return err
	}
	*c = Check(decoded)

	if c.Mapping.FailOn == "" {
		c.Mapping.FailOn = v1alpha1.SeverityHigh
	} else {
		severity, err := v1alpha1.StringToSeverity(string(c.Mapping.FailOn))
		if err != nil {
			return fmt.Errorf("check %s: failOn: %w", c.ID, err)
		}
		c.Mapping.FailOn = severity
	}

	rules := hashset.New()
	for _, rule := range c.Mapping.Rules {
		rules.Add(rule)
	}
	c.Mapping.Rules = make([]string, 0, rules.Size())
	for _, rule := range rules.Values() {
		c.Mapping.Rules = append(c.Mapping.Rules, rule.(string))
	}
	sort.Strings(c.Mapping.Rules)

	kinds := hashset.New()
	for _, kind := range c.Mapping.FindingKinds {
		kinds.Add(kind)
	}
	c.Mapping.FindingKinds = make([]v1alpha1.FindingKind, 0, kinds.Size())
	for _, kind := range kinds.Values() {
		c.Mapping.FindingKinds = append(c.Mapping.FindingKinds, kind.(v1alpha1.FindingKind))
	}
	sort.Slice(c.Mapping.FindingKinds, func(i, j int) bool {
		return c.Mapping.FindingKinds[i] < c.Mapping.FindingKinds[j]
	})
	return nil
}

// Validate returns every problem of the framework.
func (f Framework) Validate() []string {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	if f.Name == "" {
		add("framework has no name")
	}
	if f.PassScore < 0 || f.PassScore > 100 {
		add("framework %s: passScore must be within [0, 100], got %v", f.Name, f.PassScore)
	}
	if len(f.Checks) == 0 {
		add("framework %s has no checks", f.Name)
	}

	ids := make(map[string]bool)
	for _, check := range f.Checks {
		if check.ID == "" {
			add("framework %s: check %q has no id", f.Name, check.Name)
			continue
		}
		if ids[check.ID] {
			add("framework %s: duplicate check id %s", f.Name, check.ID)
		}
		ids[check.ID] = true
		if check.Weight <= 0 {
			add("framework %s: check %s: weight must be positive, got %v", f.Name, check.ID, check.Weight)
		}
		if len(check.Mapping.Rules) == 0 && len(check.Mapping.FindingKinds) == 0 {
			add("framework %s: check %s maps no rules and no finding kinds", f.Name, check.ID)
		}
		for _, kind := range check.Mapping.FindingKinds {
			if !isFindingKind(kind) {
				add("framework %s: check %s: unknown finding kind %q", f.Name, check.ID, kind)
			}
		}
	}
	return problems
}

func isFindingKind(kind v1alpha1.FindingKind) bool {
	for _, k := range v1alpha1.FindingKinds {
		if k == kind {
			return true
		}
	}
	return false
}
