package orchestrator

import (
	"github.com/aquasecurity/lookout/pkg/compliance"
	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/aquasecurity/lookout/pkg/ext"
	"github.com/aquasecurity/lookout/pkg/kev"
	"github.com/aquasecurity/lookout/pkg/policy"
	"github.com/go-logr/logr"
)

// RunContext carries everything a run depends on. It is built once per run
// and never shared between runs.
type RunContext struct {
	Config      etc.Config
	KEV         kev.Set
	Rules       *policy.RuleSet
	Frameworks  []compliance.Framework
	Clock       ext.Clock
	IDGenerator ext.IDGenerator
	Logger      logr.Logger
}

// NewRunContext returns a RunContext with the system clock, random run ids,
// no rules and no frameworks.
func NewRunContext(config etc.Config) RunContext {
	return RunContext{
		Config:      config,
		Clock:       ext.NewSystemClock(),
		IDGenerator: ext.NewGoogleUUIDGenerator(),
		Logger:      logr.Discard(),
	}
}

func (rc RunContext) WithKEV(set kev.Set) RunContext {
	rc.KEV = set
	return rc
}

func (rc RunContext) WithRules(rules *policy.RuleSet) RunContext {
	rc.Rules = rules
	return rc
}

func (rc RunContext) WithFrameworks(frameworks []compliance.Framework) RunContext {
	rc.Frameworks = frameworks
	return rc
}

func (rc RunContext) WithClock(clock ext.Clock) RunContext {
	rc.Clock = clock
	return rc
}

func (rc RunContext) WithIDGenerator(generator ext.IDGenerator) RunContext {
	rc.IDGenerator = generator
	return rc
}

func (rc RunContext) WithLogger(logger logr.Logger) RunContext {
	rc.Logger = logger
	return rc
}
