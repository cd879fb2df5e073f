package orchestrator_test

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/scanner"
)

// gauge tracks how many fake adapters run at the same time.
type gauge struct {
	running atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
}

func (g *gauge) enter() {
	g.calls.Add(1)
	n := g.running.Add(1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (g *gauge) leave() {
	g.running.Add(-1)
}

type fakeAdapter struct {
	name        string
	kinds       []v1alpha1.FindingKind
	unsupported bool
	findings    []v1alpha1.Finding
	runErr      error
	parseErr    error
	delay       time.Duration
	gauge       *gauge
}

func (a *fakeAdapter) Name() string {
	return a.name
}

func (a *fakeAdapter) Scanner() v1alpha1.Scanner {
	return v1alpha1.Scanner{Name: a.name, Vendor: "Test", Version: "1.0.0"}
}

func (a *fakeAdapter) Kinds() []v1alpha1.FindingKind {
	if a.kinds == nil {
		return []v1alpha1.FindingKind{v1alpha1.FindingKindVulnerability}
	}
	return a.kinds
}

func (a *fakeAdapter) Supports(target v1alpha1.Target) bool {
	return !a.unsupported && target.Image != ""
}

func (a *fakeAdapter) Run(ctx context.Context, _ v1alpha1.Target) (*scanner.RawOutput, error) {
	if a.gauge != nil {
		a.gauge.enter()
		defer a.gauge.leave()
	}
	if a.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, &scanner.TimeoutError{Tool: a.name, Err: ctx.Err()}
		case <-time.After(a.delay):
		}
	}
	if a.runErr != nil {
		return nil, a.runErr
	}
	return scanner.NewRawOutput(nil), nil
}

func (a *fakeAdapter) Parse(_ *scanner.RawOutput) ([]v1alpha1.Finding, error) {
	if a.parseErr != nil {
		return nil, a.parseErr
	}
	return a.findings, nil
}
