// Package scanner defines the contract between the orchestrator and the
// external security tools, and the subprocess plumbing shared by the tool
// plugins.
package scanner

import (
	"context"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
)

// Adapter wraps one external security tool.
//
// Run invokes the tool against the target and returns its raw output. The
// caller owns the returned RawOutput and must Close it once parsed.
// Parse normalizes raw output into findings and never invokes the tool.
type Adapter interface {
	// Name returns the unique adapter name, also used as the finding source.
	Name() string

	// Scanner returns metadata about the wrapped tool.
	Scanner() v1alpha1.Scanner

	// Kinds returns the kinds of findings the adapter may produce.
	Kinds() []v1alpha1.FindingKind

	// Supports reports whether the adapter can analyze the target.
	Supports(target v1alpha1.Target) bool

	Run(ctx context.Context, target v1alpha1.Target) (*RawOutput, error)

	Parse(output *RawOutput) ([]v1alpha1.Finding, error)
}
