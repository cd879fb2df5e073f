// Package v1alpha1 contains the data model shared by scanners, the findings
// aggregator, the policy evaluator, the compliance scorer and the report.
package v1alpha1
