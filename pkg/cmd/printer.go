package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/pterm/pterm"
	"sigs.k8s.io/yaml"
)

const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)

var OutputFormats = []string{OutputTable, OutputJSON, OutputYAML}

func validateOutput(format string) error {
	switch format {
	case OutputTable, OutputJSON, OutputYAML:
		return nil
	}
	return fmt.Errorf("invalid output format %q, allowed formats are: %s", format, strings.Join(OutputFormats, ","))
}

// printObject writes obj as JSON or YAML, or calls table for the table
// format.
func printObject(w io.Writer, format string, obj interface{}, table func(io.Writer) error) error {
	switch format {
	case OutputJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(obj)
	case OutputYAML:
		data, err := yaml.Marshal(obj)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case OutputTable:
		return table(w)
	}
	return validateOutput(format)
}

// PrintReports prints reports. A single report is printed as an object, more
// than one as a list.
func PrintReports(w io.Writer, format string, reports []v1alpha1.Report) error {
	var obj interface{} = reports
	if len(reports) == 1 {
		obj = reports[0]
	}
	return printObject(w, format, obj, func(w io.Writer) error {
		for i, report := range reports {
			if i > 0 {
				_, _ = fmt.Fprintln(w)
			}
			if err := printReportTable(w, report); err != nil {
				return err
			}
		}
		return nil
	})
}

func printReportTable(w io.Writer, report v1alpha1.Report) error {
	result := pterm.FgGreen.Sprint("PASS")
	if !report.Pass {
		result = pterm.FgRed.Sprint("FAIL")
	}
	_, _ = fmt.Fprintf(w, "Run: %s\nTarget: %s\nStatus: %s\nResult: %s\n",
		report.RunID, report.Target, report.Status, result)

	s := report.Summary
	_, _ = fmt.Fprintf(w, "Findings: %d (critical: %d, high: %d, medium: %d, low: %d, unknown: %d, exploited: %d)\n",
		s.Findings.Total, s.Findings.CriticalCount, s.Findings.HighCount, s.Findings.MediumCount,
		s.Findings.LowCount, s.Findings.UnknownCount, s.Findings.ConfirmedExploitedCount)
	_, _ = fmt.Fprintf(w, "Verdicts: %d passed, %d failed, %d errors (threshold: %s)\n",
		s.Verdicts.PassCount, s.Verdicts.FailCount, s.Verdicts.ErrorCount, s.SeverityThreshold)

	scanners := [][]string{{"Scanner", "Version", "Outcome", "Findings", "Duration"}}
	for _, sr := range report.Scanners {
		scanners = append(scanners, []string{
			sr.Name, sr.Version, string(sr.Outcome), strconv.Itoa(sr.FindingCount), sr.Duration.Duration.String(),
		})
	}
	if err := renderTable(w, "Scanners", scanners); err != nil {
		return err
	}

	if len(report.Failures) > 0 {
		failures := [][]string{{"Scanner", "Class", "Message"}}
		for _, f := range report.Failures {
			failures = append(failures, []string{f.Scanner, string(f.Class), f.Message})
		}
		if err := renderTable(w, "Failures", failures); err != nil {
			return err
		}
	}

	if len(report.Findings) > 0 {
		findings := [][]string{{"Severity", "Kind", "Title", "Subject", "Fixed", "Sources", "Exploited"}}
		for _, f := range report.Findings {
			exploited := ""
			if f.ConfirmedExploited {
				exploited = pterm.FgRed.Sprint("yes")
			}
			findings = append(findings, []string{
				severity(f.Severity), string(f.Kind), title(f), f.Subject.String(),
				f.Detail.FixedVersion, strings.Join(f.Sources, ","), exploited,
			})
		}
		if err := renderTable(w, "Findings", findings); err != nil {
			return err
		}
	}

	verdicts := [][]string{{"Rule", "Resource", "Outcome", "Severity", "Evidence"}}
	for _, v := range report.Verdicts {
		if v.Outcome == v1alpha1.OutcomePass {
			continue
		}
		verdicts = append(verdicts, []string{
			v.Rule, v.Resource, string(v.Outcome), severity(v.Severity), strings.Join(v.Evidence, "; "),
		})
	}
	if len(verdicts) > 1 {
		if err := renderTable(w, "Policy violations", verdicts); err != nil {
			return err
		}
	}

	if len(report.Scores) > 0 {
		scores := [][]string{{"Framework", "Version", "Score", "Pass Score", "Passed", "Failed", "Indeterminate", "Result"}}
		for _, sc := range report.Scores {
			scores = append(scores, []string{
				sc.Framework, sc.Version, formatScore(sc), strconv.FormatFloat(sc.PassScore, 'f', -1, 64),
				strconv.Itoa(sc.PassCount), strconv.Itoa(sc.FailCount), strconv.Itoa(sc.IndeterminateCount),
				scoreResult(sc),
			})
		}
		if err := renderTable(w, "Compliance", scores); err != nil {
			return err
		}
	}
	return nil
}

func renderTable(w io.Writer, heading string, data [][]string) error {
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "\n%s\n%s\n", heading, out)
	return nil
}

func severity(s v1alpha1.Severity) string {
	switch s {
	case v1alpha1.SeverityCritical, v1alpha1.SeverityHigh:
		return pterm.FgRed.Sprint(string(s))
	case v1alpha1.SeverityMedium:
		return pterm.FgYellow.Sprint(string(s))
	case v1alpha1.SeverityLow:
		return pterm.FgBlue.Sprint(string(s))
	}
	return string(s)
}

func title(f v1alpha1.Finding) string {
	if f.Detail.VulnerabilityID != "" {
		return f.Detail.VulnerabilityID
	}
	if f.Detail.Title != "" {
		return f.Detail.Title
	}
	return f.Detail.RuleName
}

func formatScore(score v1alpha1.Score) string {
	if score.PassCount+score.FailCount == 0 {
		return "-"
	}
	return strconv.FormatFloat(score.Value, 'f', 2, 64)
}

func scoreResult(score v1alpha1.Score) string {
	switch {
	case score.Indeterminate:
		return pterm.FgYellow.Sprint("INDETERMINATE")
	case score.Pass:
		return pterm.FgGreen.Sprint("PASS")
	}
	return pterm.FgRed.Sprint("FAIL")
}
