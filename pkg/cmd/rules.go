package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/policy"
	"github.com/spf13/cobra"
)

// RuleInfo describes a loaded rule.
type RuleInfo struct {
	Name     string            `json:"name"`
	Title    string            `json:"title,omitempty"`
	Mode     policy.Mode       `json:"mode"`
	Severity v1alpha1.Severity `json:"severity"`
	Category string            `json:"category,omitempty"`
	Kinds    []string          `json:"kinds"`
	Source   string            `json:"source,omitempty"`
}

// RuleSetInfo is the printed form of a rule set.
type RuleSetInfo struct {
	Hash  string     `json:"hash"`
	Rules []RuleInfo `json:"rules"`
}

func NewRulesCmd(global *GlobalFlags, outWriter io.Writer) *cobra.Command {
	var (
		policies       []string
		noBuiltinRules bool
		output         string
	)
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the policy rules a scan would evaluate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
			config, err := global.LoadConfig(cmd)
			if err != nil {
				return err
			}
			logger, flush, err := newLogger(config.LogDevMode)
			if err != nil {
				return err
			}
			defer flush()

			rules, err := policy.LoadRules(cmd.Context(), policies, !noBuiltinRules, logger)
			if err != nil {
				return err
			}
			return PrintRules(outWriter, output, rules)
		},
	}
	cmd.Flags().StringArrayVar(&policies, "policy", nil, "Policy document directory or file (repeatable)")
	cmd.Flags().BoolVar(&noBuiltinRules, "no-builtin-rules", false, "Do not load the built-in rules")
	addOutputFlag(cmd, &output, OutputTable)
	return cmd
}

func PrintRules(w io.Writer, format string, rules *policy.RuleSet) error {
	info := RuleSetInfo{Hash: rules.Hash(), Rules: make([]RuleInfo, 0, rules.Len())}
	for _, name := range rules.Names() {
		rule, _ := rules.Get(name)
		info.Rules = append(info.Rules, RuleInfo{
			Name:     rule.Name,
			Title:    rule.Title,
			Mode:     rule.Mode,
			Severity: rule.Severity,
			Category: rule.Category,
			Kinds:    rule.Kinds,
			Source:   rule.Source,
		})
	}
	return printObject(w, format, info, func(w io.Writer) error {
		_, _ = fmt.Fprintf(w, "Rule set: %d rules, hash %s\n", len(info.Rules), info.Hash)
		data := [][]string{{"Name", "Mode", "Severity", "Category", "Kinds", "Source"}}
		for _, rule := range info.Rules {
			data = append(data, []string{
				rule.Name, string(rule.Mode), severity(rule.Severity), rule.Category,
				strings.Join(rule.Kinds, ","), rule.Source,
			})
		}
		return renderTable(w, "Rules", data)
	})
}
