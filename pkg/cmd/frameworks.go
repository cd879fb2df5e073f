package cmd

import (
	"io"
	"strconv"

	"github.com/aquasecurity/lookout/pkg/compliance"
	"github.com/spf13/cobra"
)

// FrameworkInfo describes a loaded compliance framework.
type FrameworkInfo struct {
	Name        string  `json:"name"`
	Version     string  `json:"version"`
	Description string  `json:"description,omitempty"`
	PassScore   float64 `json:"passScore"`
	Checks      int     `json:"checks"`
}

func NewFrameworksCmd(global *GlobalFlags, outWriter io.Writer) *cobra.Command {
	var (
		dir    string
		output string
	)
	cmd := &cobra.Command{
		Use:   "frameworks",
		Short: "List the compliance frameworks a scan would score",
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

			frameworks, err := compliance.LoadFrameworks(dir, logger)
			if err != nil {
				return err
			}
			return PrintFrameworks(outWriter, output, frameworks)
		},
	}
	cmd.Flags().StringVar(&dir, "frameworks", "", "Directory with additional compliance framework specs")
	addOutputFlag(cmd, &output, OutputTable)
	return cmd
}

func PrintFrameworks(w io.Writer, format string, frameworks []compliance.Framework) error {
	infos := make([]FrameworkInfo, 0, len(frameworks))
	for _, f := range frameworks {
		infos = append(infos, FrameworkInfo{
			Name:        f.Name,
			Version:     f.Version,
			Description: f.Description,
			PassScore:   f.PassScore,
			Checks:      len(f.Checks),
		})
	}
	return printObject(w, format, infos, func(w io.Writer) error {
		data := [][]string{{"Name", "Version", "Pass Score", "Checks"}}
		for _, info := range infos {
			data = append(data, []string{
				info.Name, info.Version, strconv.FormatFloat(info.PassScore, 'f', -1, 64), strconv.Itoa(info.Checks),
			})
		}
		return renderTable(w, "Frameworks", data)
	})
}
