package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

func NewConfigCmd(global *GlobalFlags, outWriter io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration and report invalid settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := global.LoadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(config)
			if err != nil {
				return fmt.Errorf("encoding configuration: %w", err)
			}
			_, _ = outWriter.Write(data)
			return config.Validate()
		},
	}
	return cmd
}
