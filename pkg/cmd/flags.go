package cmd

import (
	"fmt"
	"strings"

	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"k8s.io/klog/v2"
)

const (
	configFlag     = "config"
	logDevModeFlag = "log-dev-mode"
	outputFlag     = "output"
)

// GlobalFlags are shared by every command that reads the configuration.
type GlobalFlags struct {
	ConfigFile string
	LogDevMode bool
}

func SetGlobalFlags(global *GlobalFlags, cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&global.ConfigFile, configFlag, "",
		"Path to a YAML or JSON configuration file overlaying LOOKOUT_* environment variables")
	cmd.PersistentFlags().BoolVar(&global.LogDevMode, logDevModeFlag, false,
		"Log with a development zap logger instead of klog")
}

// LoadConfig resolves the effective configuration: environment variables,
// then the configuration file, then flags set on the command line.
func (g *GlobalFlags) LoadConfig(cmd *cobra.Command) (etc.Config, error) {
	config, err := etc.GetConfig()
	if err != nil {
		return config, fmt.Errorf("reading environment: %w", err)
	}
	if g.ConfigFile != "" {
		if err := etc.LoadFile(g.ConfigFile, &config); err != nil {
			return config, err
		}
	}
	if cmd.Flags().Changed(logDevModeFlag) {
		config.LogDevMode = g.LogDevMode
	}
	return config, nil
}

// newLogger returns the logger backing a command and a function flushing
// buffered entries.
func newLogger(devMode bool) (logr.Logger, func(), error) {
	if !devMode {
		return klog.NewKlogr(), klog.Flush, nil
	}
	zapLog, err := zap.NewDevelopment()
	if err != nil {
		return logr.Discard(), func() {}, fmt.Errorf("creating zap logger: %w", err)
	}
	return zapr.NewLogger(zapLog), func() { _ = zapLog.Sync() }, nil
}

func addOutputFlag(cmd *cobra.Command, output *string, defaultFormat string) {
	cmd.Flags().StringVarP(output, outputFlag, "o", defaultFormat,
		"Output format. One of "+strings.Join(OutputFormats, "|"))
}
