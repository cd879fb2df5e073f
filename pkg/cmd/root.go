package cmd

import (
	"context"
	"flag"
	"io"

	"github.com/aquasecurity/lookout/pkg/lookout"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func NewRootCmd(buildInfo lookout.BuildInfo, args []string, outWriter io.Writer, errWriter io.Writer) *cobra.Command {
	var global GlobalFlags

	rootCmd := &cobra.Command{
		Use:           lookout.AppName,
		Short:         "Container image security analysis orchestrator",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(NewVersionCmd(buildInfo, outWriter))
	rootCmd.AddCommand(NewScanCmd(&global, outWriter))
	rootCmd.AddCommand(NewRulesCmd(&global, outWriter))
	rootCmd.AddCommand(NewFrameworksCmd(&global, outWriter))
	rootCmd.AddCommand(NewConfigCmd(&global, outWriter))

	SetGlobalFlags(&global, rootCmd)

	rootCmd.SetArgs(args[1:])
	rootCmd.SetOut(outWriter)
	rootCmd.SetErr(errWriter)

	return rootCmd
}

// Run is the entry point of the lookout CLI. It runs the specified
// command based on the specified args. Scheduled scans stop when ctx is
// done.
func Run(ctx context.Context, buildInfo lookout.BuildInfo, args []string, outWriter io.Writer, errWriter io.Writer) error {

	initFlags()

	return NewRootCmd(buildInfo, args, outWriter, errWriter).ExecuteContext(ctx)
}

func initFlags() {
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	// Hide all klog flags except for -v
	flag.CommandLine.VisitAll(func(f *flag.Flag) {
		if f.Name != "v" {
			pflag.Lookup(f.Name).Hidden = true
		}
	})
}
