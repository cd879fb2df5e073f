package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aquasecurity/lookout/pkg/cmd"
	"github.com/aquasecurity/lookout/pkg/lookout"
	"k8s.io/klog/v2"
)

var (
	// These variables are populated by GoReleaser via ldflags
	version = "dev"
	commit  = "none"
	date    = "unknown"

	buildInfo = lookout.BuildInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
	}
)

// main is the entrypoint of the lookout executable command.
func main() {
	os.Exit(run())
}

func run() int {
	defer klog.Flush()
	klog.InitFlags(nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, buildInfo, os.Args, os.Stdout, os.Stderr); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var exitErr *cmd.ExitCodeError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}
		return 1
	}
	return 0
}
