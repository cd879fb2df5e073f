package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/lookout"
	"github.com/go-logr/logr"
)

// WorkDir is replaced with the scoped working directory in command
// arguments, e.g. "--json={workdir}/dive.json".
const WorkDir = "{workdir}"

// Command describes one invocation of an external tool.
type Command struct {
	Path string
	Args []string
	// Env is appended to the environment of the current process.
	Env []string
	// OKExitCodes lists nonzero exit codes that do not signal a failure.
	// Some tools exit with 1 when they found issues.
	OKExitCodes []int
}

func (c Command) okExit(code int) bool {
	for _, ok := range c.OKExitCodes {
		if ok == code {
			return true
		}
	}
	return false
}

// RawOutput is the unparsed output of a tool: its standard output and files
// written into the scoped working directory. Close removes those files.
type RawOutput struct {
	Stdout []byte

	// Target is the target the tool analyzed. Adapters whose findings are
	// about the target itself set it in Run.
	Target v1alpha1.Target

	workDir string
}

// NewRawOutput wraps stdout captured elsewhere, e.g. by tests.
func NewRawOutput(stdout []byte) *RawOutput {
	return &RawOutput{Stdout: stdout}
}

// NewRawOutputWithDir wraps stdout together with an existing directory of
// artifacts. The directory is removed on Close.
func NewRawOutputWithDir(stdout []byte, dir string) *RawOutput {
	return &RawOutput{Stdout: stdout, workDir: dir}
}

// Open opens an artifact the tool wrote into its working directory.
func (o *RawOutput) Open(name string) (io.ReadCloser, error) {
	if o.workDir == "" {
		return nil, fmt.Errorf("artifact %s: %w", name, os.ErrNotExist)
	}
	return os.Open(filepath.Join(o.workDir, name))
}

// Glob returns the names of artifacts matching pattern.
func (o *RawOutput) Glob(pattern string) ([]string, error) {
	if o.workDir == "" {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(o.workDir, pattern))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		rel, err := filepath.Rel(o.workDir, m)
		if err != nil {
			return nil, err
		}
		names = append(names, rel)
	}
	return names, nil
}

// Close releases the working directory. It is safe to call more than once.
func (o *RawOutput) Close() error {
	if o == nil || o.workDir == "" {
		return nil
	}
	dir := o.workDir
	o.workDir = ""
	return os.RemoveAll(dir)
}

// Execute runs commands sequentially in a fresh temporary working directory.
// The returned RawOutput holds the stdout of the last command. On error the
// working directory is removed before returning.
func Execute(ctx context.Context, logger logr.Logger, tool string, commands ...Command) (*RawOutput, error) {
	workDir, err := os.MkdirTemp("", lookout.AppName+"-"+tool+"-")
	if err != nil {
		return nil, &ToolFailureError{Tool: tool, Err: fmt.Errorf("creating working directory: %w", err)}
	}

	var stdout []byte
	for _, command := range commands {
		stdout, err = run(ctx, logger, tool, workDir, command)
		if err != nil {
			if rmErr := os.RemoveAll(workDir); rmErr != nil {
				logger.Error(rmErr, "Unable to remove working directory", "dir", workDir)
			}
			return nil, err
		}
	}
	return NewRawOutputWithDir(stdout, workDir), nil
}

func run(ctx context.Context, logger logr.Logger, tool, workDir string, command Command) ([]byte, error) {
	args := make([]string, len(command.Args))
	for i, arg := range command.Args {
		args[i] = strings.ReplaceAll(arg, WorkDir, workDir)
	}

	cmd := exec.CommandContext(ctx, command.Path, args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), command.Env...)
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.V(3).Info("Running command", "path", command.Path, "args", args)
	start := time.Now()
	err := cmd.Run()
	logger.V(3).Info("Command finished", "path", command.Path, "duration", time.Since(start), "error", err)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &TimeoutError{Tool: tool, Err: ctxErr}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if command.okExit(exitErr.ExitCode()) {
				return stdout.Bytes(), nil
			}
			return nil, &ToolFailureError{
				Tool:     tool,
				ExitCode: exitErr.ExitCode(),
				Stderr:   truncate(strings.TrimSpace(stderr.String()), maxStderr),
			}
		}
		return nil, &ToolFailureError{Tool: tool, Err: err}
	}
	return stdout.Bytes(), nil
}
