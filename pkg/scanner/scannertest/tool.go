// Package scannertest provides fake scanner binaries for plugin tests.
package scannertest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Output makes a fake tool write Content to the path passed after Flag.
// With Name set, the path after Flag is a directory and the content is
// written to Name inside it.
type Output struct {
	Flag    string
	Name    string
	Content []byte
}

// Tool is a shell script standing in for a scanner binary. It records its
// arguments and environment, prints Stdout and exits with ExitCode.
type Tool struct {
	Path string
	dir  string
}

type ToolOptions struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Outputs  []Output
	// Sleep delays the tool, e.g. to exercise timeouts.
	Sleep string
}

func NewTool(t *testing.T, options ToolOptions) *Tool {
	t.Helper()
	dir := t.TempDir()

	write := func(name string, content []byte) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, content, 0o600); err != nil {
			t.Fatalf("writing fake tool file: %v", err)
		}
		return path
	}

	var script strings.Builder
	script.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&script, "printf '%%s\\n' \"$@\" > '%s'\n", filepath.Join(dir, "args"))
	fmt.Fprintf(&script, "env > '%s'\n", filepath.Join(dir, "env"))
	if len(options.Outputs) > 0 {
		script.WriteString("prev=\"\"\nfor arg in \"$@\"; do\n  case \"$prev\" in\n")
		for i, output := range options.Outputs {
			src := write(fmt.Sprintf("output-%d", i), output.Content)
			if output.Name == "" {
				fmt.Fprintf(&script, "    '%s') cp '%s' \"$arg\" ;;\n", output.Flag, src)
			} else {
				fmt.Fprintf(&script, "    '%s') mkdir -p \"$arg\" && cp '%s' \"$arg/%s\" ;;\n", output.Flag, src, output.Name)
			}
		}
		script.WriteString("  esac\n  prev=\"$arg\"\ndone\n")
	}
	if options.Sleep != "" {
		fmt.Fprintf(&script, "sleep %s\n", options.Sleep)
	}
	fmt.Fprintf(&script, "cat '%s'\n", write("stdout", []byte(options.Stdout)))
	fmt.Fprintf(&script, "cat '%s' >&2\n", write("stderr", []byte(options.Stderr)))
	fmt.Fprintf(&script, "exit %d\n", options.ExitCode)

	path := filepath.Join(dir, "tool.sh")
	if err := os.WriteFile(path, []byte(script.String()), 0o700); err != nil {
		t.Fatalf("writing fake tool: %v", err)
	}
	return &Tool{Path: path, dir: dir}
}

// Args returns the arguments of the last invocation.
func (f *Tool) Args(t *testing.T) []string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(f.dir, "args"))
	if err != nil {
		t.Fatalf("fake tool was not invoked: %v", err)
	}
	return strings.Split(strings.TrimSuffix(string(content), "\n"), "\n")
}

// Env returns the value of an environment variable seen by the last
// invocation.
func (f *Tool) Env(t *testing.T, name string) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(f.dir, "env"))
	if err != nil {
		t.Fatalf("fake tool was not invoked: %v", err)
	}
	for _, line := range strings.Split(string(content), "\n") {
		if value, ok := strings.CutPrefix(line, name+"="); ok {
			return value
		}
	}
	return ""
}

// Fixture reads a file from the testdata/fixture directory of the calling
// package.
func Fixture(t *testing.T, name string) []byte {
	t.Helper()
	content, err := os.ReadFile(filepath.Join("testdata", "fixture", name))
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}
	return content
}
