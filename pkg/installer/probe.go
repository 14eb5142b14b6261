package installer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zen-systems/bootstrapper/pkg/command"
)

const probeTimeout = 30 * time.Second

// RuntimeVersion runs "<runtime> --version" and returns the version field,
// e.g. "3.12.1" from "Python 3.12.1".
func RuntimeVersion(ctx context.Context, runner command.Runner, runtime string) (string, error) {
	result, err := runner.Run(ctx, runtime, []string{"--version"}, probeTimeout)
	if err != nil {
		return "", err
	}
	// Older interpreters print the version on stderr.
	out := strings.TrimSpace(result.Stdout)
	if out == "" {
		out = strings.TrimSpace(result.Stderr)
	}
	return secondField(out)
}

// PackageManagerVersion runs "<runtime> -m <module> --version" and returns
// the version field, e.g. "23.3.1" from "pip 23.3.1 from /usr/lib/... (python 3.12)".
func PackageManagerVersion(ctx context.Context, runner command.Runner, runtime, module string) (string, error) {
	result, err := runner.Run(ctx, runtime, []string{"-m", module, "--version"}, probeTimeout)
	if err != nil {
		return "", err
	}
	return secondField(strings.TrimSpace(result.Stdout))
}

func secondField(out string) (string, error) {
	fields := strings.Fields(out)
	if len(fields) < 2 {
		return "", fmt.Errorf("unexpected version output %q", out)
	}
	return fields[1], nil
}
