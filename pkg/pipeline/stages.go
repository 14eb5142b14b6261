package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/zen-systems/bootstrapper/pkg/command"
	"github.com/zen-systems/bootstrapper/pkg/download"
	"github.com/zen-systems/bootstrapper/pkg/installer"
	"github.com/zen-systems/bootstrapper/pkg/runlog"
)

// Stage identifiers of the canonical bootstrap sequence.
const (
	StageProbePrivileges       = "probe-privileges"
	StageInstallRuntime        = "install-runtime"
	StagePackageManager        = "package-manager"
	StageInstallPackageManager = "install-package-manager"
	StageUpgradePackageManager = "upgrade-package-manager"
	StageInstallDependencies   = "install-dependencies"
)

// Default progress weights, in percent. The task list receives TaskBudget.
const (
	WeightProbe          = 5
	WeightRuntime        = 25
	WeightPackageManager = 20
	WeightDependencies   = 20
	TaskBudget           = 30
)

// userFlag is appended to package manager installs when not elevated.
const userFlag = "--user"

// Environment holds what the canonical stages need to set up a runtime and
// its package manager.
type Environment struct {
	// Runtime is the runtime executable name or path.
	Runtime string
	// PackageManager is the module run as "<Runtime> -m <PackageManager>".
	PackageManager string
	// BootstrapURL is the package manager installer script.
	BootstrapURL string
	// RuntimeLocations are glob patterns searched for the runtime when it is
	// not on PATH, e.g. the install directory of a freshly installed runtime
	// whose PATH change this process cannot see.
	RuntimeLocations []string
	// Manifest is the dependency file handed to the package manager.
	Manifest         string
	ManifestOptional bool

	Installer *installer.Resolver
	Runner    command.Runner
	Fetcher   download.Fetcher
	Log       *runlog.Log
	Timeout   time.Duration
}

// Stages returns the canonical stage sequence: probe privileges, ensure the
// runtime, ensure the package manager, install dependencies.
func (e *Environment) Stages() []*Stage {
	return []*Stage{
		{
			ID:     StageProbePrivileges,
			Weight: WeightProbe,
			Action: e.probePrivileges,
		},
		{
			ID:           StageInstallRuntime,
			Weight:       WeightRuntime,
			Skippable:    true,
			Precondition: e.runtimeMissing,
			Action:       e.installRuntime,
		},
		{
			ID:      StagePackageManager,
			Weight:  WeightPackageManager,
			Resolve: e.resolvePackageManager,
		},
		{
			ID:           StageInstallDependencies,
			Weight:       WeightDependencies,
			Skippable:    e.ManifestOptional,
			Precondition: e.manifestPresent,
			Action:       e.installDependencies,
		},
	}
}

func (e *Environment) probePrivileges(_ context.Context, rc *RunContext) (string, error) {
	if rc.HasElevatedPrivileges {
		return "Running with administrator privileges", nil
	}
	return fmt.Sprintf("Running without administrator privileges; package installs will use %s", userFlag), nil
}

func (e *Environment) runtimeMissing(_ context.Context, rc *RunContext) (bool, error) {
	path, err := e.locateRuntime()
	if err != nil {
		e.log("%s not found. Downloading installer...", e.Runtime)
		return true, nil
	}
	rc.Runtime = path
	return false, fmt.Errorf("%s found at %s", e.Runtime, path)
}

// locateRuntime looks the runtime up on PATH, then in RuntimeLocations.
func (e *Environment) locateRuntime() (string, error) {
	path, err := e.Runner.LookPath(e.Runtime)
	if err == nil {
		return path, nil
	}
	for _, pattern := range e.RuntimeLocations {
		matches, globErr := filepath.Glob(pattern)
		if globErr != nil {
			continue
		}
		for _, m := range matches {
			if info, statErr := os.Stat(m); statErr == nil && !info.IsDir() {
				return m, nil
			}
		}
	}
	return "", &command.NotFoundError{Name: e.Runtime, Err: err}
}

// runtime returns the located runtime path, or the configured name before
// the runtime stage has run.
func (e *Environment) runtime(rc *RunContext) string {
	if rc != nil && rc.Runtime != "" {
		return rc.Runtime
	}
	return e.Runtime
}

func (e *Environment) installRuntime(ctx context.Context, rc *RunContext) (string, error) {
	if e.Installer == nil {
		return "", fmt.Errorf("no runtime installer configured")
	}
	release, err := e.Installer.Resolve(ctx, e.Fetcher)
	if err != nil {
		return "", err
	}

	e.log("Downloading %s %s installer...", e.Runtime, release.Version)
	path, err := e.Fetcher.Fetch(ctx, release.URL, rc.Workspace)
	if err != nil {
		return "", fmt.Errorf("download runtime installer: %w", err)
	}

	e.log("Installing %s %s...", e.Runtime, release.Version)
	if _, err := e.Runner.Run(ctx, path, installer.SilentArgs(rc.HasElevatedPrivileges), e.Timeout); err != nil {
		return "", fmt.Errorf("install runtime: %w", err)
	}

	located, err := e.locateRuntime()
	if err != nil {
		return "", fmt.Errorf("%s still missing after install: %w", e.Runtime, err)
	}
	rc.Runtime = located
	return fmt.Sprintf("%s %s installation completed successfully", e.Runtime, release.Version), nil
}

// resolvePackageManager probes "<runtime> -m <pm> --version" and picks the
// upgrade branch when it succeeds, the install branch otherwise.
func (e *Environment) resolvePackageManager(ctx context.Context, rc *RunContext) (*Stage, error) {
	if _, err := e.Runner.Run(ctx, e.runtime(rc), []string{"-m", e.PackageManager, "--version"}, e.Timeout); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var notFound *command.NotFoundError
		if errors.As(err, &notFound) {
			return nil, err
		}
		e.log("%s not found. Installing %s...", e.PackageManager, e.PackageManager)
		return &Stage{ID: StageInstallPackageManager, Action: e.installPackageManager}, nil
	}
	return &Stage{ID: StageUpgradePackageManager, Action: e.upgradePackageManager}, nil
}

func (e *Environment) installPackageManager(ctx context.Context, rc *RunContext) (string, error) {
	script, err := e.Fetcher.Fetch(ctx, e.BootstrapURL, rc.Workspace)
	if err != nil {
		return "", fmt.Errorf("download %s installer: %w", e.PackageManager, err)
	}
	defer os.Remove(script)

	if _, err := e.Runner.Run(ctx, e.runtime(rc), []string{script}, e.Timeout); err != nil {
		return "", fmt.Errorf("install %s: %w", e.PackageManager, err)
	}
	return fmt.Sprintf("%s installation completed successfully", e.PackageManager), nil
}

func (e *Environment) upgradePackageManager(ctx context.Context, rc *RunContext) (string, error) {
	e.log("Upgrading %s...", e.PackageManager)
	args := e.withUserFlag(rc, "-m", e.PackageManager, "install", "--upgrade", e.PackageManager)
	if _, err := e.Runner.Run(ctx, e.runtime(rc), args, e.Timeout); err != nil {
		return "", fmt.Errorf("upgrade %s: %w", e.PackageManager, err)
	}
	return fmt.Sprintf("%s upgrade completed successfully", e.PackageManager), nil
}

func (e *Environment) manifestPresent(_ context.Context, _ *RunContext) (bool, error) {
	if _, err := os.Stat(e.Manifest); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, &command.NotFoundError{Name: e.Manifest, Err: err}
		}
		return false, fmt.Errorf("stat %s: %w", e.Manifest, err)
	}
	return true, nil
}

func (e *Environment) installDependencies(ctx context.Context, rc *RunContext) (string, error) {
	e.log("Installing requirements from %s...", e.Manifest)
	args := e.withUserFlag(rc, "-m", e.PackageManager, "install", "-r", e.Manifest)
	if _, err := e.Runner.Run(ctx, e.runtime(rc), args, e.Timeout); err != nil {
		return "", fmt.Errorf("install requirements: %w", err)
	}
	return "Requirements installation completed successfully", nil
}

func (e *Environment) withUserFlag(rc *RunContext, args ...string) []string {
	if !rc.HasElevatedPrivileges {
		args = append(args, userFlag)
	}
	return args
}

func (e *Environment) log(format string, args ...any) {
	if e.Log != nil {
		e.Log.Recordf(format, args...)
	}
}
