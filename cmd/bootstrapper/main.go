package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zen-systems/bootstrapper/pkg/command"
	"github.com/zen-systems/bootstrapper/pkg/config"
	"github.com/zen-systems/bootstrapper/pkg/download"
	"github.com/zen-systems/bootstrapper/pkg/installer"
	"github.com/zen-systems/bootstrapper/pkg/pipeline"
	"github.com/zen-systems/bootstrapper/pkg/privilege"
	"github.com/zen-systems/bootstrapper/pkg/runlog"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "bootstrapper",
		Short: "Prepare a workstation to run a project",
		Long: `Bootstrapper makes sure the language runtime and its package manager are
	installed, installs the project's dependencies, then runs the project's
	tasks in order. Every step is recorded in a log file.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to bootstrap config file (default "+config.DefaultPath+")")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(infoCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var assumeYes bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bootstrap sequence",
		Long: `Probes privileges, installs the runtime if missing, installs or upgrades
	the package manager, installs dependencies and runs the configured tasks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			cmdTimeout, err := cfg.CommandTimeoutDuration()
			if err != nil {
				return err
			}
			dlTimeout, err := cfg.DownloadTimeoutDuration()
			if err != nil {
				return err
			}

			logFile, err := runlog.Open(cfg.LogFile)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := logFile.Close(); cerr != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %v\n", cfg.LogFile, cerr)
				}
			}()

			runner := command.NewExecRunner()
			fetcher := download.NewClient(download.WithTimeout(dlTimeout))

			resolver := newResolver(cfg)
			env := &pipeline.Environment{
				Runtime:          cfg.Runtime.Executable,
				RuntimeLocations: installer.DefaultLocations(resolver.Host, cfg.Runtime.Executable, os.Getenv),
				PackageManager:   cfg.PackageManager.Module,
				BootstrapURL:     cfg.PackageManager.BootstrapURL,
				Manifest:         cfg.Dependencies.Manifest,
				ManifestOptional: cfg.Dependencies.Optional,
				Installer:        resolver,
				Runner:           runner,
				Fetcher:          fetcher,
				Log:              logFile,
				Timeout:          cmdTimeout,
			}

			seq := &pipeline.Sequencer{
				Runner:      runner,
				Interpreter: cfg.Runtime.Executable,
				Dir:         cfg.TasksDir,
				Timeout:     cmdTimeout,
			}

			terminal := pipeline.NewAsyncObserver(&terminalObserver{out: cmd.ErrOrStderr()})

			p, err := pipeline.New(env.Stages(),
				pipeline.WithTasks(seq, pipeline.NewTaskItems(cfg.Tasks), pipeline.TaskBudget),
				pipeline.WithProbe(privilege.NewHostProbe()),
				pipeline.WithLog(logFile),
				pipeline.WithObserver(terminal),
				pipeline.WithConfirm(func(w pipeline.PrivilegeWarning) bool {
					if assumeYes {
						return true
					}
					return confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), w.Message)
				}),
			)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			result, err := p.Run(ctx)
			terminal.Close()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Run %s %s (%.0f%%)\n", result.RunID, result.State, result.Percent)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "continue without elevated privileges without asking")

	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the bootstrap config",
		Long:  "Loads and validates the bootstrap config without executing anything.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !newResolver(cfg).Supported() {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: no runtime installer for %s\n", installer.CurrentHost())
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Bootstrap config is valid.")
			return nil
		},
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show host and toolchain information",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			runner := command.NewExecRunner()

			runtimeVersion, err := installer.RuntimeVersion(ctx, runner, cfg.Runtime.Executable)
			if err != nil {
				runtimeVersion = "Not installed"
			}
			pmVersion, err := installer.PackageManagerVersion(ctx, runner, cfg.Runtime.Executable, cfg.PackageManager.Module)
			if err != nil {
				pmVersion = "Not installed"
			}

			elevated := "no"
			if privilege.NewHostProbe().HasElevatedPrivileges() {
				elevated = "yes"
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "PLATFORM\t%s\n", installer.CurrentHost())
			fmt.Fprintf(w, "ELEVATED\t%s\n", elevated)
			fmt.Fprintf(w, "RUNTIME\t%s %s\n", cfg.Runtime.Executable, runtimeVersion)
			fmt.Fprintf(w, "PACKAGE MANAGER\t%s %s\n", cfg.PackageManager.Module, pmVersion)
			fmt.Fprintf(w, "LOG FILE\t%s\n", cfg.LogFile)
			return w.Flush()
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newResolver(cfg *config.Config) *installer.Resolver {
	strategies := installer.DefaultStrategies()
	for goos, arches := range cfg.Installers {
		if strategies[goos] == nil {
			strategies[goos] = make(map[string]string, len(arches))
		}
		for arch, tmpl := range arches {
			strategies[goos][arch] = tmpl
		}
	}
	return &installer.Resolver{
		IndexURL:      cfg.Runtime.IndexURL,
		VersionPrefix: cfg.Runtime.VersionPrefix,
		Strategies:    strategies,
		Host:          installer.CurrentHost(),
	}
}

func confirm(in io.Reader, out io.Writer, message string) bool {
	fmt.Fprintf(out, "%s\nContinue anyway? [y/N] ", message)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// terminalObserver prints run events for an interactive operator.
type terminalObserver struct {
	out  io.Writer
	last int
}

func (t *terminalObserver) OnLog(message string) {
	fmt.Fprintln(t.out, message)
}

func (t *terminalObserver) OnProgress(percent float64) {
	p := int(percent)
	if p == t.last {
		return
	}
	t.last = p
	fmt.Fprintf(t.out, "[%3d%%]\n", p)
}

func (t *terminalObserver) OnFinished(success bool, err error) {
	if success {
		fmt.Fprintln(t.out, "Setup complete.")
		return
	}
	if err != nil {
		fmt.Fprintf(t.out, "Setup failed: %v\n", err)
	}
}
