// Package config loads the bootstrap configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "bootstrap.yaml"

// Config holds the bootstrap configuration.
type Config struct {
	Name            string                       `yaml:"name"`
	Runtime         RuntimeConfig                `yaml:"runtime"`
	PackageManager  PackageManagerConfig         `yaml:"package_manager"`
	Dependencies    DependenciesConfig           `yaml:"dependencies"`
	Tasks           []string                     `yaml:"tasks"`
	TasksDir        string                       `yaml:"tasks_dir,omitempty"`
	LogFile         string                       `yaml:"log_file"`
	CommandTimeout  string                       `yaml:"command_timeout,omitempty"`
	DownloadTimeout string                       `yaml:"download_timeout,omitempty"`
	Installers      map[string]map[string]string `yaml:"installers,omitempty"`
}

// RuntimeConfig describes the language runtime.
type RuntimeConfig struct {
	Executable    string `yaml:"executable"`
	IndexURL      string `yaml:"index_url"`
	VersionPrefix string `yaml:"version_prefix"`
}

// PackageManagerConfig describes the package manager, invoked as
// "<runtime> -m <module>".
type PackageManagerConfig struct {
	Module       string `yaml:"module"`
	BootstrapURL string `yaml:"bootstrap_url"`
}

// DependenciesConfig points at the dependency manifest.
type DependenciesConfig struct {
	Manifest string `yaml:"manifest"`
	// Optional turns a missing manifest into a skipped stage instead of a failure.
	Optional bool `yaml:"optional,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Name: "project-launcher",
		Runtime: RuntimeConfig{
			Executable:    "python",
			IndexURL:      "https://www.python.org/ftp/python/",
			VersionPrefix: "3.",
		},
		PackageManager: PackageManagerConfig{
			Module:       "pip",
			BootstrapURL: "https://bootstrap.pypa.io/get-pip.py",
		},
		Dependencies: DependenciesConfig{
			Manifest: "requirements.txt",
		},
		LogFile:         "project_launcher.log",
		CommandTimeout:  "30m",
		DownloadTimeout: "10m",
	}
}

// Load reads the configuration file at path and applies environment
// overrides. Environment variables take precedence over file configuration.
// A missing file at the default path yields the defaults; a missing file at
// an explicit path is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Runtime.Executable = getEnvOrDefault("BOOTSTRAP_RUNTIME", c.Runtime.Executable)
	c.Runtime.IndexURL = getEnvOrDefault("BOOTSTRAP_INDEX_URL", c.Runtime.IndexURL)
	c.LogFile = getEnvOrDefault("BOOTSTRAP_LOG_FILE", c.LogFile)
	c.Dependencies.Manifest = getEnvOrDefault("BOOTSTRAP_MANIFEST", c.Dependencies.Manifest)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Runtime.Executable == "" {
		return fmt.Errorf("runtime executable is required")
	}
	if c.PackageManager.Module == "" {
		return fmt.Errorf("package manager module is required")
	}
	if c.Dependencies.Manifest == "" {
		return fmt.Errorf("dependency manifest is required")
	}
	if c.LogFile == "" {
		return fmt.Errorf("log file is required")
	}
	if err := validateURL("runtime index_url", c.Runtime.IndexURL); err != nil {
		return err
	}
	if err := validateURL("package_manager bootstrap_url", c.PackageManager.BootstrapURL); err != nil {
		return err
	}
	if _, err := c.CommandTimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.DownloadTimeoutDuration(); err != nil {
		return err
	}

	seen := make(map[string]struct{})
	for i, task := range c.Tasks {
		if task == "" {
			return fmt.Errorf("task %d has empty path", i+1)
		}
		if _, ok := seen[task]; ok {
			return fmt.Errorf("duplicate task: %s", task)
		}
		seen[task] = struct{}{}
	}

	for platform, arches := range c.Installers {
		if len(arches) == 0 {
			return fmt.Errorf("installer platform %s has no architectures", platform)
		}
		for arch, tmpl := range arches {
			if tmpl == "" {
				return fmt.Errorf("installer %s/%s has empty URL template", platform, arch)
			}
		}
	}

	return nil
}

// CommandTimeoutDuration parses command_timeout. Empty means no limit.
func (c *Config) CommandTimeoutDuration() (time.Duration, error) {
	return parseDuration("command_timeout", c.CommandTimeout)
}

// DownloadTimeoutDuration parses download_timeout. Empty means no limit.
func (c *Config) DownloadTimeoutDuration() (time.Duration, error) {
	return parseDuration("download_timeout", c.DownloadTimeout)
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", field, value)
	}
	return d, nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s %q: scheme must be http or https", field, raw)
	}
	return nil
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}
