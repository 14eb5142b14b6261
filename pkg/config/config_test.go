package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"BOOTSTRAP_RUNTIME", "BOOTSTRAP_INDEX_URL", "BOOTSTRAP_LOG_FILE", "BOOTSTRAP_MANIFEST"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bootstrap.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWhenDefaultFileMissing(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Runtime.Executable != "python" || cfg.Dependencies.Manifest != "requirements.txt" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `name: tools
runtime:
  executable: python3
tasks:
  - pdf_merger.py
  - report.py
dependencies:
  manifest: deps.txt
  optional: true
command_timeout: 5m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Runtime.Executable != "python3" {
		t.Fatalf("unexpected runtime %s", cfg.Runtime.Executable)
	}
	if cfg.Runtime.IndexURL != "https://www.python.org/ftp/python/" {
		t.Fatalf("expected default index url to survive, got %s", cfg.Runtime.IndexURL)
	}
	if strings.Join(cfg.Tasks, ",") != "pdf_merger.py,report.py" {
		t.Fatalf("unexpected tasks %v", cfg.Tasks)
	}
	if !cfg.Dependencies.Optional || cfg.Dependencies.Manifest != "deps.txt" {
		t.Fatalf("unexpected dependencies %+v", cfg.Dependencies)
	}
	d, err := cfg.CommandTimeoutDuration()
	if err != nil || d != 5*time.Minute {
		t.Fatalf("unexpected command timeout %v %v", d, err)
	}
}

func TestLoadEnvTakesPrecedence(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "runtime:\n  executable: python3\nlog_file: file.log\n")

	t.Setenv("BOOTSTRAP_RUNTIME", "/opt/python/bin/python")
	t.Setenv("BOOTSTRAP_LOG_FILE", "env.log")
	t.Setenv("BOOTSTRAP_MANIFEST", "env-requirements.txt")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Runtime.Executable != "/opt/python/bin/python" || cfg.LogFile != "env.log" || cfg.Dependencies.Manifest != "env-requirements.txt" {
		t.Fatalf("expected env overrides, got %+v", cfg)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "tasks: [unterminated\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"empty runtime":    func(c *Config) { c.Runtime.Executable = "" },
		"empty manifest":   func(c *Config) { c.Dependencies.Manifest = "" },
		"duplicate task":   func(c *Config) { c.Tasks = []string{"a.py", "a.py"} },
		"empty task":       func(c *Config) { c.Tasks = []string{""} },
		"bad timeout":      func(c *Config) { c.CommandTimeout = "soon" },
		"negative timeout": func(c *Config) { c.DownloadTimeout = "-1s" },
		"bad scheme":       func(c *Config) { c.PackageManager.BootstrapURL = "ftp://example.com/get-pip.py" },
		"empty installer":  func(c *Config) { c.Installers = map[string]map[string]string{"windows": {"amd64": ""}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir %s: %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
