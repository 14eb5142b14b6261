package installer

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
)

// Host identifies a platform and CPU architecture using GOOS/GOARCH names.
type Host struct {
	OS   string
	Arch string
}

// CurrentHost returns the host this binary runs on.
func CurrentHost() Host {
	return Host{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

func (h Host) String() string {
	return h.OS + "/" + h.Arch
}

// anyArch matches every architecture of a platform not listed explicitly.
const anyArch = "*"

// Strategies maps platform to architecture to an installer URL template.
// Templates see .Index (the discovery endpoint, with trailing slash) and
// .Version.
type Strategies map[string]map[string]string

// DefaultStrategies covers the Windows installers published on python.org.
func DefaultStrategies() Strategies {
	return Strategies{
		"windows": {
			"amd64": "{{ .Index }}{{ .Version }}/python-{{ .Version }}-amd64.exe",
			"arm64": "{{ .Index }}{{ .Version }}/python-{{ .Version }}-arm64.exe",
			anyArch: "{{ .Index }}{{ .Version }}/python-{{ .Version }}.exe",
		},
	}
}

// DefaultLocations returns glob patterns where the Windows installer puts
// the runtime, per-user first, then all-users. Other hosts get none.
func DefaultLocations(host Host, executable string, getenv func(string) string) []string {
	if host.OS != "windows" {
		return nil
	}
	if filepath.Ext(executable) == "" {
		executable += ".exe"
	}
	var out []string
	if dir := getenv("LOCALAPPDATA"); dir != "" {
		out = append(out, filepath.Join(dir, "Programs", "Python", "Python3*", executable))
	}
	if dir := getenv("ProgramFiles"); dir != "" {
		out = append(out, filepath.Join(dir, "Python3*", executable))
	}
	return out
}

// UnsupportedPlatformError reports a host with no installer strategy.
type UnsupportedPlatformError struct {
	Host Host
}

func (e *UnsupportedPlatformError) Error() string {
	if e == nil {
		return "unsupported platform"
	}
	return fmt.Sprintf("runtime installation not implemented for platform %s", e.Host)
}

// Lister returns the discovery listing body.
type Lister interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// Resolver turns the discovery endpoint into a concrete installer URL.
type Resolver struct {
	IndexURL      string
	VersionPrefix string
	Strategies    Strategies
	Host          Host
}

// Release is a resolved installer download.
type Release struct {
	Version string
	URL     string
}

// Supported reports whether the resolver's host has a strategy at all.
func (r *Resolver) Supported() bool {
	_, ok := r.Strategies[r.Host.OS]
	return ok
}

// Resolve discovers the latest version and renders its installer URL.
// The platform check runs before any network access.
func (r *Resolver) Resolve(ctx context.Context, lister Lister) (*Release, error) {
	tmpl, err := r.template()
	if err != nil {
		return nil, err
	}

	body, err := lister.Get(ctx, r.IndexURL)
	if err != nil {
		return nil, fmt.Errorf("list runtime versions: %w", err)
	}

	versions := ParseVersions(string(body), r.VersionPrefix)
	latest, err := Latest(versions)
	if err != nil {
		return nil, fmt.Errorf("discovery endpoint %s: %w", r.IndexURL, err)
	}

	url, err := r.render(tmpl, latest)
	if err != nil {
		return nil, err
	}
	return &Release{Version: latest, URL: url}, nil
}

// URLFor renders the installer URL for a known version without discovery.
func (r *Resolver) URLFor(version string) (string, error) {
	tmpl, err := r.template()
	if err != nil {
		return "", err
	}
	return r.render(tmpl, version)
}

func (r *Resolver) template() (string, error) {
	arches, ok := r.Strategies[r.Host.OS]
	if !ok {
		return "", &UnsupportedPlatformError{Host: r.Host}
	}
	if tmpl, ok := arches[r.Host.Arch]; ok {
		return tmpl, nil
	}
	if tmpl, ok := arches[anyArch]; ok {
		return tmpl, nil
	}
	return "", &UnsupportedPlatformError{Host: r.Host}
}

func (r *Resolver) render(text string, version string) (string, error) {
	index := r.IndexURL
	if !strings.HasSuffix(index, "/") {
		index += "/"
	}
	data := map[string]any{
		"Index":   index,
		"Version": version,
	}

	tmpl, err := template.New("installer").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse installer template: %w", err)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render installer template: %w", err)
	}
	return sb.String(), nil
}

// SilentArgs returns the unattended-install argument vector. The all-users
// flag is set only when the process is elevated.
func SilentArgs(elevated bool) []string {
	allUsers := "InstallAllUsers=0"
	if elevated {
		allUsers = "InstallAllUsers=1"
	}
	return []string{"/quiet", allUsers, "PrependPath=1"}
}
