package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zen-systems/bootstrapper/pkg/command"
	"github.com/zen-systems/bootstrapper/pkg/installer"
	"github.com/zen-systems/bootstrapper/pkg/runlog"
)

type call struct {
	exe  string
	args []string
}

func (c call) String() string {
	return strings.TrimSpace(c.exe + " " + strings.Join(c.args, " "))
}

type stubRunner struct {
	mu      sync.Mutex
	paths   map[string]string
	handler func(exe string, args []string) error
	calls   []call
	// strictPath makes Run fail like ExecRunner for bare names not in paths.
	strictPath bool
}

func (r *stubRunner) put(exe, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths[exe] = path
}

func (r *stubRunner) LookPath(exe string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.paths[exe]; ok {
		return p, nil
	}
	return "", &command.NotFoundError{Name: exe}
}

func (r *stubRunner) Run(_ context.Context, exe string, args []string, _ time.Duration) (*command.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, call{exe: exe, args: append([]string(nil), args...)})
	handler := r.handler
	_, known := r.paths[exe]
	strict := r.strictPath
	r.mu.Unlock()

	if strict && !known && !strings.ContainsAny(exe, `/\`) {
		return nil, &command.NotFoundError{Name: exe}
	}

	result := &command.Result{Command: append([]string{exe}, args...)}
	if handler != nil {
		if err := handler(exe, args); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (r *stubRunner) Calls() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func (r *stubRunner) find(substr string) (call, bool) {
	for _, c := range r.Calls() {
		if strings.Contains(c.String(), substr) {
			return c, true
		}
	}
	return call{}, false
}

type stubFetcher struct {
	mu       sync.Mutex
	listing  string
	fetchErr error
	fetched  []string
	written  []string
}

func (f *stubFetcher) Fetch(_ context.Context, rawURL, destDir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, rawURL)
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	path := filepath.Join(destDir, fmt.Sprintf("%d-%s", len(f.fetched), filepath.Base(rawURL)))
	if err := os.WriteFile(path, []byte("payload"), 0o755); err != nil {
		return "", err
	}
	f.written = append(f.written, path)
	return path, nil
}

func (f *stubFetcher) Get(_ context.Context, _ string) ([]byte, error) {
	return []byte(f.listing), nil
}

func (f *stubFetcher) Fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

// pmVersionFails makes the package manager presence probe fail.
func pmVersionFails(exe string, args []string) error {
	if len(args) > 0 && args[len(args)-1] == "--version" {
		return &command.ExecutionError{Result: &command.Result{Command: append([]string{exe}, args...), ExitCode: 1, Stderr: "No module named pip"}}
	}
	return nil
}

type fixture struct {
	dir     string
	runner  *stubRunner
	fetcher *stubFetcher
	log     *runlog.Log
	logBuf  *syncBuffer
	env     *Environment
	seq     *Sequencer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	manifest := filepath.Join(dir, "requirements.txt")
	if err := os.WriteFile(manifest, []byte("pypdf\nrequests\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	buf := &syncBuffer{}
	log := runlog.New(buf)
	runner := &stubRunner{paths: map[string]string{"python": "/usr/bin/python"}}
	fetcher := &stubFetcher{listing: `<a href="3.9.13/">3.9.13/</a><a href="3.12.1/">3.12.1/</a>`}

	env := &Environment{
		Runtime:        "python",
		PackageManager: "pip",
		BootstrapURL:   "https://bootstrap.pypa.io/get-pip.py",
		Manifest:       manifest,
		Installer: &installer.Resolver{
			IndexURL:      "https://www.python.org/ftp/python/",
			VersionPrefix: "3.",
			Strategies:    installer.DefaultStrategies(),
			Host:          installer.Host{OS: "windows", Arch: "amd64"},
		},
		Runner:  runner,
		Fetcher: fetcher,
		Log:     log,
	}
	seq := &Sequencer{Runner: runner, Interpreter: "python", Dir: dir}

	return &fixture{dir: dir, runner: runner, fetcher: fetcher, log: log, logBuf: buf, env: env, seq: seq}
}

func (f *fixture) writeTask(t *testing.T, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.dir, name), []byte("print('ok')\n"), 0o644); err != nil {
		t.Fatalf("write task: %v", err)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type recordingObserver struct {
	mu       sync.Mutex
	logs     []string
	progress []float64
	finished []bool
	errs     []error
}

func (o *recordingObserver) OnLog(message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logs = append(o.logs, message)
}

func (o *recordingObserver) OnProgress(percent float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = append(o.progress, percent)
}

func (o *recordingObserver) OnFinished(success bool, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, success)
	o.errs = append(o.errs, err)
}

func summarize(outcomes []Outcome) string {
	parts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		parts = append(parts, fmt.Sprintf("%s(%s)", o.Status, o.StageID))
	}
	return strings.Join(parts, ", ")
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
