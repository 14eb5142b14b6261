// Package workspace manages the temporary directory owned by one bootstrap run.
package workspace

import (
	"fmt"
	"os"
	"sync"
)

// Temp is a run-scoped temporary directory.
type Temp struct {
	dir  string
	once sync.Once
	err  error
}

// NewTemp creates a fresh temporary directory under base (os.TempDir when empty).
func NewTemp(base, prefix string) (*Temp, error) {
	if prefix == "" {
		prefix = "bootstrapper-*"
	}
	dir, err := os.MkdirTemp(base, prefix)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Temp{dir: dir}, nil
}

// Dir returns the directory path.
func (t *Temp) Dir() string {
	return t.dir
}

// Cleanup removes the directory and everything in it. Later calls return the
// first result.
func (t *Temp) Cleanup() error {
	t.once.Do(func() {
		t.err = os.RemoveAll(t.dir)
	})
	return t.err
}
