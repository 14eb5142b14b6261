package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTempCleanup(t *testing.T) {
	ws, err := NewTemp(t.TempDir(), "")
	if err != nil {
		t.Fatalf("new temp: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws.Dir(), "get-pip.py"), []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(ws.Dir(), "nested", "dir"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := ws.Cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(ws.Dir()); !os.IsNotExist(err) {
		t.Fatalf("expected workspace to be removed")
	}
	if err := ws.Cleanup(); err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
}

func TestTempDistinctDirs(t *testing.T) {
	base := t.TempDir()
	a, err := NewTemp(base, "run-*")
	if err != nil {
		t.Fatalf("new temp: %v", err)
	}
	b, err := NewTemp(base, "run-*")
	if err != nil {
		t.Fatalf("new temp: %v", err)
	}
	if a.Dir() == b.Dir() {
		t.Fatalf("expected distinct directories")
	}
}
