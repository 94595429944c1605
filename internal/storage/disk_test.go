package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/embedsim/internal/models"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()

	f1 := filepath.Join(dir, "intra.npy")
	if err := os.WriteFile(f1, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := DiskUsageBytes(f1)
	if err != nil {
		t.Fatal(err)
	}
	if got != 5 {
		t.Errorf("single file: got %d bytes, want 5", got)
	}

	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "a"), []byte("ab"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = DiskUsageBytes(f1, sub, "", filepath.Join(dir, "nonexistent"))
	if err != nil {
		t.Fatal(err)
	}
	if got != 7 {
		t.Errorf("file+dir with skipped entries: got %d bytes, want 7", got)
	}
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out", "nested")
	if err := EnsureDir(dir); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}

	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}
	var ioErr *models.IOError
	if err := EnsureDir(filepath.Join(file, "child")); !errors.As(err, &ioErr) {
		t.Errorf("err = %v, want IOError", err)
	}
}

func TestRemoveArtifacts(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "histograms.json")
	if err := os.WriteFile(present, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := RemoveArtifacts(present, filepath.Join(dir, "missing.xlsx"), ""); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(present); !os.IsNotExist(err) {
		t.Errorf("stat after remove: %v", err)
	}
}
