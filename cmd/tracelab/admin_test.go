package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunAdmin_Arguments(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no command", nil, ""},
		{"help", []string{"help"}, ""},
		{"unknown", []string{"vacuum"}, "unknown admin command: vacuum"},
		{"rollback zero steps", []string{"rollback", "--steps", "0"}, "--steps must be at least 1"},
		{"counts without user", []string{"counts", "--experiment", "3"}, "--experiment and --user are required"},
		{"export without experiment", []string{"export"}, "--experiment is required"},
		{"bad flag", []string{"counts", "--experiment", "x"}, "invalid value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runAdmin(tt.args)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRunAdmin_RequiresPostgres(t *testing.T) {
	t.Setenv("TRACELAB_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("TRACELAB_STORAGE_DRIVER", "memory")

	err := runAdmin([]string{"migrate"})
	if err == nil || !strings.Contains(err.Error(), "storage.driver") {
		t.Fatalf("expected driver error, got %v", err)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "experiment_3.csv")

	err := writeFileAtomic(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "participant,experiment\n")
		return err
	})
	if err != nil {
		t.Fatalf("writeFileAtomic: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "participant,experiment\n" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestWriteFileAtomic_FailedRenderLeavesNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "experiment_3.csv")
	if err := os.WriteFile(path, []byte("previous report\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	errDiskFull := errors.New("disk full")
	err := writeFileAtomic(path, func(w io.Writer) error {
		// Larger than the bufio buffer so a chunk reaches the file first.
		if _, err := io.WriteString(w, strings.Repeat("x", 3*4096)); err != nil {
			return err
		}
		return errDiskFull
	})
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("expected render error, got %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "previous report\n" {
		t.Fatalf("existing report must be untouched, got %d bytes", len(got))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temporary file removed, found %d entries", len(entries))
	}
}

func TestWriteFileAtomic_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent", "experiment_3.csv")
	called := false
	err := writeFileAtomic(path, func(io.Writer) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
	if called {
		t.Fatal("render must not run when the file cannot be created")
	}
	if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("expected no output file, got %v", statErr)
	}
}
