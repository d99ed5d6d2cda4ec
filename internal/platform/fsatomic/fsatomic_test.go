package fsatomic

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFileCreatesNewFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	if err := WriteFile(path, []byte(`{"a":1}`), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestWriteFileReplacesWholeContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	if err := WriteFile(path, []byte(strings.Repeat("x", 4096)), 0o644); err != nil {
		t.Fatalf("initial write: %v", err)
	}
	if err := WriteFile(path, []byte("short"), 0o644); err != nil {
		t.Fatalf("replace write: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "short" {
		t.Fatalf("expected full replacement, got %d bytes", len(got))
	}
}

func TestWriteFileLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	if err := WriteFile(path, []byte("content"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", entry.Name())
		}
	}
}

func TestWriteFileFailsOnMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "doc.json")
	if err := WriteFile(path, []byte("content"), 0o644); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestCrashedWriteLeavesTargetIntact(t *testing.T) {
	// A crash strands the staging file at whatever byte offset it
	// reached; the target must keep its old content because the rename
	// never ran, and the next write must recover without help.
	cases := []struct {
		name     string
		stranded string
	}{
		{"mid write", `{"rev`},
		{"before rename", `{"rev":2}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "doc.json")

			if err := WriteFile(path, []byte(`{"rev":1}`), 0o644); err != nil {
				t.Fatalf("seed write: %v", err)
			}
			tmp := filepath.Join(dir, ".doc.json.tmp-crashed")
			if err := os.WriteFile(tmp, []byte(tc.stranded), 0o644); err != nil {
				t.Fatalf("strand temp file: %v", err)
			}

			got, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read target: %v", err)
			}
			if string(got) != `{"rev":1}` {
				t.Fatalf("target content %q, want the pre-crash document", got)
			}

			if err := WriteFile(path, []byte(`{"rev":2}`), 0o644); err != nil {
				t.Fatalf("recovery write: %v", err)
			}
			got, err = os.ReadFile(path)
			if err != nil {
				t.Fatalf("read after recovery: %v", err)
			}
			if string(got) != `{"rev":2}` {
				t.Fatalf("recovered content %q", got)
			}
		})
	}
}

func TestFailedWriteKeepsOldContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	if err := WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	// Renaming over a non-empty directory fails, so a write whose final
	// step cannot complete must leave the original file untouched.
	blocked := filepath.Join(dir, "blocked")
	if err := os.MkdirAll(filepath.Join(blocked, "child"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := WriteFile(blocked, []byte("new"), 0o644); err == nil {
		t.Fatal("expected write over a directory to fail")
	}

	if _, err := os.Stat(filepath.Join(blocked, "child")); err != nil {
		t.Fatalf("blocked dir disturbed: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(got) != "old" {
		t.Fatalf("target content %q after failed sibling write", got)
	}
}
