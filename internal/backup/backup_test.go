package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aveline/canonry/internal/platform/errors"
)

func writeDataTree(t *testing.T, dataDir string, docs map[string]string) {
	t.Helper()
	for rel, content := range docs {
		path := filepath.Join(dataDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func readDataTree(t *testing.T, dataDir string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, dir := range snapshotDirs {
		root := filepath.Join(dataDir, dir)
		if _, err := os.Stat(root); os.IsNotExist(err) {
			continue
		}
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return err
			}
			rel, err := filepath.Rel(dataDir, path)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			out[filepath.ToSlash(rel)] = string(raw)
			return nil
		})
		if err != nil {
			t.Fatalf("walk %s: %v", dir, err)
		}
	}
	return out
}

func equalTrees(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func testTree() map[string]string {
	return map[string]string{
		"entities/god-vael-1.json":  `{"entity_id":"god:vael-1"}`,
		"entities/place-reef-2.json": `{"entity_id":"place:reef-2"}`,
		"revisions/god-vael-1/1.json": `{"revision":1}`,
		"ledger/events-2026-03.jsonl": `{"seq":1}` + "\n",
		"templates/god.yaml":          "id: god\n",
	}
}

func TestSnapshotAndList(t *testing.T) {
	dataDir := t.TempDir()
	writeDataTree(t, dataDir, testTree())

	m, err := NewManager(dataDir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	manifest, err := m.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if manifest.FormatVersion != FormatVersion || manifest.BackupID == "" {
		t.Fatalf("manifest = %+v", manifest)
	}
	if len(manifest.Files) != 5 {
		t.Fatalf("file count = %d, want 5", len(manifest.Files))
	}
	for i := 1; i < len(manifest.Files); i++ {
		if manifest.Files[i-1].Path >= manifest.Files[i].Path {
			t.Fatalf("manifest files unsorted: %+v", manifest.Files)
		}
	}

	ids, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 1 || ids[0] != manifest.BackupID {
		t.Fatalf("ids = %v", ids)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	original := testTree()
	writeDataTree(t, dataDir, original)

	m, err := NewManager(dataDir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	manifest, err := m.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	// Wreck the live data after the snapshot.
	if err := os.Remove(filepath.Join(dataDir, "entities", "god-vael-1.json")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	writeDataTree(t, dataDir, map[string]string{
		"entities/god-rogue-9.json": `{"entity_id":"god:rogue-9"}`,
	})

	restored, err := m.Restore(context.Background(), manifest.BackupID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.BackupID != manifest.BackupID {
		t.Fatalf("restored manifest id = %s", restored.BackupID)
	}
	if got := readDataTree(t, dataDir); !equalTrees(got, original) {
		t.Fatalf("restored tree diverged:\n%v\nwant\n%v", got, original)
	}
}

func TestRestoreUnknownBackup(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	_, err = m.Restore(context.Background(), "backup-never-existed")
	if !errors.HasCode(err, errors.CodeBackupNotFound) {
		t.Fatalf("err = %v", err)
	}
}

// A checksum mismatch must fail the restore before the swap, leaving
// live data byte-identical.
func TestRestoreChecksumMismatchLeavesLiveDataUntouched(t *testing.T) {
	dataDir := t.TempDir()
	live := testTree()
	writeDataTree(t, dataDir, live)

	m, err := NewManager(dataDir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	writeTamperedArchive(t, m, "backup-tampered")

	_, err = m.Restore(context.Background(), "backup-tampered")
	if !errors.HasCode(err, errors.CodeBackupChecksumMismatch) {
		t.Fatalf("err = %v", err)
	}
	if got := readDataTree(t, dataDir); !equalTrees(got, live) {
		t.Fatalf("live data changed by failed restore:\n%v", got)
	}
	if _, err := os.Stat(filepath.Join(dataDir, stagingPrefix+"backup-tampered")); !os.IsNotExist(err) {
		t.Fatal("staging dir left behind")
	}
}

func TestRestoreRejectsMissingManifest(t *testing.T) {
	dataDir := t.TempDir()
	writeDataTree(t, dataDir, testTree())
	m, err := NewManager(dataDir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	// An archive whose first entry is a regular file, not the manifest.
	f, err := os.Create(m.ArchivePath("backup-headless"))
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	content := []byte("{}")
	if err := tw.WriteHeader(&tar.Header{Name: "entities/x.json", Mode: 0o644, Size: int64(len(content))}); err != nil {
		t.Fatalf("header: %v", err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatalf("write: %v", err)
	}
	tw.Close()
	gz.Close()
	f.Close()

	_, err = m.Restore(context.Background(), "backup-headless")
	if !errors.HasCode(err, errors.CodeBackupManifestMissing) {
		t.Fatalf("err = %v", err)
	}
}

func TestSnapshotIDsSortChronologically(t *testing.T) {
	dataDir := t.TempDir()
	writeDataTree(t, dataDir, testTree())

	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	m, err := NewManager(dataDir, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	first, err := m.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	now = now.Add(time.Hour)
	second, err := m.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !(first.BackupID < second.BackupID) {
		t.Fatalf("ids out of order: %s, %s", first.BackupID, second.BackupID)
	}
}

// writeTamperedArchive builds an archive whose manifest claims a bogus
// checksum for one staged file.
func writeTamperedArchive(t *testing.T, m *Manager, backupID string) {
	t.Helper()

	content := []byte(`{"entity_id":"god:fake-1"}`)
	manifest := Manifest{
		FormatVersion: FormatVersion,
		BackupID:      backupID,
		CreatedAt:     time.Now().UTC(),
		Files: []ManifestFile{{
			Path:   "entities/god-fake-1.json",
			Size:   int64(len(content)),
			SHA256: "0000000000000000000000000000000000000000000000000000000000000000",
		}},
	}
	encoded, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}

	f, err := os.Create(m.ArchivePath(backupID))
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	if err := tw.WriteHeader(&tar.Header{Name: manifestName, Mode: 0o644, Size: int64(len(encoded))}); err != nil {
		t.Fatalf("manifest header: %v", err)
	}
	if _, err := tw.Write(encoded); err != nil {
		t.Fatalf("manifest write: %v", err)
	}
	if err := tw.WriteHeader(&tar.Header{Name: "entities/god-fake-1.json", Mode: 0o644, Size: int64(len(content))}); err != nil {
		t.Fatalf("file header: %v", err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatalf("file write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
}
