// Package backup creates and restores self-describing snapshots of the
// data directory. Archives are tar.gz with a manifest enumerating every
// file and its SHA-256; restore stages and verifies a full copy before
// touching live data.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aveline/canonry/internal/platform/errors"
	"github.com/aveline/canonry/internal/platform/id"
)

// FormatVersion is bumped when the archive layout changes.
const FormatVersion = 1

const (
	manifestName   = "manifest.json"
	archiveSuffix  = ".tar.gz"
	backupsDirName = "backups"
	stagingPrefix  = ".restore-"
	retiredPrefix  = ".retired-"
)

// snapshotDirs are the data directory subtrees a snapshot captures. The
// index database is derived state and deliberately excluded; it is
// rebuilt from the ledger after a restore.
var snapshotDirs = []string{"entities", "revisions", "ledger", "templates"}

// ManifestFile describes one archived file.
type ManifestFile struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest is the self-description embedded in every archive.
type Manifest struct {
	FormatVersion int            `json:"format_version"`
	BackupID      string         `json:"backup_id"`
	CreatedAt     time.Time      `json:"created_at"`
	Files         []ManifestFile `json:"files"`
}

// Manager snapshots and restores one data directory. The mutex is the
// exclusive swap lock; it is held for the rename sequence only, never
// for the copy.
type Manager struct {
	dataDir    string
	backupsDir string
	clock      func() time.Time
	mu         sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for backup IDs and manifests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// NewManager creates a Manager for the data directory, creating the
// backups subdirectory as needed.
func NewManager(dataDir string, opts ...Option) (*Manager, error) {
	m := &Manager{
		dataDir:    filepath.Clean(dataDir),
		backupsDir: filepath.Join(filepath.Clean(dataDir), backupsDirName),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := os.MkdirAll(m.backupsDir, 0o755); err != nil {
		return nil, errors.Wrap(errors.CodeStorageIO, "create backups dir", err)
	}
	return m, nil
}

// ArchivePath returns where the archive for a backup ID lives.
func (m *Manager) ArchivePath(backupID string) string {
	return filepath.Join(m.backupsDir, backupID+archiveSuffix)
}

// List returns the IDs of every archive on disk, newest-named last.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.backupsDir)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorageIO, "read backups dir", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, archiveSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, archiveSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

// newBackupID yields IDs that sort chronologically and never collide.
func (m *Manager) newBackupID() string {
	stamp := m.clock().UTC().Format("20060102-150405")
	raw, _ := id.NewID()
	return "backup-" + stamp + "-" + strings.ToLower(raw[:6])
}

// collectFiles walks the snapshot subtrees and fingerprints every file.
// Paths in the result are slash-separated and relative to the data
// directory.
func (m *Manager) collectFiles(ctx context.Context) ([]ManifestFile, error) {
	var files []ManifestFile
	for _, dir := range snapshotDirs {
		root := filepath.Join(m.dataDir, dir)
		if _, err := os.Stat(root); os.IsNotExist(err) {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() {
				return nil
			}
			// The ledger lock file is runtime state, not data.
			if d.Name() == "ledger.lock" {
				return nil
			}
			rel, err := filepath.Rel(m.dataDir, path)
			if err != nil {
				return err
			}
			sum, size, err := fileChecksum(path)
			if err != nil {
				return err
			}
			files = append(files, ManifestFile{
				Path:   filepath.ToSlash(rel),
				Size:   size,
				SHA256: sum,
			})
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(errors.CodeStorageIO, "walk "+dir, err)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func fileChecksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

func verifyChecksum(path string, want ManifestFile) error {
	sum, size, err := fileChecksum(path)
	if err != nil {
		return errors.Wrap(errors.CodeStorageIO, "checksum "+want.Path, err)
	}
	if size != want.Size || sum != want.SHA256 {
		return errors.WithMetadata(errors.CodeBackupChecksumMismatch,
			fmt.Sprintf("checksum mismatch for %s", want.Path),
			map[string]string{"path": want.Path, "want": want.SHA256, "got": sum})
	}
	return nil
}
