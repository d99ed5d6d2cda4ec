package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aveline/canonry/internal/platform/errors"
)

// maxArchiveFileBytes bounds a single extracted file.
const maxArchiveFileBytes = 256 << 20

// Restore replaces the data directory contents with a backup. The
// archive is fully extracted and verified in a staging directory first;
// live data is untouched until the final swap, which holds the
// exclusive swap lock for the rename sequence only.
func (m *Manager) Restore(ctx context.Context, backupID string) (Manifest, error) {
	if err := ctx.Err(); err != nil {
		return Manifest{}, err
	}

	archive, err := os.Open(m.ArchivePath(backupID))
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, errors.New(errors.CodeBackupNotFound, "no backup with id "+backupID)
		}
		return Manifest{}, errors.Wrap(errors.CodeStorageIO, "open backup archive", err)
	}
	defer archive.Close()

	staging := filepath.Join(m.dataDir, stagingPrefix+backupID)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return Manifest{}, errors.Wrap(errors.CodeStorageIO, "create staging dir", err)
	}
	defer os.RemoveAll(staging)

	manifest, err := m.extract(ctx, archive, staging)
	if err != nil {
		return Manifest{}, err
	}
	if manifest.BackupID != backupID {
		return Manifest{}, errors.WithMetadata(errors.CodeBackupChecksumMismatch,
			"archive manifest names a different backup",
			map[string]string{"want": backupID, "got": manifest.BackupID})
	}
	for _, mf := range manifest.Files {
		if err := ctx.Err(); err != nil {
			return Manifest{}, err
		}
		if err := verifyChecksum(filepath.Join(staging, filepath.FromSlash(mf.Path)), mf); err != nil {
			return Manifest{}, err
		}
	}

	if err := m.swap(staging, backupID); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}

// extract unpacks the archive into the staging directory and returns
// its manifest. The manifest must be the first entry.
func (m *Manager) extract(ctx context.Context, r io.Reader, staging string) (Manifest, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return Manifest{}, errors.Wrap(errors.CodeStorageIO, "open gzip stream", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	var (
		manifest Manifest
		haveIt   bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return Manifest{}, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Manifest{}, errors.Wrap(errors.CodeStorageIO, "read archive entry", err)
		}
		if hdr.Name == manifestName {
			if err := json.NewDecoder(io.LimitReader(tr, maxArchiveFileBytes)).Decode(&manifest); err != nil {
				return Manifest{}, errors.Wrap(errors.CodeBackupManifestMissing, "decode manifest", err)
			}
			if manifest.FormatVersion != FormatVersion {
				return Manifest{}, errors.New(errors.CodeBackupManifestMissing,
					fmt.Sprintf("unsupported backup format version %d", manifest.FormatVersion))
			}
			haveIt = true
			continue
		}
		if !haveIt {
			return Manifest{}, errors.New(errors.CodeBackupManifestMissing,
				"archive does not start with a manifest")
		}
		if err := extractFile(tr, hdr, staging); err != nil {
			return Manifest{}, err
		}
	}
	if !haveIt {
		return Manifest{}, errors.New(errors.CodeBackupManifestMissing, "archive has no manifest")
	}
	return manifest, nil
}

func extractFile(tr *tar.Reader, hdr *tar.Header, staging string) error {
	name := filepath.ToSlash(hdr.Name)
	if strings.Contains(name, "..") || strings.HasPrefix(name, "/") {
		return errors.New(errors.CodeCorruptionDetected, "archive entry escapes staging dir: "+hdr.Name)
	}
	if hdr.Typeflag != tar.TypeReg {
		return errors.New(errors.CodeCorruptionDetected, "unexpected archive entry type for "+hdr.Name)
	}
	dest := filepath.Join(staging, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrap(errors.CodeStorageIO, "create staging subdir", err)
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(errors.CodeStorageIO, "create staged file", err)
	}
	if _, err := io.Copy(f, io.LimitReader(tr, maxArchiveFileBytes)); err != nil {
		f.Close()
		return errors.Wrap(errors.CodeStorageIO, "extract "+hdr.Name, err)
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(errors.CodeStorageIO, "close staged file", err)
	}
	return nil
}

// swap retires the live snapshot subtrees and moves the staged ones
// into place. On a rename failure mid-swap the already-moved subtrees
// are rolled back from the retired copies.
func (m *Manager) swap(staging, backupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	retired := filepath.Join(m.dataDir, retiredPrefix+backupID)
	if err := os.MkdirAll(retired, 0o755); err != nil {
		return errors.Wrap(errors.CodeStorageIO, "create retired dir", err)
	}

	var swapped []string
	rollback := func() {
		for _, dir := range swapped {
			live := filepath.Join(m.dataDir, dir)
			os.RemoveAll(live)
			os.Rename(filepath.Join(retired, dir), live)
		}
	}

	for _, dir := range snapshotDirs {
		live := filepath.Join(m.dataDir, dir)
		staged := filepath.Join(staging, dir)

		if _, err := os.Stat(staged); os.IsNotExist(err) {
			// The backup holds nothing for this subtree; keep nothing.
			if err := os.MkdirAll(staged, 0o755); err != nil {
				rollback()
				return errors.Wrap(errors.CodeStorageIO, "stage empty "+dir, err)
			}
		}
		if _, err := os.Stat(live); err == nil {
			if err := os.Rename(live, filepath.Join(retired, dir)); err != nil {
				rollback()
				return errors.Wrap(errors.CodeStorageIO, "retire "+dir, err)
			}
		}
		if err := os.Rename(staged, live); err != nil {
			os.Rename(filepath.Join(retired, dir), live)
			rollback()
			return errors.Wrap(errors.CodeStorageIO, "activate "+dir, err)
		}
		swapped = append(swapped, dir)
	}

	if err := os.RemoveAll(retired); err != nil {
		return errors.Wrap(errors.CodeStorageIO, "remove retired data", err)
	}
	return nil
}
