package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aveline/canonry/internal/platform/errors"
)

// Snapshot archives the data directory and returns its manifest. The
// archive is written to a temp file and renamed into place, so a failed
// snapshot never leaves a readable partial archive.
func (m *Manager) Snapshot(ctx context.Context) (Manifest, error) {
	if err := ctx.Err(); err != nil {
		return Manifest{}, err
	}

	manifest := Manifest{
		FormatVersion: FormatVersion,
		BackupID:      m.newBackupID(),
		CreatedAt:     m.clock().UTC().Truncate(time.Millisecond),
	}
	files, err := m.collectFiles(ctx)
	if err != nil {
		return Manifest{}, err
	}
	manifest.Files = files

	tmp, err := os.CreateTemp(m.backupsDir, "snapshot-*.tmp")
	if err != nil {
		return Manifest{}, errors.Wrap(errors.CodeStorageIO, "create snapshot temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := m.writeArchive(ctx, tmp, manifest); err != nil {
		tmp.Close()
		return Manifest{}, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return Manifest{}, errors.Wrap(errors.CodeStorageIO, "sync snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		return Manifest{}, errors.Wrap(errors.CodeStorageIO, "close snapshot", err)
	}
	if err := os.Rename(tmpName, m.ArchivePath(manifest.BackupID)); err != nil {
		return Manifest{}, errors.Wrap(errors.CodeStorageIO, "publish snapshot", err)
	}
	return manifest, nil
}

// writeArchive streams the manifest and every listed file into w as
// tar.gz. The manifest goes first so restore can read it before
// extracting anything.
func (m *Manager) writeArchive(ctx context.Context, w io.Writer, manifest Manifest) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return errors.Wrap(errors.CodeStorageIO, "encode manifest", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    manifestName,
		Mode:    0o644,
		Size:    int64(len(encoded)),
		ModTime: manifest.CreatedAt,
	}); err != nil {
		return errors.Wrap(errors.CodeStorageIO, "write manifest header", err)
	}
	if _, err := tw.Write(encoded); err != nil {
		return errors.Wrap(errors.CodeStorageIO, "write manifest", err)
	}

	for _, mf := range manifest.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.archiveFile(tw, mf); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return errors.Wrap(errors.CodeStorageIO, "close tar stream", err)
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(errors.CodeStorageIO, "close gzip stream", err)
	}
	return nil
}

func (m *Manager) archiveFile(tw *tar.Writer, mf ManifestFile) error {
	f, err := os.Open(filepath.Join(m.dataDir, filepath.FromSlash(mf.Path)))
	if err != nil {
		return errors.Wrap(errors.CodeStorageIO, "open "+mf.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(errors.CodeStorageIO, "stat "+mf.Path, err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    mf.Path,
		Mode:    0o644,
		Size:    mf.Size,
		ModTime: info.ModTime(),
	}); err != nil {
		return errors.Wrap(errors.CodeStorageIO, "write header "+mf.Path, err)
	}
	if _, err := io.CopyN(tw, f, mf.Size); err != nil {
		// The file changed size since the checksum pass.
		return errors.Wrap(errors.CodeStorageIO, "archive "+mf.Path, err)
	}
	return nil
}
