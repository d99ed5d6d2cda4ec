// Package index owns the SQLite database that backs the derived
// projections and the search index. Everything in it can be rebuilt
// from the ledger and the entity store.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aveline/canonry/internal/index/migrations"
	"github.com/aveline/canonry/internal/platform/storage/sqlitemigrate"
)

// Index wraps the SQLite handle shared by the projection tables and the
// search tables. A single connection keeps writers serialized.
type Index struct {
	db *sql.DB
}

// Open opens (creating if needed) the index database at path and applies
// pending migrations.
func Open(path string) (*Index, error) {
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping index database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("apply index migrations: %w", err)
	}
	return &Index{db: sqlDB}, nil
}

// Close releases the database handle. Safe on a nil receiver.
func (ix *Index) Close() error {
	if ix == nil || ix.db == nil {
		return nil
	}
	return ix.db.Close()
}

// DB exposes the underlying handle for health checks.
func (ix *Index) DB() *sql.DB { return ix.db }

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error. The Index passed to fn shares the transaction.
func (ix *Index) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Checkpoint returns the ledger sequence the projections are caught up
// to, zero when no events have been applied yet.
func (ix *Index) Checkpoint(ctx context.Context) (uint64, error) {
	var seq uint64
	err := ix.db.QueryRowContext(ctx,
		`SELECT ledger_seq FROM projection_checkpoint WHERE id = 1`,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}
	return seq, nil
}

func SetCheckpoint(ctx context.Context, tx *sql.Tx, seq uint64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projection_checkpoint (id, ledger_seq) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET ledger_seq = excluded.ledger_seq`,
		seq,
	)
	if err != nil {
		return fmt.Errorf("set checkpoint: %w", err)
	}
	return nil
}

// ResetProjections clears every projection table and the checkpoint so a
// full replay can repopulate them from scratch.
func (ix *Index) ResetProjections(ctx context.Context) error {
	tables := []string{
		"projection_checkpoint",
		"entity_registry",
		"cross_references",
		"decisions",
		"progression",
		"contradictions",
		"revision_history",
		"sessions",
	}
	return ix.WithTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("clear %s: %w", t, err)
			}
		}
		return nil
	})
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
