package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	perrors "github.com/aveline/canonry/internal/platform/errors"
)

// RegistryRow is one entity's summary in the entity registry projection.
type RegistryRow struct {
	EntityID      string
	EntityType    string
	TemplateID    string
	Status        string
	Name          string
	Revision      uint64
	PendingReview bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UpsertRegistryRow writes or replaces an entity's registry entry.
func UpsertRegistryRow(ctx context.Context, tx *sql.Tx, row RegistryRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO entity_registry
			(entity_id, entity_type, template_id, status, name, revision, pending_review, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			entity_type = excluded.entity_type,
			template_id = excluded.template_id,
			status = excluded.status,
			name = excluded.name,
			revision = excluded.revision,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		row.EntityID, row.EntityType, row.TemplateID, row.Status, row.Name,
		row.Revision, boolToInt(row.PendingReview),
		toMillis(row.CreatedAt), toMillis(row.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert registry row %s: %w", row.EntityID, err)
	}
	return nil
}

// SetRegistryStatus updates only the status column for an entity.
func SetRegistryStatus(ctx context.Context, tx *sql.Tx, entityID, status string, updatedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE entity_registry SET status = ?, updated_at = ? WHERE entity_id = ?`,
		status, toMillis(updatedAt), entityID,
	)
	if err != nil {
		return fmt.Errorf("set registry status %s: %w", entityID, err)
	}
	return nil
}

// SetPendingReview flags or clears the human review marker on an entity.
func SetPendingReview(ctx context.Context, tx *sql.Tx, entityID string, pending bool) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE entity_registry SET pending_review = ? WHERE entity_id = ?`,
		boolToInt(pending), entityID,
	)
	if err != nil {
		return fmt.Errorf("set pending review %s: %w", entityID, err)
	}
	return nil
}

// RegistryRowByID returns a single entity's registry entry.
func (ix *Index) RegistryRowByID(ctx context.Context, entityID string) (RegistryRow, error) {
	row := ix.db.QueryRowContext(ctx, `
		SELECT entity_id, entity_type, template_id, status, name, revision, pending_review, created_at, updated_at
		FROM entity_registry WHERE entity_id = ?`, entityID)
	r, err := scanRegistryRow(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RegistryRow{}, perrors.New(perrors.CodeNotFound, "entity not in registry: "+entityID)
		}
		return RegistryRow{}, err
	}
	return r, nil
}

// RegistryRows lists registry entries, optionally filtered by entity
// type and status. Empty filters match everything. Rows come back
// ordered by entity ID.
func (ix *Index) RegistryRows(ctx context.Context, entityType, status string) ([]RegistryRow, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT entity_id, entity_type, template_id, status, name, revision, pending_review, created_at, updated_at
		FROM entity_registry
		WHERE (? = '' OR entity_type = ?) AND (? = '' OR status = ?)
		ORDER BY entity_id`,
		entityType, entityType, status, status)
	if err != nil {
		return nil, fmt.Errorf("list registry rows: %w", err)
	}
	defer rows.Close()

	var out []RegistryRow
	for rows.Next() {
		r, err := scanRegistryRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registry rows: %w", err)
	}
	return out, nil
}

// PendingReview lists entities flagged for human review.
func (ix *Index) PendingReview(ctx context.Context) ([]RegistryRow, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT entity_id, entity_type, template_id, status, name, revision, pending_review, created_at, updated_at
		FROM entity_registry WHERE pending_review = 1 ORDER BY entity_id`)
	if err != nil {
		return nil, fmt.Errorf("list pending review: %w", err)
	}
	defer rows.Close()

	var out []RegistryRow
	for rows.Next() {
		r, err := scanRegistryRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending review: %w", err)
	}
	return out, nil
}

// CountRegistryRows returns the number of entities in the registry.
func (ix *Index) CountRegistryRows(ctx context.Context) (int, error) {
	var n int
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entity_registry`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count registry rows: %w", err)
	}
	return n, nil
}

func scanRegistryRow(scan func(dest ...any) error) (RegistryRow, error) {
	var (
		r                    RegistryRow
		pending              int
		createdAt, updatedAt int64
	)
	err := scan(&r.EntityID, &r.EntityType, &r.TemplateID, &r.Status, &r.Name,
		&r.Revision, &pending, &createdAt, &updatedAt)
	if err != nil {
		return RegistryRow{}, fmt.Errorf("scan registry row: %w", err)
	}
	r.PendingReview = pending != 0
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
