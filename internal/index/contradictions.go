package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	perrors "github.com/aveline/canonry/internal/platform/errors"
)

// Contradiction lifecycle states.
const (
	ContradictionOpen     = "open"
	ContradictionResolved = "resolved"
)

// Contradiction is one detected conflict between canon claims.
type Contradiction struct {
	ContradictionID  string
	Description      string
	Severity         string
	Status           string
	Rule             string
	Resolution       string
	EntitiesInvolved []string
	RaisedSeq        uint64
	ResolvedSeq      uint64
	RaisedAt         time.Time
	ResolvedAt       time.Time
}

// UpsertContradiction records a raised contradiction. Re-raising an
// existing ID refreshes its description and severity but never reopens
// a resolved one.
func UpsertContradiction(ctx context.Context, tx *sql.Tx, c Contradiction) error {
	entities, err := json.Marshal(c.EntitiesInvolved)
	if err != nil {
		return fmt.Errorf("encode contradiction entities: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO contradictions
			(contradiction_id, description, severity, status, rule, resolution,
			 entities_involved, raised_seq, resolved_seq, raised_at, resolved_at)
		VALUES (?, ?, ?, 'open', ?, '', ?, ?, 0, ?, 0)
		ON CONFLICT(contradiction_id) DO UPDATE SET
			description = excluded.description,
			severity = excluded.severity
		WHERE contradictions.status = 'open'`,
		c.ContradictionID, c.Description, c.Severity, c.Rule,
		string(entities), c.RaisedSeq, toMillis(c.RaisedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert contradiction %s: %w", c.ContradictionID, err)
	}
	return nil
}

// ResolveContradiction marks an open contradiction as resolved.
func ResolveContradiction(ctx context.Context, tx *sql.Tx, contradictionID, resolution string, resolvedSeq uint64, resolvedAt time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE contradictions
		SET status = 'resolved', resolution = ?, resolved_seq = ?, resolved_at = ?
		WHERE contradiction_id = ? AND status = 'open'`,
		resolution, resolvedSeq, toMillis(resolvedAt), contradictionID,
	)
	if err != nil {
		return fmt.Errorf("resolve contradiction %s: %w", contradictionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve contradiction %s: %w", contradictionID, err)
	}
	if n == 0 {
		return perrors.New(perrors.CodeContradictionNotOpen, "contradiction not open: "+contradictionID)
	}
	return nil
}

// ContradictionByID returns a single contradiction.
func (ix *Index) ContradictionByID(ctx context.Context, contradictionID string) (Contradiction, error) {
	row := ix.db.QueryRowContext(ctx, `
		SELECT contradiction_id, description, severity, status, rule, resolution,
		       entities_involved, raised_seq, resolved_seq, raised_at, resolved_at
		FROM contradictions WHERE contradiction_id = ?`, contradictionID)
	c, err := scanContradiction(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contradiction{}, perrors.New(perrors.CodeNotFound, "contradiction not found: "+contradictionID)
		}
		return Contradiction{}, err
	}
	return c, nil
}

// Contradictions lists contradictions by status; empty status matches
// all. Ordered by the sequence they were raised at.
func (ix *Index) Contradictions(ctx context.Context, status string) ([]Contradiction, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT contradiction_id, description, severity, status, rule, resolution,
		       entities_involved, raised_seq, resolved_seq, raised_at, resolved_at
		FROM contradictions
		WHERE (? = '' OR status = ?)
		ORDER BY raised_seq`,
		status, status)
	if err != nil {
		return nil, fmt.Errorf("list contradictions: %w", err)
	}
	defer rows.Close()

	var out []Contradiction
	for rows.Next() {
		c, err := scanContradiction(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contradictions: %w", err)
	}
	return out, nil
}

func scanContradiction(scan func(dest ...any) error) (Contradiction, error) {
	var (
		c                    Contradiction
		rawEntities          string
		raisedMs, resolvedMs int64
	)
	err := scan(&c.ContradictionID, &c.Description, &c.Severity, &c.Status,
		&c.Rule, &c.Resolution, &rawEntities, &c.RaisedSeq, &c.ResolvedSeq,
		&raisedMs, &resolvedMs)
	if err != nil {
		return Contradiction{}, fmt.Errorf("scan contradiction: %w", err)
	}
	if err := json.Unmarshal([]byte(rawEntities), &c.EntitiesInvolved); err != nil {
		return Contradiction{}, fmt.Errorf("decode contradiction entities: %w", err)
	}
	c.RaisedAt = fromMillis(raisedMs)
	if resolvedMs > 0 {
		c.ResolvedAt = fromMillis(resolvedMs)
	}
	return c, nil
}
