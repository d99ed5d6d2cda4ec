package index

import (
	"context"
	"database/sql"
	"fmt"
)

// XRef is one directed cross-reference edge between two entities.
type XRef struct {
	SourceEntityID   string
	TargetEntityID   string
	RelationshipType string
	Bidirectional    bool
	LedgerSeq        uint64
}

// AddXRef records an edge, replacing any previous edge with the same
// source, target, and relationship.
func AddXRef(ctx context.Context, tx *sql.Tx, ref XRef) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cross_references
			(source_entity_id, target_entity_id, relationship_type, bidirectional, ledger_seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_entity_id, target_entity_id, relationship_type) DO UPDATE SET
			bidirectional = excluded.bidirectional,
			ledger_seq = excluded.ledger_seq`,
		ref.SourceEntityID, ref.TargetEntityID, ref.RelationshipType,
		boolToInt(ref.Bidirectional), ref.LedgerSeq,
	)
	if err != nil {
		return fmt.Errorf("add xref %s->%s: %w", ref.SourceEntityID, ref.TargetEntityID, err)
	}
	return nil
}

// RemoveXRef deletes an edge. Removing an absent edge is not an error.
func RemoveXRef(ctx context.Context, tx *sql.Tx, source, target, relationship string) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM cross_references
		WHERE source_entity_id = ? AND target_entity_id = ? AND relationship_type = ?`,
		source, target, relationship,
	)
	if err != nil {
		return fmt.Errorf("remove xref %s->%s: %w", source, target, err)
	}
	return nil
}

// XRefsFor returns every edge touching the entity, outgoing and
// incoming, ordered by ledger sequence.
func (ix *Index) XRefsFor(ctx context.Context, entityID string) ([]XRef, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT source_entity_id, target_entity_id, relationship_type, bidirectional, ledger_seq
		FROM cross_references
		WHERE source_entity_id = ? OR target_entity_id = ?
		ORDER BY ledger_seq`,
		entityID, entityID)
	if err != nil {
		return nil, fmt.Errorf("list xrefs for %s: %w", entityID, err)
	}
	defer rows.Close()
	return collectXRefs(rows)
}

// AllXRefs returns every edge ordered by ledger sequence. The graph is
// rebuilt from this at startup.
func (ix *Index) AllXRefs(ctx context.Context) ([]XRef, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT source_entity_id, target_entity_id, relationship_type, bidirectional, ledger_seq
		FROM cross_references ORDER BY ledger_seq`)
	if err != nil {
		return nil, fmt.Errorf("list xrefs: %w", err)
	}
	defer rows.Close()
	return collectXRefs(rows)
}

func collectXRefs(rows *sql.Rows) ([]XRef, error) {
	var out []XRef
	for rows.Next() {
		var (
			ref XRef
			bi  int
		)
		if err := rows.Scan(&ref.SourceEntityID, &ref.TargetEntityID,
			&ref.RelationshipType, &bi, &ref.LedgerSeq); err != nil {
			return nil, fmt.Errorf("scan xref: %w", err)
		}
		ref.Bidirectional = bi != 0
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate xrefs: %w", err)
	}
	return out, nil
}
