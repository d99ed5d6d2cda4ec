package index

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RevisionEntry is one row of an entity's revision history projection.
// The full superseded documents live in the store's revisions directory;
// this table carries the browsable summary.
type RevisionEntry struct {
	EntityID      string
	Revision      uint64
	ChangeSummary string
	Reason        string
	DecisionID    string
	LedgerSeq     uint64
	RecordedAt    time.Time
}

// InsertRevisionEntry appends a revision history row. Replayed rows are
// ignored.
func InsertRevisionEntry(ctx context.Context, tx *sql.Tx, r RevisionEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO revision_history
			(entity_id, revision, change_summary, reason, decision_id, ledger_seq, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id, revision) DO NOTHING`,
		r.EntityID, r.Revision, r.ChangeSummary, r.Reason, r.DecisionID,
		r.LedgerSeq, toMillis(r.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("insert revision entry %s@%d: %w", r.EntityID, r.Revision, err)
	}
	return nil
}

// RevisionHistory lists an entity's revision rows oldest first.
func (ix *Index) RevisionHistory(ctx context.Context, entityID string) ([]RevisionEntry, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT entity_id, revision, change_summary, reason, decision_id, ledger_seq, recorded_at
		FROM revision_history WHERE entity_id = ? ORDER BY revision`,
		entityID)
	if err != nil {
		return nil, fmt.Errorf("list revision history %s: %w", entityID, err)
	}
	defer rows.Close()

	var out []RevisionEntry
	for rows.Next() {
		var (
			r  RevisionEntry
			ms int64
		)
		if err := rows.Scan(&r.EntityID, &r.Revision, &r.ChangeSummary,
			&r.Reason, &r.DecisionID, &r.LedgerSeq, &ms); err != nil {
			return nil, fmt.Errorf("scan revision entry: %w", err)
		}
		r.RecordedAt = fromMillis(ms)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revision history: %w", err)
	}
	return out, nil
}
