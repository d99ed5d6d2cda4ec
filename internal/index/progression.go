package index

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ProgressionEntry is one row of the chronological world timeline.
type ProgressionEntry struct {
	LedgerSeq  uint64
	SessionID  string
	EventType  string
	EntityID   string
	Summary    string
	OccurredAt time.Time
}

// InsertProgression appends a timeline entry. Replays of an already
// applied sequence are ignored.
func InsertProgression(ctx context.Context, tx *sql.Tx, p ProgressionEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO progression
			(ledger_seq, session_id, event_type, entity_id, summary, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ledger_seq) DO NOTHING`,
		p.LedgerSeq, p.SessionID, p.EventType, p.EntityID, p.Summary, toMillis(p.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("insert progression seq %d: %w", p.LedgerSeq, err)
	}
	return nil
}

// Progression returns timeline entries in ledger order. A zero sinceSeq
// returns everything; sessionID and entityID filter when non-empty.
func (ix *Index) Progression(ctx context.Context, sinceSeq uint64, sessionID, entityID string) ([]ProgressionEntry, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT ledger_seq, session_id, event_type, entity_id, summary, occurred_at
		FROM progression
		WHERE ledger_seq > ?
			AND (? = '' OR session_id = ?)
			AND (? = '' OR entity_id = ?)
		ORDER BY ledger_seq`,
		sinceSeq, sessionID, sessionID, entityID, entityID)
	if err != nil {
		return nil, fmt.Errorf("list progression: %w", err)
	}
	defer rows.Close()

	var out []ProgressionEntry
	for rows.Next() {
		var (
			p  ProgressionEntry
			ms int64
		)
		if err := rows.Scan(&p.LedgerSeq, &p.SessionID, &p.EventType,
			&p.EntityID, &p.Summary, &ms); err != nil {
			return nil, fmt.Errorf("scan progression: %w", err)
		}
		p.OccurredAt = fromMillis(ms)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progression: %w", err)
	}
	return out, nil
}
