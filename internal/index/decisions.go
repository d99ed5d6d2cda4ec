package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Decision is one recorded creative decision in the decision log.
type Decision struct {
	DecisionID string
	SessionID  string
	Summary    string
	Reason     string
	EntityIDs  []string
	LedgerSeq  uint64
	RecordedAt time.Time
}

// InsertDecision appends a decision to the decision log projection.
func InsertDecision(ctx context.Context, tx *sql.Tx, d Decision) error {
	ids, err := json.Marshal(d.EntityIDs)
	if err != nil {
		return fmt.Errorf("encode decision entity ids: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO decisions
			(decision_id, session_id, summary, reason, entity_ids, ledger_seq, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(decision_id) DO NOTHING`,
		d.DecisionID, d.SessionID, d.Summary, d.Reason, string(ids),
		d.LedgerSeq, toMillis(d.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("insert decision %s: %w", d.DecisionID, err)
	}
	return nil
}

// Decisions lists recorded decisions in ledger order. When entityID is
// non-empty only decisions touching that entity are returned.
func (ix *Index) Decisions(ctx context.Context, entityID string) ([]Decision, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT decision_id, session_id, summary, reason, entity_ids, ledger_seq, recorded_at
		FROM decisions ORDER BY ledger_seq`)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var (
			d       Decision
			rawIDs  string
			recMs   int64
		)
		if err := rows.Scan(&d.DecisionID, &d.SessionID, &d.Summary, &d.Reason,
			&rawIDs, &d.LedgerSeq, &recMs); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if err := json.Unmarshal([]byte(rawIDs), &d.EntityIDs); err != nil {
			return nil, fmt.Errorf("decode decision entity ids: %w", err)
		}
		d.RecordedAt = fromMillis(recMs)
		if entityID != "" && !containsString(d.EntityIDs, entityID) {
			continue
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return out, nil
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
