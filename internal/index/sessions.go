package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	perrors "github.com/aveline/canonry/internal/platform/errors"
)

// Session is one bounded work session in the projection tables.
type Session struct {
	SessionID  string
	Label      string
	Summary    string
	StartedSeq uint64
	EndedSeq   uint64
	StartedAt  time.Time
	EndedAt    time.Time
}

// Active reports whether the session has not ended yet.
func (s Session) Active() bool { return s.EndedSeq == 0 }

// StartSession records the beginning of a session.
func StartSession(ctx context.Context, tx *sql.Tx, sessionID, label string, startedSeq uint64, startedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sessions
			(session_id, label, summary, started_seq, ended_seq, started_at, ended_at)
		VALUES (?, ?, '', ?, 0, ?, 0)
		ON CONFLICT(session_id) DO NOTHING`,
		sessionID, label, startedSeq, toMillis(startedAt),
	)
	if err != nil {
		return fmt.Errorf("start session %s: %w", sessionID, err)
	}
	return nil
}

// EndSession records the end of a session with its summary.
func EndSession(ctx context.Context, tx *sql.Tx, sessionID, summary string, endedSeq uint64, endedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET summary = ?, ended_seq = ?, ended_at = ?
		WHERE session_id = ? AND ended_seq = 0`,
		summary, endedSeq, toMillis(endedAt), sessionID,
	)
	if err != nil {
		return fmt.Errorf("end session %s: %w", sessionID, err)
	}
	return nil
}

// ActiveSession returns the session that has started but not ended.
func (ix *Index) ActiveSession(ctx context.Context) (Session, error) {
	row := ix.db.QueryRowContext(ctx, `
		SELECT session_id, label, summary, started_seq, ended_seq, started_at, ended_at
		FROM sessions WHERE ended_seq = 0 ORDER BY started_seq DESC LIMIT 1`)
	s, err := scanSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, perrors.New(perrors.CodeSessionNotActive, "no active session")
		}
		return Session{}, err
	}
	return s, nil
}

// Sessions lists all sessions oldest first.
func (ix *Index) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT session_id, label, summary, started_seq, ended_seq, started_at, ended_at
		FROM sessions ORDER BY started_seq`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func scanSession(scan func(dest ...any) error) (Session, error) {
	var (
		s                  Session
		startedMs, endedMs int64
	)
	err := scan(&s.SessionID, &s.Label, &s.Summary, &s.StartedSeq,
		&s.EndedSeq, &startedMs, &endedMs)
	if err != nil {
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	s.StartedAt = fromMillis(startedMs)
	if endedMs > 0 {
		s.EndedAt = fromMillis(endedMs)
	}
	return s, nil
}
