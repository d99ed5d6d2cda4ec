package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aveline/canonry/internal/domain/event"
	"github.com/aveline/canonry/internal/index"
	"github.com/aveline/canonry/internal/ledger"
)

// Applier moves ledger events into the index tables and advances the
// projection checkpoint. Events at or below the checkpoint are ignored,
// so re-applying after a crash is safe.
type Applier struct {
	ix     *index.Index
	router *Router
}

// NewApplier wires the router with a handler for every ledger event
// type.
func NewApplier(ix *index.Index) *Applier {
	r := NewRouter()
	Handle[event.EntityCreatedPayload](r, event.TypeEntityCreated, applyEntityCreated)
	Handle[event.EntityRevisedPayload](r, event.TypeEntityRevised, applyEntityRevised)
	Handle[event.EntityStatusChangedPayload](r, event.TypeEntityStatusChanged, applyStatusChanged)
	Handle[event.EntityStatusChangedPayload](r, event.TypeEntityDemoted, applyStatusChanged)
	Handle[event.XRefAddedPayload](r, event.TypeXRefAdded, applyXRefAdded)
	Handle[event.XRefRemovedPayload](r, event.TypeXRefRemoved, applyXRefRemoved)
	Handle[event.ContradictionRaisedPayload](r, event.TypeContradictionRaised, applyContradictionRaised)
	Handle[event.ContradictionResolvedPayload](r, event.TypeContradictionResolved, applyContradictionResolved)
	Handle[event.ReviewFlaggedPayload](r, event.TypeReviewFlagged, applyReviewFlagged)
	Handle[event.SessionStartedPayload](r, event.TypeSessionStarted, applySessionStarted)
	Handle[event.SessionEndedPayload](r, event.TypeSessionEnded, applySessionEnded)
	Handle[event.DecisionRecordedPayload](r, event.TypeDecisionRecorded, applyDecisionRecorded)
	Handle[event.BackupCreatedPayload](r, event.TypeBackupCreated, applyBackupCreated)
	Handle[event.BackupRestoredPayload](r, event.TypeBackupRestored, applyBackupRestored)
	Handle[event.RepairPerformedPayload](r, event.TypeRepairPerformed, applyRepairPerformed)
	return &Applier{ix: ix, router: r}
}

// HandledTypes exposes the wired event types for health checks.
func (a *Applier) HandledTypes() []event.Type {
	return a.router.HandledTypes()
}

// Apply routes one event into the index inside a single transaction and
// advances the checkpoint to its sequence. Events already reflected by
// the checkpoint are skipped.
func (a *Applier) Apply(ctx context.Context, evt event.Event) error {
	cp, err := a.ix.Checkpoint(ctx)
	if err != nil {
		return err
	}
	if evt.Seq <= cp {
		return nil
	}
	return a.ix.WithTx(ctx, func(tx *sql.Tx) error {
		if err := a.router.Route(ctx, tx, evt); err != nil {
			return fmt.Errorf("apply seq %d: %w", evt.Seq, err)
		}
		return index.SetCheckpoint(ctx, tx, evt.Seq)
	})
}

// CatchUp replays every ledger event past the checkpoint. Returns the
// number of events applied.
func (a *Applier) CatchUp(ctx context.Context, led *ledger.Ledger) (int, error) {
	cp, err := a.ix.Checkpoint(ctx)
	if err != nil {
		return 0, err
	}
	it := led.Replay(cp)
	defer it.Close()

	applied := 0
	for it.Next() {
		if err := a.Apply(ctx, it.Event()); err != nil {
			return applied, err
		}
		applied++
	}
	if err := it.Err(); err != nil {
		return applied, err
	}
	return applied, nil
}

// Rebuild clears every projection table and replays the full ledger.
// The result is identical to what incremental application produced.
func (a *Applier) Rebuild(ctx context.Context, led *ledger.Ledger) (int, error) {
	if err := a.ix.ResetProjections(ctx); err != nil {
		return 0, err
	}
	return a.CatchUp(ctx, led)
}

func applyEntityCreated(ctx context.Context, tx *sql.Tx, evt event.Event, p event.EntityCreatedPayload) error {
	doc := p.Document
	if err := index.UpsertRegistryRow(ctx, tx, index.RegistryRow{
		EntityID:   doc.ID,
		EntityType: doc.Type,
		TemplateID: doc.TemplateID,
		Status:     string(doc.Status),
		Name:       doc.Name,
		Revision:   doc.Revision,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}); err != nil {
		return err
	}
	return index.InsertProgression(ctx, tx, index.ProgressionEntry{
		LedgerSeq:  evt.Seq,
		SessionID:  evt.SessionID,
		EventType:  string(evt.Type),
		EntityID:   doc.ID,
		Summary:    fmt.Sprintf("created %s %q", doc.Type, doc.Name),
		OccurredAt: evt.Timestamp,
	})
}

func applyEntityRevised(ctx context.Context, tx *sql.Tx, evt event.Event, p event.EntityRevisedPayload) error {
	doc := p.Document
	if err := index.UpsertRegistryRow(ctx, tx, index.RegistryRow{
		EntityID:   doc.ID,
		EntityType: doc.Type,
		TemplateID: doc.TemplateID,
		Status:     string(doc.Status),
		Name:       doc.Name,
		Revision:   doc.Revision,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}); err != nil {
		return err
	}
	if err := index.InsertRevisionEntry(ctx, tx, index.RevisionEntry{
		EntityID:      doc.ID,
		Revision:      doc.Revision,
		ChangeSummary: p.ChangeSummary,
		Reason:        p.Reason,
		DecisionID:    p.DecisionID,
		LedgerSeq:     evt.Seq,
		RecordedAt:    evt.Timestamp,
	}); err != nil {
		return err
	}
	summary := fmt.Sprintf("revised %s %q", doc.Type, doc.Name)
	if p.ChangeSummary != "" {
		summary += ": " + p.ChangeSummary
	}
	return index.InsertProgression(ctx, tx, index.ProgressionEntry{
		LedgerSeq:  evt.Seq,
		SessionID:  evt.SessionID,
		EventType:  string(evt.Type),
		EntityID:   doc.ID,
		Summary:    summary,
		OccurredAt: evt.Timestamp,
	})
}

func applyStatusChanged(ctx context.Context, tx *sql.Tx, evt event.Event, p event.EntityStatusChangedPayload) error {
	if err := index.SetRegistryStatus(ctx, tx, evt.EntityID, string(p.To), evt.Timestamp); err != nil {
		return err
	}
	summary := fmt.Sprintf("status %s to %s", p.From, p.To)
	if p.Reason != "" {
		summary += ": " + p.Reason
	}
	return index.InsertProgression(ctx, tx, index.ProgressionEntry{
		LedgerSeq:  evt.Seq,
		SessionID:  evt.SessionID,
		EventType:  string(evt.Type),
		EntityID:   evt.EntityID,
		Summary:    summary,
		OccurredAt: evt.Timestamp,
	})
}

func applyXRefAdded(ctx context.Context, tx *sql.Tx, evt event.Event, p event.XRefAddedPayload) error {
	return index.AddXRef(ctx, tx, index.XRef{
		SourceEntityID:   p.SourceEntityID,
		TargetEntityID:   p.TargetEntityID,
		RelationshipType: p.RelationshipType,
		Bidirectional:    p.Bidirectional,
		LedgerSeq:        evt.Seq,
	})
}

func applyXRefRemoved(ctx context.Context, tx *sql.Tx, evt event.Event, p event.XRefRemovedPayload) error {
	return index.RemoveXRef(ctx, tx, p.SourceEntityID, p.TargetEntityID, p.RelationshipType)
}

func applyContradictionRaised(ctx context.Context, tx *sql.Tx, evt event.Event, p event.ContradictionRaisedPayload) error {
	if err := index.UpsertContradiction(ctx, tx, index.Contradiction{
		ContradictionID:  p.ContradictionID,
		Description:      p.Description,
		Severity:         p.Severity,
		Rule:             p.Rule,
		EntitiesInvolved: p.EntitiesInvolved,
		RaisedSeq:        evt.Seq,
		RaisedAt:         evt.Timestamp,
	}); err != nil {
		return err
	}
	return index.InsertProgression(ctx, tx, index.ProgressionEntry{
		LedgerSeq:  evt.Seq,
		SessionID:  evt.SessionID,
		EventType:  string(evt.Type),
		EntityID:   evt.EntityID,
		Summary:    fmt.Sprintf("contradiction raised (%s): %s", p.Severity, p.Description),
		OccurredAt: evt.Timestamp,
	})
}

func applyContradictionResolved(ctx context.Context, tx *sql.Tx, evt event.Event, p event.ContradictionResolvedPayload) error {
	if err := index.ResolveContradiction(ctx, tx, p.ContradictionID, p.Resolution, evt.Seq, evt.Timestamp); err != nil {
		return err
	}
	return index.InsertProgression(ctx, tx, index.ProgressionEntry{
		LedgerSeq:  evt.Seq,
		SessionID:  evt.SessionID,
		EventType:  string(evt.Type),
		EntityID:   evt.EntityID,
		Summary:    "contradiction resolved: " + p.Resolution,
		OccurredAt: evt.Timestamp,
	})
}

func applyReviewFlagged(ctx context.Context, tx *sql.Tx, evt event.Event, p event.ReviewFlaggedPayload) error {
	if err := index.SetPendingReview(ctx, tx, p.EntityID, true); err != nil {
		return err
	}
	return index.InsertProgression(ctx, tx, index.ProgressionEntry{
		LedgerSeq:  evt.Seq,
		SessionID:  evt.SessionID,
		EventType:  string(evt.Type),
		EntityID:   p.EntityID,
		Summary:    "flagged for review: " + p.Reason,
		OccurredAt: evt.Timestamp,
	})
}

func applySessionStarted(ctx context.Context, tx *sql.Tx, evt event.Event, p event.SessionStartedPayload) error {
	if err := index.StartSession(ctx, tx, evt.SessionID, p.Label, evt.Seq, evt.Timestamp); err != nil {
		return err
	}
	return index.InsertProgression(ctx, tx, index.ProgressionEntry{
		LedgerSeq:  evt.Seq,
		SessionID:  evt.SessionID,
		EventType:  string(evt.Type),
		Summary:    "session started: " + p.Label,
		OccurredAt: evt.Timestamp,
	})
}

func applySessionEnded(ctx context.Context, tx *sql.Tx, evt event.Event, p event.SessionEndedPayload) error {
	if err := index.EndSession(ctx, tx, evt.SessionID, p.Summary, evt.Seq, evt.Timestamp); err != nil {
		return err
	}
	return index.InsertProgression(ctx, tx, index.ProgressionEntry{
		LedgerSeq:  evt.Seq,
		SessionID:  evt.SessionID,
		EventType:  string(evt.Type),
		Summary:    "session ended: " + p.Summary,
		OccurredAt: evt.Timestamp,
	})
}

func applyDecisionRecorded(ctx context.Context, tx *sql.Tx, evt event.Event, p event.DecisionRecordedPayload) error {
	if err := index.InsertDecision(ctx, tx, index.Decision{
		DecisionID: p.DecisionID,
		SessionID:  evt.SessionID,
		Summary:    p.Summary,
		Reason:     p.Reason,
		EntityIDs:  p.EntityIDs,
		LedgerSeq:  evt.Seq,
		RecordedAt: evt.Timestamp,
	}); err != nil {
		return err
	}
	return index.InsertProgression(ctx, tx, index.ProgressionEntry{
		LedgerSeq:  evt.Seq,
		SessionID:  evt.SessionID,
		EventType:  string(evt.Type),
		Summary:    "decision: " + p.Summary,
		OccurredAt: evt.Timestamp,
	})
}

func applyBackupCreated(ctx context.Context, tx *sql.Tx, evt event.Event, p event.BackupCreatedPayload) error {
	return index.InsertProgression(ctx, tx, index.ProgressionEntry{
		LedgerSeq:  evt.Seq,
		SessionID:  evt.SessionID,
		EventType:  string(evt.Type),
		Summary:    fmt.Sprintf("backup %s created (%d files)", p.BackupID, p.FileCount),
		OccurredAt: evt.Timestamp,
	})
}

func applyBackupRestored(ctx context.Context, tx *sql.Tx, evt event.Event, p event.BackupRestoredPayload) error {
	return index.InsertProgression(ctx, tx, index.ProgressionEntry{
		LedgerSeq:  evt.Seq,
		SessionID:  evt.SessionID,
		EventType:  string(evt.Type),
		Summary:    "backup " + p.BackupID + " restored",
		OccurredAt: evt.Timestamp,
	})
}

func applyRepairPerformed(ctx context.Context, tx *sql.Tx, evt event.Event, p event.RepairPerformedPayload) error {
	summary := "repair: " + p.Action
	if p.Detail != "" {
		summary += " (" + p.Detail + ")"
	}
	return index.InsertProgression(ctx, tx, index.ProgressionEntry{
		LedgerSeq:  evt.Seq,
		SessionID:  evt.SessionID,
		EventType:  string(evt.Type),
		Summary:    summary,
		OccurredAt: evt.Timestamp,
	})
}
