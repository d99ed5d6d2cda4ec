package engine

import (
	"context"
	"fmt"

	"github.com/aveline/canonry/internal/backup"
	"github.com/aveline/canonry/internal/domain/event"
	"github.com/aveline/canonry/internal/platform/errors"
	"github.com/aveline/canonry/internal/platform/id"
)

// HealthFinding is one problem discovered by HealthCheck.
type HealthFinding struct {
	Code     errors.Code `json:"code"`
	EntityID string      `json:"entity_id,omitempty"`
	Message  string      `json:"message"`
}

// HealthReport summarizes a health check pass.
type HealthReport struct {
	Healthy  bool            `json:"healthy"`
	Entities int             `json:"entities"`
	Findings []HealthFinding `json:"findings,omitempty"`
}

// RepairAction is one mutation Repair performed or would perform.
type RepairAction struct {
	Action    string   `json:"action"`
	Detail    string   `json:"detail,omitempty"`
	EntityIDs []string `json:"entity_ids,omitempty"`
}

// RepairReport summarizes a repair pass.
type RepairReport struct {
	DryRun  bool           `json:"dry_run"`
	Actions []RepairAction `json:"actions,omitempty"`
}

// Snapshot writes a verified backup archive of the entity store,
// revisions, ledger, and templates, and records it in the ledger.
func (e *Engine) Snapshot(ctx context.Context) (backup.Manifest, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Snapshot")
	defer span.End()

	e.swapMu.RLock()
	defer e.swapMu.RUnlock()

	manifest, err := e.backups.Snapshot(ctx)
	if err != nil {
		return backup.Manifest{}, err
	}
	payload := event.BackupCreatedPayload{
		BackupID:  manifest.BackupID,
		FileCount: len(manifest.Files),
	}
	if _, err := e.appendEvent(ctx, event.TypeBackupCreated, "", payload); err != nil {
		return backup.Manifest{}, err
	}
	e.logger.Printf("canonry: snapshot %s wrote %d files", manifest.BackupID, len(manifest.Files))
	return manifest, nil
}

// ListBackups returns available backup IDs, oldest first.
func (e *Engine) ListBackups() ([]string, error) {
	return e.backups.List()
}

// Restore replaces the live data with a verified backup and rebuilds
// every derived index from the restored ledger. A restore that fails
// verification leaves the live data untouched.
func (e *Engine) Restore(ctx context.Context, backupID string) (backup.Manifest, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Restore")
	defer span.End()

	e.swapMu.Lock()
	defer e.swapMu.Unlock()

	manifest, err := e.backups.Restore(ctx, backupID)
	if err != nil {
		return backup.Manifest{}, err
	}

	// The swapped-in ledger supersedes the projections built from the
	// old one.
	if _, err := e.applier.Rebuild(ctx, e.led); err != nil {
		return backup.Manifest{}, fmt.Errorf("rebuild projections after restore: %w", err)
	}
	if err := e.rebuildGraph(ctx); err != nil {
		return backup.Manifest{}, err
	}
	if err := e.rebuildSearch(ctx); err != nil {
		return backup.Manifest{}, err
	}

	payload := event.BackupRestoredPayload{BackupID: backupID}
	if _, err := e.appendEvent(ctx, event.TypeBackupRestored, "", payload); err != nil {
		return backup.Manifest{}, err
	}
	e.logger.Printf("canonry: restored backup %s", backupID)
	return manifest, nil
}

// HealthCheck verifies the store, ledger, and derived indexes against
// each other without mutating anything.
func (e *Engine) HealthCheck(ctx context.Context) (HealthReport, error) {
	ctx, span := e.tracer.Start(ctx, "engine.HealthCheck")
	defer span.End()

	var report HealthReport

	ids, err := e.store.IDs()
	if err != nil {
		return report, err
	}
	report.Entities = len(ids)
	known := make(map[string]bool, len(ids))
	for _, entityID := range ids {
		known[entityID] = true
		if _, err := e.store.Get(entityID); err != nil {
			report.Findings = append(report.Findings, HealthFinding{
				Code:     errors.CodeCorruptionDetected,
				EntityID: entityID,
				Message:  "document unreadable: " + err.Error(),
			})
			continue
		}
		fieldErrs, err := e.store.Validate(entityID)
		if err != nil {
			return report, err
		}
		for _, fe := range fieldErrs {
			report.Findings = append(report.Findings, HealthFinding{
				Code:     errors.CodeSchemaInvalidField,
				EntityID: entityID,
				Message:  fe.Field + ": " + fe.Message,
			})
		}
	}

	refs, err := e.ix.AllXRefs(ctx)
	if err != nil {
		return report, err
	}
	for _, ref := range refs {
		for _, end := range []string{ref.SourceEntityID, ref.TargetEntityID} {
			if !known[end] {
				report.Findings = append(report.Findings, HealthFinding{
					Code:     errors.CodeCorruptionDetected,
					EntityID: end,
					Message:  fmt.Sprintf("cross-reference %s %s %s points at a missing entity", ref.SourceEntityID, ref.RelationshipType, ref.TargetEntityID),
				})
			}
		}
	}

	if err := e.led.VerifyTail(); err != nil {
		report.Findings = append(report.Findings, HealthFinding{
			Code:    errors.CodeCorruptionDetected,
			Message: "ledger tail: " + err.Error(),
		})
	}

	head, err := e.led.Head()
	if err != nil {
		return report, err
	}
	cp, err := e.ix.Checkpoint(ctx)
	if err != nil {
		return report, err
	}
	if cp != head {
		report.Findings = append(report.Findings, HealthFinding{
			Code:    errors.CodeCorruptionDetected,
			Message: fmt.Sprintf("projections at seq %d but ledger head is %d", cp, head),
		})
	}

	docs, err := e.ix.CountSearchDocuments(ctx)
	if err != nil {
		return report, err
	}
	if docs != len(ids) {
		report.Findings = append(report.Findings, HealthFinding{
			Code:    errors.CodeCorruptionDetected,
			Message: fmt.Sprintf("search index holds %d documents but the store holds %d", docs, len(ids)),
		})
	}

	report.Healthy = len(report.Findings) == 0
	return report, nil
}

// Repair rebuilds every derived index from the ledger and store, and
// opens contradictions for cross-references whose target no longer
// exists. With dryRun it only reports what it would do.
func (e *Engine) Repair(ctx context.Context, dryRun bool) (RepairReport, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Repair")
	defer span.End()

	e.swapMu.RLock()
	defer e.swapMu.RUnlock()

	report := RepairReport{DryRun: dryRun}
	report.Actions = append(report.Actions,
		RepairAction{Action: "rebuild_projections", Detail: "replay ledger into index"},
		RepairAction{Action: "rebuild_graph", Detail: "reload relationship graph"},
		RepairAction{Action: "rebuild_search", Detail: "reindex search documents"},
	)
	if !dryRun {
		if err := e.rebuildAll(ctx); err != nil {
			return report, err
		}
	}

	ids, err := e.store.IDs()
	if err != nil {
		return report, err
	}
	known := make(map[string]bool, len(ids))
	for _, entityID := range ids {
		known[entityID] = true
	}
	refs, err := e.ix.AllXRefs(ctx)
	if err != nil {
		return report, err
	}
	for _, ref := range refs {
		if known[ref.SourceEntityID] && known[ref.TargetEntityID] {
			continue
		}
		action := RepairAction{
			Action:    "flag_dangling_xref",
			Detail:    fmt.Sprintf("%s %s %s", ref.SourceEntityID, ref.RelationshipType, ref.TargetEntityID),
			EntityIDs: []string{ref.SourceEntityID, ref.TargetEntityID},
		}
		report.Actions = append(report.Actions, action)
		if dryRun {
			continue
		}
		raw, err := id.NewID()
		if err != nil {
			return report, err
		}
		payload := event.ContradictionRaisedPayload{
			ContradictionID:  "con-" + raw[:12],
			Description:      "dangling cross-reference: " + action.Detail,
			Severity:         "warning",
			EntitiesInvolved: action.EntityIDs,
			Rule:             "dangling_xref",
		}
		if _, err := e.appendEvent(ctx, event.TypeContradictionRaised, ref.SourceEntityID, payload); err != nil {
			return report, err
		}
	}

	if !dryRun {
		for _, action := range report.Actions {
			payload := event.RepairPerformedPayload{
				Action:    action.Action,
				Detail:    action.Detail,
				EntityIDs: action.EntityIDs,
			}
			if _, err := e.appendEvent(ctx, event.TypeRepairPerformed, "", payload); err != nil {
				return report, err
			}
		}
		e.logger.Printf("canonry: repair performed %d actions", len(report.Actions))
	}
	return report, nil
}

// RebuildIndexes discards and rebuilds projections, the graph, and the
// search tables from the ledger and the store.
func (e *Engine) RebuildIndexes(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "engine.RebuildIndexes")
	defer span.End()

	e.swapMu.RLock()
	defer e.swapMu.RUnlock()

	return e.rebuildAll(ctx)
}

func (e *Engine) rebuildAll(ctx context.Context) error {
	if _, err := e.applier.Rebuild(ctx, e.led); err != nil {
		return err
	}
	if err := e.rebuildGraph(ctx); err != nil {
		return err
	}
	return e.rebuildSearch(ctx)
}
