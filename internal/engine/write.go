package engine

import (
	"context"
	"fmt"

	"github.com/aveline/canonry/internal/consistency"
	"github.com/aveline/canonry/internal/domain/entity"
	"github.com/aveline/canonry/internal/domain/event"
	"github.com/aveline/canonry/internal/graph"
	"github.com/aveline/canonry/internal/platform/errors"
	"github.com/aveline/canonry/internal/platform/id"
	"github.com/aveline/canonry/internal/store"
)

// CreateEntity validates and persists a new entity. A rejected document
// is returned with the findings that blocked it and is never written.
// Accepted documents may still carry warnings; warnings that contradict
// existing canon open contradictions.
func (e *Engine) CreateEntity(ctx context.Context, templateID string, input store.Input) (entity.Entity, consistency.Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.CreateEntity")
	defer span.End()

	e.swapMu.RLock()
	defer e.swapMu.RUnlock()

	doc, err := e.store.PrepareCreate(templateID, input)
	if err != nil {
		return entity.Entity{}, consistency.Result{}, err
	}

	result, err := e.pipeline.Validate(ctx, doc)
	if err != nil {
		return entity.Entity{}, consistency.Result{}, err
	}
	if result.Verdict == consistency.VerdictRejected {
		return entity.Entity{}, result, rejectionError(result)
	}

	unlock := e.store.LockEntity(doc.ID)
	defer unlock()

	if _, err := e.appendEvent(ctx, event.TypeEntityCreated, doc.ID, event.EntityCreatedPayload{Document: doc}); err != nil {
		return entity.Entity{}, result, err
	}
	if err := e.store.ApplyCreate(doc); err != nil {
		return entity.Entity{}, result, err
	}
	e.graph.AddNode(doc.ID)

	tmpl, _ := e.store.Template(templateID)
	if err := e.applyXRefDiff(ctx, doc.ID, nil, tmpl.References(doc)); err != nil {
		return entity.Entity{}, result, err
	}
	if err := e.recordFindings(ctx, doc.ID, result); err != nil {
		return entity.Entity{}, result, err
	}
	if err := e.ix.UpsertSearchDocument(ctx, &tmpl, &doc); err != nil {
		return entity.Entity{}, result, err
	}
	return doc, result, nil
}

// UpdateEntity validates and persists a revision of an existing entity.
// baseRevision must match the stored revision or the update fails with
// STALE_REVISION and nothing changes.
func (e *Engine) UpdateEntity(ctx context.Context, entityID string, baseRevision uint64, input store.Input) (entity.Entity, consistency.Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.UpdateEntity")
	defer span.End()

	e.swapMu.RLock()
	defer e.swapMu.RUnlock()

	unlock := e.store.LockEntity(entityID)
	defer unlock()

	staged, err := e.store.PrepareUpdate(entityID, baseRevision, input)
	if err != nil {
		return entity.Entity{}, consistency.Result{}, err
	}

	result, err := e.pipeline.Validate(ctx, staged.New)
	if err != nil {
		return entity.Entity{}, consistency.Result{}, err
	}
	if result.Verdict == consistency.VerdictRejected {
		return entity.Entity{}, result, rejectionError(result)
	}

	payload := event.EntityRevisedPayload{
		Document:      staged.New,
		BaseRevision:  baseRevision,
		ChangeSummary: input.ChangeSummary,
		Reason:        input.Reason,
		DecisionID:    input.DecisionID,
	}
	if _, err := e.appendEvent(ctx, event.TypeEntityRevised, entityID, payload); err != nil {
		return entity.Entity{}, result, err
	}
	if err := e.store.ApplyUpdate(staged); err != nil {
		return entity.Entity{}, result, err
	}

	tmpl, _ := e.store.Template(staged.New.TemplateID)
	oldRefs := tmpl.References(staged.Old)
	newRefs := tmpl.References(staged.New)
	if err := e.applyXRefDiff(ctx, entityID, oldRefs, newRefs); err != nil {
		return entity.Entity{}, result, err
	}
	if err := e.recordFindings(ctx, entityID, result); err != nil {
		return entity.Entity{}, result, err
	}
	if err := e.ix.UpsertSearchDocument(ctx, &tmpl, &staged.New); err != nil {
		return entity.Entity{}, result, err
	}
	return staged.New, result, nil
}

// SetEntityStatus moves an entity through the draft, canon, archived
// lifecycle. A canon to draft move is recorded as a demotion.
func (e *Engine) SetEntityStatus(ctx context.Context, entityID string, to entity.Status, reason string) (entity.Entity, error) {
	ctx, span := e.tracer.Start(ctx, "engine.SetEntityStatus")
	defer span.End()

	e.swapMu.RLock()
	defer e.swapMu.RUnlock()

	unlock := e.store.LockEntity(entityID)
	defer unlock()

	doc, err := e.store.Get(entityID)
	if err != nil {
		return entity.Entity{}, err
	}
	if !entity.CanTransition(doc.Status, to) {
		return entity.Entity{}, errors.New(errors.CodeRuleInvalidStatusShift,
			fmt.Sprintf("cannot move %s from %s to %s", entityID, doc.Status, to))
	}

	typ := event.TypeEntityStatusChanged
	if doc.Status == entity.StatusCanon && to == entity.StatusDraft {
		typ = event.TypeEntityDemoted
	}
	payload := event.EntityStatusChangedPayload{From: doc.Status, To: to, Reason: reason}
	if _, err := e.appendEvent(ctx, typ, entityID, payload); err != nil {
		return entity.Entity{}, err
	}
	changed, err := e.store.ApplyStatusChange(doc, to)
	if err != nil {
		return entity.Entity{}, err
	}
	tmpl, ok := e.store.Template(changed.TemplateID)
	if ok {
		if err := e.ix.UpsertSearchDocument(ctx, &tmpl, &changed); err != nil {
			return entity.Entity{}, err
		}
	}
	return changed, nil
}

// AddCrossReference records a relationship edge between two existing
// entities outside of any ref field.
func (e *Engine) AddCrossReference(ctx context.Context, source, target, relationship string, bidirectional bool) error {
	ctx, span := e.tracer.Start(ctx, "engine.AddCrossReference")
	defer span.End()

	e.swapMu.RLock()
	defer e.swapMu.RUnlock()

	for _, entityID := range []string{source, target} {
		if !e.store.Exists(entityID) {
			return errors.New(errors.CodeRuleMissingReference, "unknown entity "+entityID)
		}
	}
	payload := event.XRefAddedPayload{
		SourceEntityID:   source,
		TargetEntityID:   target,
		RelationshipType: relationship,
		Bidirectional:    bidirectional,
	}
	if _, err := e.appendEvent(ctx, event.TypeXRefAdded, source, payload); err != nil {
		return err
	}
	e.graph.AddEdge(graph.Edge{Source: source, Target: target, Relationship: relationship, Bidirectional: bidirectional})
	return nil
}

// RemoveCrossReference removes a previously recorded edge. Removing an
// absent edge is not an error.
func (e *Engine) RemoveCrossReference(ctx context.Context, source, target, relationship string) error {
	ctx, span := e.tracer.Start(ctx, "engine.RemoveCrossReference")
	defer span.End()

	e.swapMu.RLock()
	defer e.swapMu.RUnlock()

	payload := event.XRefRemovedPayload{
		SourceEntityID:   source,
		TargetEntityID:   target,
		RelationshipType: relationship,
	}
	if _, err := e.appendEvent(ctx, event.TypeXRefRemoved, source, payload); err != nil {
		return err
	}
	e.graph.RemoveEdge(source, target, relationship)
	return nil
}

type refKey struct {
	target       string
	relationship string
}

// applyXRefDiff emits xref events for edges a revision added or removed,
// so replaying the ledger reconstructs the same edge set without
// re-reading templates.
func (e *Engine) applyXRefDiff(ctx context.Context, sourceID string, oldRefs, newRefs []entity.Reference) error {
	oldSet := make(map[refKey]entity.Reference, len(oldRefs))
	for _, ref := range oldRefs {
		oldSet[refKey{ref.TargetID, ref.Relationship}] = ref
	}
	newSet := make(map[refKey]entity.Reference, len(newRefs))
	for _, ref := range newRefs {
		newSet[refKey{ref.TargetID, ref.Relationship}] = ref
	}

	for _, ref := range oldRefs {
		key := refKey{ref.TargetID, ref.Relationship}
		if _, kept := newSet[key]; kept {
			continue
		}
		payload := event.XRefRemovedPayload{
			SourceEntityID:   sourceID,
			TargetEntityID:   ref.TargetID,
			RelationshipType: ref.Relationship,
		}
		if _, err := e.appendEvent(ctx, event.TypeXRefRemoved, sourceID, payload); err != nil {
			return err
		}
		e.graph.RemoveEdge(sourceID, ref.TargetID, ref.Relationship)
	}
	for _, ref := range newRefs {
		key := refKey{ref.TargetID, ref.Relationship}
		if _, existed := oldSet[key]; existed {
			continue
		}
		payload := event.XRefAddedPayload{
			SourceEntityID:   sourceID,
			TargetEntityID:   ref.TargetID,
			RelationshipType: ref.Relationship,
			Bidirectional:    ref.Bidirectional,
		}
		if _, err := e.appendEvent(ctx, event.TypeXRefAdded, sourceID, payload); err != nil {
			return err
		}
		e.graph.AddEdge(graph.Edge{
			Source:        sourceID,
			Target:        ref.TargetID,
			Relationship:  ref.Relationship,
			Bidirectional: ref.Bidirectional,
		})
	}
	return nil
}

// recordFindings turns accepted-with-warnings outcomes into durable
// records: contradiction warnings open contradictions, and a skipped
// semantic check flags the entity for review.
func (e *Engine) recordFindings(ctx context.Context, entityID string, result consistency.Result) error {
	for _, finding := range result.Findings {
		if !finding.Contradiction {
			continue
		}
		conID, err := id.NewID()
		if err != nil {
			return err
		}
		entities := finding.EntityIDs
		if len(entities) == 0 {
			entities = []string{entityID}
		}
		payload := event.ContradictionRaisedPayload{
			ContradictionID:  "con-" + conID[:12],
			Description:      finding.Message,
			Severity:         finding.Severity,
			EntitiesInvolved: entities,
			Rule:             finding.Rule,
		}
		if _, err := e.appendEvent(ctx, event.TypeContradictionRaised, entityID, payload); err != nil {
			return err
		}
	}
	if result.SemanticSkipped {
		payload := event.ReviewFlaggedPayload{EntityID: entityID, Reason: result.SkipReason}
		if _, err := e.appendEvent(ctx, event.TypeReviewFlagged, entityID, payload); err != nil {
			return err
		}
		e.logger.Printf("canonry: semantic check skipped for %s: %s", entityID, result.SkipReason)
	}
	return nil
}

// rejectionError maps the first fatal finding to a machine-readable
// error code so callers can branch without parsing messages.
func rejectionError(result consistency.Result) error {
	fatal := result.Fatal()
	if len(fatal) == 0 {
		return errors.New(errors.CodeUnknown, "document rejected")
	}
	first := fatal[0]
	code := errors.CodeSchemaInvalidField
	switch first.Rule {
	case "unknown_template":
		code = errors.CodeSchemaUnknownTemplate
	case "missing_reference", "reference_type":
		code = errors.CodeRuleMissingReference
	case "date_order", "past_only":
		code = errors.CodeRuleDateOrder
	case "exclusive_traits":
		code = errors.CodeRuleExclusiveTraits
	default:
		if first.Layer == consistency.LayerSemantic {
			code = errors.CodeSemanticCritical
		}
	}
	return errors.WithMetadata(code, first.Message, map[string]string{
		"layer": string(first.Layer),
		"rule":  first.Rule,
	})
}
