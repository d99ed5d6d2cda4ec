package engine

import (
	"context"

	"github.com/aveline/canonry/internal/consistency"
	"github.com/aveline/canonry/internal/domain/entity"
	"github.com/aveline/canonry/internal/graph"
	"github.com/aveline/canonry/internal/index"
	"github.com/aveline/canonry/internal/store"
)

// GetEntity returns the current document for an entity.
func (e *Engine) GetEntity(ctx context.Context, entityID string) (entity.Entity, error) {
	_, span := e.tracer.Start(ctx, "engine.GetEntity")
	defer span.End()
	return e.store.Get(entityID)
}

// ListEntities lists documents, optionally filtered by entity type.
func (e *Engine) ListEntities(ctx context.Context, entityType string) ([]entity.Entity, error) {
	_, span := e.tracer.Start(ctx, "engine.ListEntities")
	defer span.End()
	return e.store.List(entityType)
}

// SearchEntities runs a full-text query over names, tags, descriptions,
// and claims.
func (e *Engine) SearchEntities(ctx context.Context, query string, filter index.SearchFilter) ([]index.SearchHit, error) {
	ctx, span := e.tracer.Start(ctx, "engine.SearchEntities")
	defer span.End()
	return e.ix.Search(ctx, query, filter)
}

// LookupField finds entities whose template field holds an exact value.
func (e *Engine) LookupField(ctx context.Context, field, value string, filter index.SearchFilter) ([]string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.LookupField")
	defer span.End()
	return e.ix.LookupField(ctx, field, value, filter)
}

// RangeNumber finds entities whose numeric field falls inside a range.
func (e *Engine) RangeNumber(ctx context.Context, field string, min, max float64, filter index.SearchFilter) ([]string, error) {
	return e.ix.RangeNumber(ctx, field, min, max, filter)
}

// RangeDate finds entities whose date field falls inside a range of
// ISO 8601 dates.
func (e *Engine) RangeDate(ctx context.Context, field, from, to string, filter index.SearchFilter) ([]string, error) {
	return e.ix.RangeDate(ctx, field, from, to, filter)
}

// ValidateEntity runs the full consistency pipeline on a prospective
// document without persisting anything.
func (e *Engine) ValidateEntity(ctx context.Context, templateID string, input store.Input) (consistency.Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.ValidateEntity")
	defer span.End()

	doc, err := e.store.PrepareCreate(templateID, input)
	if err != nil {
		return consistency.Result{}, err
	}
	return e.pipeline.Validate(ctx, doc)
}

// GetCrossReferences returns edges touching an entity in either
// direction, oldest first.
func (e *Engine) GetCrossReferences(ctx context.Context, entityID string) ([]index.XRef, error) {
	ctx, span := e.tracer.Start(ctx, "engine.GetCrossReferences")
	defer span.End()
	return e.ix.XRefsFor(ctx, entityID)
}

// Neighbors returns entities reachable within depth hops.
func (e *Engine) Neighbors(entityID string, depth int) []graph.Neighbor {
	return e.graph.Neighbors(entityID, depth)
}

// ShortestPath returns the entity IDs along a shortest relationship
// path, or nil when the entities are not connected.
func (e *Engine) ShortestPath(from, to string) []string {
	return e.graph.ShortestPath(from, to)
}

// Cluster returns the relationship cluster containing an entity.
func (e *Engine) Cluster(entityID string) []string {
	return e.graph.Cluster(entityID)
}

// Orphans returns entities with no relationships at all.
func (e *Engine) Orphans() []string {
	return e.graph.Orphans()
}

// MostConnected returns the n highest-degree entities.
func (e *Engine) MostConnected(n int) []graph.Ranked {
	return e.graph.MostConnected(n)
}

// OpenContradictions lists contradictions that still need resolution.
func (e *Engine) OpenContradictions(ctx context.Context) ([]index.Contradiction, error) {
	ctx, span := e.tracer.Start(ctx, "engine.OpenContradictions")
	defer span.End()
	return e.ix.Contradictions(ctx, index.ContradictionOpen)
}

// Contradictions lists contradictions by status; empty status lists all.
func (e *Engine) Contradictions(ctx context.Context, status string) ([]index.Contradiction, error) {
	return e.ix.Contradictions(ctx, status)
}

// PendingReview lists entities flagged for manual review.
func (e *Engine) PendingReview(ctx context.Context) ([]index.RegistryRow, error) {
	return e.ix.PendingReview(ctx)
}

// Decisions lists recorded decisions, optionally scoped to one entity.
func (e *Engine) Decisions(ctx context.Context, entityID string) ([]index.Decision, error) {
	return e.ix.Decisions(ctx, entityID)
}

// Progression returns the narrative timeline after sinceSeq, optionally
// filtered by session or entity.
func (e *Engine) Progression(ctx context.Context, sinceSeq uint64, sessionID, entityID string) ([]index.ProgressionEntry, error) {
	return e.ix.Progression(ctx, sinceSeq, sessionID, entityID)
}

// RevisionHistory returns the change log for an entity, oldest first.
func (e *Engine) RevisionHistory(ctx context.Context, entityID string) ([]index.RevisionEntry, error) {
	return e.ix.RevisionHistory(ctx, entityID)
}

// Templates returns the loaded entity templates keyed by ID.
func (e *Engine) Templates() map[string]entity.Template {
	return e.store.Templates()
}

// Sessions lists all sessions, oldest first.
func (e *Engine) Sessions(ctx context.Context) ([]index.Session, error) {
	return e.ix.Sessions(ctx)
}
