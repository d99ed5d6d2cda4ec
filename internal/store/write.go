package store

import (
	"fmt"
	"strings"

	"github.com/aveline/canonry/internal/domain/entity"
	"github.com/aveline/canonry/internal/platform/errors"
	"github.com/aveline/canonry/internal/platform/id"
)

// idAttempts bounds disambiguator retries before DUPLICATE_ID surfaces.
const idAttempts = 5

// Input is the caller-supplied content for a create or update.
type Input struct {
	Name   string
	Fields map[string]any
	Tags   []string

	// Update metadata, recorded on the revision snapshot.
	ChangeSummary string
	Reason        string
	DecisionID    string
}

// StagedUpdate is a prepared update: the pre-update snapshot and the new
// document, not yet applied. The caller appends the ledger event between
// Prepare and Apply.
type StagedUpdate struct {
	Old      entity.Entity
	New      entity.Entity
	Snapshot Revision
}

// PrepareCreate builds a new document from a template and input. The result
// is not persisted; the caller validates it, appends the ledger event, and
// then calls ApplyCreate.
func (s *Store) PrepareCreate(templateID string, input Input) (entity.Entity, error) {
	tmpl, ok := s.templates[templateID]
	if !ok {
		return entity.Entity{}, errors.WithMetadata(errors.CodeSchemaUnknownTemplate,
			fmt.Sprintf("unknown template %q", templateID),
			map[string]string{"template_id": templateID})
	}
	if strings.TrimSpace(input.Name) == "" {
		return entity.Entity{}, errors.New(errors.CodeSchemaEmptyName, "entity name is required")
	}

	entityID, err := s.nextID(tmpl.EntityType, input.Name)
	if err != nil {
		return entity.Entity{}, err
	}

	now := s.now()
	doc := entity.Entity{
		ID:         entityID,
		Type:       tmpl.EntityType,
		TemplateID: templateID,
		Status:     entity.StatusDraft,
		Name:       strings.TrimSpace(input.Name),
		Fields:     input.Fields,
		Tags:       input.Tags,
		CreatedAt:  now,
		UpdatedAt:  now,
		Revision:   1,
	}
	if doc.Fields == nil {
		doc.Fields = map[string]any{}
	}
	doc.Claims = s.extractors.Resolve(templateID)(tmpl, doc)
	return doc, nil
}

// ApplyCreate persists a prepared document.
func (s *Store) ApplyCreate(doc entity.Entity) error {
	if s.Exists(doc.ID) {
		return errors.WithMetadata(errors.CodeDuplicateID,
			fmt.Sprintf("entity %s already exists", doc.ID),
			map[string]string{"entity_id": doc.ID})
	}
	return s.Put(doc)
}

// PrepareUpdate stages an update based on the revision the caller read.
// A concurrent writer that already advanced the entity yields STALE_REVISION;
// the committed document is untouched and the caller may re-read and retry.
func (s *Store) PrepareUpdate(entityID string, baseRevision uint64, input Input) (StagedUpdate, error) {
	current, err := s.Get(entityID)
	if err != nil {
		return StagedUpdate{}, err
	}
	if current.Revision != baseRevision {
		return StagedUpdate{}, errors.WithMetadata(errors.CodeStaleRevision,
			fmt.Sprintf("entity %s is at revision %d, update was based on %d",
				entityID, current.Revision, baseRevision),
			map[string]string{
				"entity_id":        entityID,
				"current_revision": fmt.Sprintf("%d", current.Revision),
				"base_revision":    fmt.Sprintf("%d", baseRevision),
			})
	}

	tmpl, ok := s.templates[current.TemplateID]
	if !ok {
		return StagedUpdate{}, errors.WithMetadata(errors.CodeSchemaUnknownTemplate,
			fmt.Sprintf("unknown template %q", current.TemplateID),
			map[string]string{"template_id": current.TemplateID})
	}

	next := current.Clone()
	if strings.TrimSpace(input.Name) != "" {
		next.Name = strings.TrimSpace(input.Name)
	}
	if input.Fields != nil {
		next.Fields = input.Fields
	}
	if input.Tags != nil {
		next.Tags = input.Tags
	}
	next.Revision = current.Revision + 1
	next.UpdatedAt = s.now()
	next.Claims = s.extractors.Resolve(current.TemplateID)(tmpl, next)

	snapshot := Revision{
		EntityID:      entityID,
		Revision:      current.Revision,
		Document:      current,
		ChangeSummary: input.ChangeSummary,
		Reason:        input.Reason,
		DecisionID:    input.DecisionID,
		RecordedAt:    next.UpdatedAt,
	}

	return StagedUpdate{Old: current, New: next, Snapshot: snapshot}, nil
}

// ApplyUpdate writes the revision snapshot of the pre-update document, then
// replaces the live document. The snapshot lands first so a crash between the
// two writes never loses history.
func (s *Store) ApplyUpdate(staged StagedUpdate) error {
	if err := s.WriteRevision(staged.Snapshot); err != nil {
		return err
	}
	return s.Put(staged.New)
}

// ApplyStatusChange persists a status transition prepared by the caller.
func (s *Store) ApplyStatusChange(doc entity.Entity, to entity.Status) (entity.Entity, error) {
	if !entity.CanTransition(doc.Status, to) {
		return entity.Entity{}, errors.WithMetadata(errors.CodeRuleInvalidStatusShift,
			fmt.Sprintf("entity %s cannot move from %s to %s", doc.ID, doc.Status, to),
			map[string]string{"entity_id": doc.ID, "from": string(doc.Status), "to": string(to)})
	}
	next := doc.Clone()
	next.Status = to
	next.UpdatedAt = s.now()
	if err := s.Put(next); err != nil {
		return entity.Entity{}, err
	}
	return next, nil
}

// nextID assigns a slug-plus-disambiguator ID, retrying collisions.
func (s *Store) nextID(entityType, name string) (string, error) {
	for attempt := 0; attempt < idAttempts; attempt++ {
		candidate, err := id.NewEntityID(entityType, name)
		if err != nil {
			return "", fmt.Errorf("generate entity id: %w", err)
		}
		if !s.Exists(candidate) {
			return candidate, nil
		}
	}
	return "", errors.WithMetadata(errors.CodeDuplicateID,
		fmt.Sprintf("could not find a free id for %s %q", entityType, name),
		map[string]string{"entity_type": entityType, "name": name})
}
