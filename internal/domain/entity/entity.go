// Package entity defines the canonical entity document model: typed documents
// described by templates, their status lifecycle, and the canon claims
// extracted from them for contradiction detection.
package entity

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the lifecycle state of an entity document.
type Status string

const (
	// StatusDraft marks an entity that is not yet accepted as true in the world.
	StatusDraft Status = "draft"
	// StatusCanon marks an entity accepted as true in the world.
	StatusCanon Status = "canon"
	// StatusArchived marks an entity retired from the active world.
	StatusArchived Status = "archived"
)

// Valid reports whether the status is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusCanon, StatusArchived:
		return true
	}
	return false
}

// CanTransition reports whether a status change is allowed. Transitions are
// monotone (draft → canon → archived) except the explicit canon → draft
// demotion, which callers must record as its own ledger event.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from == to {
		return false
	}
	switch from {
	case StatusDraft:
		return to == StatusCanon || to == StatusArchived
	case StatusCanon:
		return to == StatusArchived || to == StatusDraft
	}
	return false
}

// IsDemotion reports whether the transition is the canon → draft demotion.
func IsDemotion(from, to Status) bool {
	return from == StatusCanon && to == StatusDraft
}

// Claim is an atomic factual statement extracted from an entity. Claims are
// the unit the consistency engine's semantic layer reasons over.
type Claim struct {
	Text                string   `json:"claim_text"`
	ReferencedEntityIDs []string `json:"referenced_entity_ids,omitempty"`
}

// Entity is a canonical entity document. The store owns exactly one document
// per entity ID; everything else derived from it is disposable.
type Entity struct {
	ID         string         `json:"entity_id"`
	Type       string         `json:"entity_type"`
	TemplateID string         `json:"template_id"`
	Status     Status         `json:"status"`
	Name       string         `json:"name"`
	Fields     map[string]any `json:"fields"`
	Tags       []string       `json:"tags,omitempty"`
	Claims     []Claim        `json:"canon_claims,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Revision   uint64         `json:"revision"`
}

// Clone returns a deep copy of the entity so callers can stage changes
// without mutating shared state.
func (e Entity) Clone() Entity {
	cloned := e
	if e.Fields != nil {
		raw, err := json.Marshal(e.Fields)
		if err == nil {
			var fields map[string]any
			if json.Unmarshal(raw, &fields) == nil {
				cloned.Fields = fields
			}
		}
	}
	cloned.Tags = append([]string(nil), e.Tags...)
	cloned.Claims = make([]Claim, len(e.Claims))
	for i, c := range e.Claims {
		cloned.Claims[i] = Claim{
			Text:                c.Text,
			ReferencedEntityIDs: append([]string(nil), c.ReferencedEntityIDs...),
		}
	}
	return cloned
}

// Description returns the free-text description field, when present.
func (e Entity) Description() string {
	value, ok := e.Fields["description"].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

// StringField returns a trimmed string field value, when present.
func (e Entity) StringField(name string) string {
	value, ok := e.Fields[name].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

// ListField returns a list field coerced to strings.
func (e Entity) ListField(name string) []string {
	raw, ok := e.Fields[name]
	if !ok {
		return nil
	}
	switch values := raw.(type) {
	case []string:
		return append([]string(nil), values...)
	case []any:
		out := make([]string, 0, len(values))
		for _, v := range values {
			if s, ok := v.(string); ok {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}
