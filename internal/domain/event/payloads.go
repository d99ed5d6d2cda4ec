package event

import (
	"github.com/aveline/canonry/internal/domain/entity"
)

// EntityCreatedPayload carries the full document as created.
type EntityCreatedPayload struct {
	Document entity.Entity `json:"document"`
}

// EntityRevisedPayload carries the new document plus the metadata of the
// revision snapshot written for the pre-update document.
type EntityRevisedPayload struct {
	Document      entity.Entity `json:"document"`
	BaseRevision  uint64        `json:"base_revision"`
	ChangeSummary string        `json:"change_summary,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	DecisionID    string        `json:"decision_id,omitempty"`
}

// EntityStatusChangedPayload records a status transition, including the
// explicit canon → draft demotion (TypeEntityDemoted).
type EntityStatusChangedPayload struct {
	From   entity.Status `json:"from"`
	To     entity.Status `json:"to"`
	Reason string        `json:"reason,omitempty"`
}

// XRefAddedPayload records a new cross-reference edge.
type XRefAddedPayload struct {
	SourceEntityID   string `json:"source_entity_id"`
	TargetEntityID   string `json:"target_entity_id"`
	RelationshipType string `json:"relationship_type"`
	Bidirectional    bool   `json:"bidirectional"`
}

// XRefRemovedPayload records the removal of a cross-reference edge.
type XRefRemovedPayload struct {
	SourceEntityID   string `json:"source_entity_id"`
	TargetEntityID   string `json:"target_entity_id"`
	RelationshipType string `json:"relationship_type"`
}

// ContradictionRaisedPayload opens a contradiction.
type ContradictionRaisedPayload struct {
	ContradictionID  string   `json:"contradiction_id"`
	Description      string   `json:"description"`
	Severity         string   `json:"severity"`
	EntitiesInvolved []string `json:"entities_involved"`
	Rule             string   `json:"rule,omitempty"`
}

// ContradictionResolvedPayload closes a contradiction, referencing the
// entities changed to fix it.
type ContradictionResolvedPayload struct {
	ContradictionID string   `json:"contradiction_id"`
	Resolution      string   `json:"resolution"`
	EntitiesChanged []string `json:"entities_changed,omitempty"`
}

// ReviewFlaggedPayload records a skipped semantic check.
type ReviewFlaggedPayload struct {
	EntityID string `json:"entity_id"`
	Reason   string `json:"reason"`
}

// SessionStartedPayload opens a creative session.
type SessionStartedPayload struct {
	Label string `json:"label,omitempty"`
}

// SessionEndedPayload closes a creative session.
type SessionEndedPayload struct {
	Summary string `json:"summary,omitempty"`
}

// DecisionRecordedPayload indexes a creative decision.
type DecisionRecordedPayload struct {
	DecisionID string   `json:"decision_id"`
	Summary    string   `json:"summary"`
	Reason     string   `json:"reason,omitempty"`
	EntityIDs  []string `json:"entity_ids,omitempty"`
}

// BackupCreatedPayload records a completed snapshot.
type BackupCreatedPayload struct {
	BackupID  string `json:"backup_id"`
	FileCount int    `json:"file_count"`
}

// BackupRestoredPayload records a completed restore.
type BackupRestoredPayload struct {
	BackupID string `json:"backup_id"`
}

// RepairPerformedPayload records one mutation made by repair.
type RepairPerformedPayload struct {
	Action    string   `json:"action"`
	Detail    string   `json:"detail,omitempty"`
	EntityIDs []string `json:"entity_ids,omitempty"`
}
