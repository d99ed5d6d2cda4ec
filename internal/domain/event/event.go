// Package event defines the immutable ledger record model and the registry
// that validates events before they are appended.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the type of a ledger event.
type Type string

// Entity lifecycle events.
const (
	// TypeEntityCreated records the creation of an entity document.
	TypeEntityCreated Type = "entity.created"
	// TypeEntityRevised records an update; the payload carries the new
	// document and the revision metadata of the snapshot taken before it.
	TypeEntityRevised Type = "entity.revised"
	// TypeEntityStatusChanged records a monotone status transition.
	TypeEntityStatusChanged Type = "entity.status_changed"
	// TypeEntityDemoted records the explicit canon → draft demotion.
	TypeEntityDemoted Type = "entity.demoted"
)

// Cross-reference events.
const (
	// TypeXRefAdded records a new cross-reference edge.
	TypeXRefAdded Type = "xref.added"
	// TypeXRefRemoved records the removal of a cross-reference edge.
	TypeXRefRemoved Type = "xref.removed"
)

// Consistency events.
const (
	// TypeContradictionRaised records an open contradiction.
	TypeContradictionRaised Type = "contradiction.raised"
	// TypeContradictionResolved records the resolution of a contradiction.
	TypeContradictionResolved Type = "contradiction.resolved"
	// TypeReviewFlagged records that a semantic check was skipped and the
	// write awaits later review.
	TypeReviewFlagged Type = "review.flagged"
)

// Session and decision events.
const (
	// TypeSessionStarted records the start of a creative session.
	TypeSessionStarted Type = "session.started"
	// TypeSessionEnded records the end of a creative session.
	TypeSessionEnded Type = "session.ended"
	// TypeDecisionRecorded records a creative decision.
	TypeDecisionRecorded Type = "decision.recorded"
)

// Maintenance events.
const (
	// TypeBackupCreated records a completed snapshot.
	TypeBackupCreated Type = "backup.created"
	// TypeBackupRestored records a completed restore.
	TypeBackupRestored Type = "backup.restored"
	// TypeRepairPerformed records a repair mutation outside the normal
	// entity write path.
	TypeRepairPerformed Type = "repair.performed"
)

// Event is one immutable record in the ledger. Events are never mutated or
// deleted; all derived state must be reconstructible by replaying them.
type Event struct {
	// ID is the globally unique event identifier.
	ID string `json:"event_id"`
	// Seq is the global, strictly increasing sequence number assigned by the
	// ledger on append.
	Seq uint64 `json:"seq"`
	// Timestamp is when the event was appended, UTC, millisecond precision.
	Timestamp time.Time `json:"timestamp"`
	// SessionID groups events into sessions (empty outside a session).
	SessionID string `json:"session_id,omitempty"`
	// Type identifies the kind of event.
	Type Type `json:"event_type"`
	// EntityID is the subject entity, when the event concerns one.
	EntityID string `json:"entity_id,omitempty"`
	// Payload holds event-specific data as JSON.
	Payload json.RawMessage `json:"payload"`
}

// DecodePayload unmarshals the payload into target.
func (e Event) DecodePayload(target any) error {
	return json.Unmarshal(e.Payload, target)
}

// NewPayload marshals a payload struct for an event under construction.
func NewPayload(payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
