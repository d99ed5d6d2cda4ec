package event

import (
	"encoding/json"
	"testing"

	"github.com/aveline/canonry/internal/platform/errors"
)

func TestRegistryKnowsAllDeclaredTypes(t *testing.T) {
	r := NewRegistry()
	for _, typ := range []Type{
		TypeEntityCreated, TypeEntityRevised, TypeEntityStatusChanged,
		TypeEntityDemoted, TypeXRefAdded, TypeXRefRemoved,
		TypeContradictionRaised, TypeContradictionResolved, TypeReviewFlagged,
		TypeSessionStarted, TypeSessionEnded, TypeDecisionRecorded,
		TypeBackupCreated, TypeBackupRestored, TypeRepairPerformed,
	} {
		if !r.Known(typ) {
			t.Fatalf("registry does not know %s", typ)
		}
	}
}

func TestValidateForAppendAcceptsWellFormedEvent(t *testing.T) {
	r := NewRegistry()
	payload, err := NewPayload(SessionStartedPayload{Label: "session one"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	evt := Event{Type: TypeSessionStarted, Payload: payload}
	if err := r.ValidateForAppend(evt); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateForAppendRejectsUnknownType(t *testing.T) {
	r := NewRegistry()
	evt := Event{Type: Type("entity.teleported"), Payload: json.RawMessage(`{}`)}
	err := r.ValidateForAppend(evt)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.CodeOf(err) != errors.CodeLedgerUnknownEvent {
		t.Fatalf("expected unknown event code, got %s", errors.CodeOf(err))
	}
}

func TestValidateForAppendRejectsEmptyPayload(t *testing.T) {
	r := NewRegistry()
	evt := Event{Type: TypeSessionStarted}
	err := r.ValidateForAppend(evt)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.CodeOf(err) != errors.CodeLedgerEmptyPayload {
		t.Fatalf("expected empty payload code, got %s", errors.CodeOf(err))
	}
}

func TestValidateForAppendRejectsMismatchedPayload(t *testing.T) {
	r := NewRegistry()
	evt := Event{
		Type:    TypeXRefAdded,
		Payload: json.RawMessage(`{"source_entity_id": "a", "weight": 4}`),
	}
	if err := r.ValidateForAppend(evt); err == nil {
		t.Fatal("expected error for unknown payload fields")
	}
}

func TestPayloadRoundTripThroughEvent(t *testing.T) {
	payload, err := NewPayload(DecisionRecordedPayload{
		DecisionID: "d-1",
		Summary:    "Thorin claims the storm throne",
		EntityIDs:  []string{"god:thorin-a1b2c3"},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	evt := Event{Type: TypeDecisionRecorded, Payload: payload}

	var decoded DecisionRecordedPayload
	if err := evt.DecodePayload(&decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Summary != "Thorin claims the storm throne" {
		t.Fatalf("summary = %q", decoded.Summary)
	}
	if len(decoded.EntityIDs) != 1 {
		t.Fatalf("entity ids = %v", decoded.EntityIDs)
	}
}
