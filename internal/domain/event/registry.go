package event

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aveline/canonry/internal/platform/errors"
)

// Registry validates events before they are appended to the ledger. Each
// known type is bound to its payload prototype at registration time so an
// append can never record a payload the replayers cannot decode.
type Registry struct {
	decoders map[Type]func(json.RawMessage) error
	types    []Type
}

// register binds a payload prototype to an event type.
func register[P any](r *Registry, t Type) {
	if _, ok := r.decoders[t]; !ok {
		r.types = append(r.types, t)
	}
	r.decoders[t] = func(raw json.RawMessage) error {
		var payload P
		decoder := json.NewDecoder(strings.NewReader(string(raw)))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", t, err)
		}
		return nil
	}
}

// NewRegistry creates a registry with every engine event type bound.
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[Type]func(json.RawMessage) error)}
	register[EntityCreatedPayload](r, TypeEntityCreated)
	register[EntityRevisedPayload](r, TypeEntityRevised)
	register[EntityStatusChangedPayload](r, TypeEntityStatusChanged)
	register[EntityStatusChangedPayload](r, TypeEntityDemoted)
	register[XRefAddedPayload](r, TypeXRefAdded)
	register[XRefRemovedPayload](r, TypeXRefRemoved)
	register[ContradictionRaisedPayload](r, TypeContradictionRaised)
	register[ContradictionResolvedPayload](r, TypeContradictionResolved)
	register[ReviewFlaggedPayload](r, TypeReviewFlagged)
	register[SessionStartedPayload](r, TypeSessionStarted)
	register[SessionEndedPayload](r, TypeSessionEnded)
	register[DecisionRecordedPayload](r, TypeDecisionRecorded)
	register[BackupCreatedPayload](r, TypeBackupCreated)
	register[BackupRestoredPayload](r, TypeBackupRestored)
	register[RepairPerformedPayload](r, TypeRepairPerformed)
	return r
}

// Types returns all registered event types in registration order.
func (r *Registry) Types() []Type {
	return append([]Type(nil), r.types...)
}

// Known reports whether the type is registered.
func (r *Registry) Known(t Type) bool {
	_, ok := r.decoders[t]
	return ok
}

// ValidateForAppend checks an event before the ledger assigns its sequence.
func (r *Registry) ValidateForAppend(evt Event) error {
	if r == nil {
		return fmt.Errorf("event registry is required")
	}
	decode, ok := r.decoders[evt.Type]
	if !ok {
		return errors.WithMetadata(errors.CodeLedgerUnknownEvent,
			fmt.Sprintf("unknown event type %q", evt.Type),
			map[string]string{"event_type": string(evt.Type)})
	}
	if len(evt.Payload) == 0 {
		return errors.WithMetadata(errors.CodeLedgerEmptyPayload,
			fmt.Sprintf("event %s has no payload", evt.Type),
			map[string]string{"event_type": string(evt.Type)})
	}
	if err := decode(evt.Payload); err != nil {
		return errors.Wrap(errors.CodeLedgerEmptyPayload,
			fmt.Sprintf("event %s payload does not match its schema", evt.Type), err)
	}
	return nil
}
