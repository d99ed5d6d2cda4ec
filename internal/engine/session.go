package engine

import (
	"context"
	"strings"

	"github.com/aveline/canonry/internal/domain/event"
	"github.com/aveline/canonry/internal/index"
	"github.com/aveline/canonry/internal/platform/errors"
	"github.com/aveline/canonry/internal/platform/id"
)

// StartSession opens a creative session. Only one session may be active
// at a time; subsequent ledger events are tagged with its ID until
// EndSession.
func (e *Engine) StartSession(ctx context.Context, label string) (string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.StartSession")
	defer span.End()

	e.swapMu.RLock()
	defer e.swapMu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != "" {
		return "", errors.New(errors.CodeSessionAlreadyActive, "session "+e.session+" is still active")
	}
	raw, err := id.NewID()
	if err != nil {
		return "", err
	}
	sessionID := "sess-" + raw[:12]
	payload := event.SessionStartedPayload{Label: label}
	if _, err := e.appendEventAs(ctx, sessionID, event.TypeSessionStarted, "", payload); err != nil {
		return "", err
	}
	e.session = sessionID
	return sessionID, nil
}

// EndSession closes the active session with a summary.
func (e *Engine) EndSession(ctx context.Context, summary string) error {
	ctx, span := e.tracer.Start(ctx, "engine.EndSession")
	defer span.End()

	e.swapMu.RLock()
	defer e.swapMu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == "" {
		return errors.New(errors.CodeSessionNotActive, "no active session")
	}
	payload := event.SessionEndedPayload{Summary: summary}
	if _, err := e.appendEventAs(ctx, e.session, event.TypeSessionEnded, "", payload); err != nil {
		return err
	}
	e.session = ""
	return nil
}

// ActiveSessionID returns the current session ID, or empty when none.
func (e *Engine) ActiveSessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// RecordDecision captures a creative decision and the entities it
// touches, returning the decision ID.
func (e *Engine) RecordDecision(ctx context.Context, summary, reason string, entityIDs []string) (string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.RecordDecision")
	defer span.End()

	e.swapMu.RLock()
	defer e.swapMu.RUnlock()

	if strings.TrimSpace(summary) == "" {
		return "", errors.New(errors.CodeSchemaInvalidField, "decision summary is required")
	}
	for _, entityID := range entityIDs {
		if !e.store.Exists(entityID) {
			return "", errors.New(errors.CodeRuleMissingReference, "unknown entity "+entityID)
		}
	}
	raw, err := id.NewID()
	if err != nil {
		return "", err
	}
	decisionID := "dec-" + raw[:12]
	payload := event.DecisionRecordedPayload{
		DecisionID: decisionID,
		Summary:    summary,
		Reason:     reason,
		EntityIDs:  entityIDs,
	}
	if _, err := e.appendEvent(ctx, event.TypeDecisionRecorded, "", payload); err != nil {
		return "", err
	}
	return decisionID, nil
}

// ResolveContradiction closes an open contradiction with a resolution
// note. Resolving an already resolved contradiction fails.
func (e *Engine) ResolveContradiction(ctx context.Context, contradictionID, resolution string, entitiesChanged []string) error {
	ctx, span := e.tracer.Start(ctx, "engine.ResolveContradiction")
	defer span.End()

	e.swapMu.RLock()
	defer e.swapMu.RUnlock()

	con, err := e.ix.ContradictionByID(ctx, contradictionID)
	if err != nil {
		return err
	}
	if con.Status != index.ContradictionOpen {
		return errors.New(errors.CodeContradictionNotOpen, "contradiction "+contradictionID+" is "+con.Status)
	}
	payload := event.ContradictionResolvedPayload{
		ContradictionID: contradictionID,
		Resolution:      resolution,
		EntitiesChanged: entitiesChanged,
	}
	_, err = e.appendEvent(ctx, event.TypeContradictionResolved, "", payload)
	return err
}
