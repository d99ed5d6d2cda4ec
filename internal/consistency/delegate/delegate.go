// Package delegate defines the narrow contract between the consistency
// engine and the external semantic collaborator. Only claims cross this
// boundary, never full documents.
package delegate

import "context"

// Issue severities. Critical blocks a write; warning allows it but
// opens a contradiction.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Claim is one atomic factual statement about an entity.
type Claim struct {
	EntityID string `json:"entity_id"`
	Text     string `json:"text"`
}

// Request carries the new entity's claims and the most similar existing
// claims. Nothing else is sent to the delegate.
type Request struct {
	NewClaims               []Claim `json:"new_claims"`
	CandidateExistingClaims []Claim `json:"candidate_existing_claims"`
}

// Issue is one semantic conflict the delegate found.
type Issue struct {
	Severity         string   `json:"severity"`
	Description      string   `json:"description"`
	EntitiesInvolved []string `json:"entities_involved"`
}

// Response is the delegate's verdict.
type Response struct {
	Issues []Issue `json:"issues"`
}

// Checker is implemented by semantic delegates. A Checker must honor
// context cancellation; callers bound every Check with a timeout and
// treat failure as a skip, never a block.
type Checker interface {
	Check(ctx context.Context, req Request) (Response, error)
}
