package consistency

import (
	"context"
	"fmt"

	"github.com/aveline/canonry/internal/consistency/delegate"
	"github.com/aveline/canonry/internal/domain/entity"
)

// checkSemantic consults the delegate with the document's claims and
// the most similar existing ones. Delegate failure of any kind,
// timeout included, degrades to a skip recorded on the result; it
// never blocks the write.
func (p *Pipeline) checkSemantic(ctx context.Context, doc entity.Entity, result *Result) {
	newClaims := claimsOf(doc)
	if len(newClaims) == 0 {
		return
	}

	existing, err := p.existingClaims(doc.ID)
	if err != nil {
		result.SemanticSkipped = true
		result.SkipReason = fmt.Sprintf("gather existing claims: %v", err)
		return
	}
	candidates := p.ranker.Rank(newClaims, existing, p.candidates)
	if len(candidates) == 0 {
		// Nothing comparable in the world yet.
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.checker.Check(checkCtx, delegate.Request{
		NewClaims:               newClaims,
		CandidateExistingClaims: candidates,
	})
	if err != nil {
		result.SemanticSkipped = true
		result.SkipReason = fmt.Sprintf("semantic delegate: %v", err)
		return
	}

	for _, issue := range resp.Issues {
		severity := SeverityWarning
		contradiction := true
		if issue.Severity == delegate.SeverityCritical {
			severity = SeverityFatal
			contradiction = false
		}
		ids := issue.EntitiesInvolved
		if len(ids) == 0 {
			ids = []string{doc.ID}
		}
		result.Findings = append(result.Findings, Finding{
			Layer:         LayerSemantic,
			Severity:      severity,
			Rule:          "semantic:" + issue.Severity,
			Message:       issue.Description,
			EntityIDs:     ids,
			Contradiction: contradiction,
		})
	}
}

func claimsOf(doc entity.Entity) []delegate.Claim {
	out := make([]delegate.Claim, 0, len(doc.Claims))
	for _, c := range doc.Claims {
		out = append(out, delegate.Claim{EntityID: doc.ID, Text: c.Text})
	}
	return out
}

func (p *Pipeline) existingClaims(excludeID string) ([]delegate.Claim, error) {
	docs, err := p.catalog.List("")
	if err != nil {
		return nil, err
	}
	var out []delegate.Claim
	for _, d := range docs {
		if d.ID == excludeID {
			continue
		}
		out = append(out, claimsOf(d)...)
	}
	return out, nil
}
