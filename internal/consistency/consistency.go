// Package consistency validates entity documents in three layers:
// structural checks against the template, rule-based checks against the
// rest of the world, and semantic checks delegated to an external
// collaborator. Only the first two layers can block a write.
package consistency

import (
	"context"
	"time"

	"github.com/aveline/canonry/internal/consistency/delegate"
	"github.com/aveline/canonry/internal/domain/entity"
)

// Layer identifies which validation layer produced a finding.
type Layer string

const (
	LayerStructural Layer = "structural"
	LayerRule       Layer = "rule"
	LayerSemantic   Layer = "semantic"
)

// Finding severities. Fatal findings reject the write; warnings allow
// it and may open a contradiction.
const (
	SeverityFatal   = "fatal"
	SeverityWarning = "warning"
)

// Verdict is the outcome of a validation run.
type Verdict string

const (
	VerdictAccepted Verdict = "accepted"
	VerdictRejected Verdict = "rejected"
)

// Finding is one diagnosed problem: which layer and rule flagged it,
// what went wrong, and which entities are involved.
type Finding struct {
	Layer    Layer
	Severity string
	Rule     string
	Field    string
	Message  string
	// EntityIDs lists every entity involved, the validated one first.
	EntityIDs []string
	// Contradiction marks warnings that should open a contradiction.
	Contradiction bool
}

// Result is the outcome of running the full pipeline on one document.
type Result struct {
	Verdict  Verdict
	Findings []Finding
	// SemanticSkipped is set when a configured delegate could not be
	// consulted; the entity should be flagged for review.
	SemanticSkipped bool
	SkipReason      string
}

// Fatal returns the findings that rejected the write.
func (r Result) Fatal() []Finding {
	return r.filter(SeverityFatal)
}

// Warnings returns the non-blocking findings.
func (r Result) Warnings() []Finding {
	return r.filter(SeverityWarning)
}

func (r Result) filter(severity string) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == severity {
			out = append(out, f)
		}
	}
	return out
}

// Catalog is the read surface the rule layer needs. *store.Store
// satisfies it.
type Catalog interface {
	Exists(id string) bool
	Get(id string) (entity.Entity, error)
	List(entityType string) ([]entity.Entity, error)
	Template(templateID string) (entity.Template, bool)
}

// Pipeline runs the three layers in order. Zero-value options give a
// pipeline without a semantic delegate; layers one and two still run.
type Pipeline struct {
	catalog    Catalog
	ranker     Ranker
	checker    delegate.Checker
	timeout    time.Duration
	candidates int
	clock      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithChecker wires a semantic delegate with its per-check timeout.
func WithChecker(c delegate.Checker, timeout time.Duration) Option {
	return func(p *Pipeline) {
		p.checker = c
		p.timeout = timeout
	}
}

// WithRanker replaces the candidate claim ranking strategy.
func WithRanker(r Ranker) Option {
	return func(p *Pipeline) { p.ranker = r }
}

// WithCandidates caps how many existing claims are sent per check.
func WithCandidates(k int) Option {
	return func(p *Pipeline) { p.candidates = k }
}

// WithClock replaces the wall clock, for past-only rule tests.
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) { p.clock = clock }
}

// New creates a Pipeline over the catalog.
func New(catalog Catalog, opts ...Option) *Pipeline {
	p := &Pipeline{
		catalog:    catalog,
		ranker:     KeywordRanker{},
		timeout:    3 * time.Second,
		candidates: 8,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Validate runs the full pipeline on a document. The returned error is
// reserved for infrastructure failures in the catalog; validation
// problems come back as findings.
func (p *Pipeline) Validate(ctx context.Context, doc entity.Entity) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var result Result

	tmpl, ok := p.catalog.Template(doc.TemplateID)
	if !ok {
		result.Findings = append(result.Findings, Finding{
			Layer:     LayerStructural,
			Severity:  SeverityFatal,
			Rule:      "unknown_template",
			Message:   "no template registered with id " + doc.TemplateID,
			EntityIDs: []string{doc.ID},
		})
		result.Verdict = VerdictRejected
		return result, nil
	}

	for _, fe := range entity.ValidateStructure(tmpl, doc) {
		result.Findings = append(result.Findings, Finding{
			Layer:     LayerStructural,
			Severity:  SeverityFatal,
			Rule:      "structure",
			Field:     fe.Field,
			Message:   fe.Message,
			EntityIDs: []string{doc.ID},
		})
	}
	if len(result.Findings) > 0 {
		// Rule and semantic layers assume a well-formed document.
		result.Verdict = VerdictRejected
		return result, nil
	}

	ruleFindings, err := p.checkRules(tmpl, doc)
	if err != nil {
		return Result{}, err
	}
	result.Findings = append(result.Findings, ruleFindings...)
	if len(result.Fatal()) > 0 {
		result.Verdict = VerdictRejected
		return result, nil
	}

	if p.checker != nil {
		p.checkSemantic(ctx, doc, &result)
	}

	if len(result.Fatal()) > 0 {
		result.Verdict = VerdictRejected
	} else {
		result.Verdict = VerdictAccepted
	}
	return result, nil
}
