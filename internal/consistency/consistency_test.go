package consistency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aveline/canonry/internal/consistency/delegate"
	"github.com/aveline/canonry/internal/domain/entity"
	perrors "github.com/aveline/canonry/internal/platform/errors"
)

// fakeCatalog is an in-memory Catalog for pipeline tests.
type fakeCatalog struct {
	templates map[string]entity.Template
	docs      map[string]entity.Entity
}

func newFakeCatalog(templates ...entity.Template) *fakeCatalog {
	c := &fakeCatalog{
		templates: make(map[string]entity.Template),
		docs:      make(map[string]entity.Entity),
	}
	for _, t := range templates {
		c.templates[t.ID] = t
	}
	return c
}

func (c *fakeCatalog) add(doc entity.Entity) { c.docs[doc.ID] = doc }

func (c *fakeCatalog) Exists(id string) bool {
	_, ok := c.docs[id]
	return ok
}

func (c *fakeCatalog) Get(id string) (entity.Entity, error) {
	doc, ok := c.docs[id]
	if !ok {
		return entity.Entity{}, errors.New("not found: " + id)
	}
	return doc, nil
}

func (c *fakeCatalog) List(entityType string) ([]entity.Entity, error) {
	var out []entity.Entity
	for _, doc := range c.docs {
		if entityType == "" || doc.Type == entityType {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (c *fakeCatalog) Template(templateID string) (entity.Template, bool) {
	t, ok := c.templates[templateID]
	return t, ok
}

func godTemplate() entity.Template {
	return entity.Template{
		ID:         "god",
		EntityType: "god",
		Fields: []entity.FieldDef{
			{Name: "domain", Kind: entity.KindString, Required: true},
			{Name: "traits", Kind: entity.KindList},
			{Name: "born_on", Kind: entity.KindDate},
			{Name: "ascended_on", Kind: entity.KindDate},
			{Name: "patron_of", Kind: entity.KindRef, RefType: "place", Relationship: "patron_of"},
			{Name: "allies", Kind: entity.KindRefList, RefType: "god", Relationship: "allied_with", Bidirectional: true},
		},
		Rules: entity.Rules{
			ExclusiveFields: []string{"domain"},
			ExclusiveTraits: [][]string{{"mortal", "immortal"}},
			DateOrder:       [][]string{{"born_on", "ascended_on"}},
			PastOnly:        []string{"born_on"},
		},
		ClaimRules: []entity.ClaimRule{
			{Field: "domain", Format: "{name}'s domain is {value}"},
		},
	}
}

func placeTemplate() entity.Template {
	return entity.Template{
		ID:         "place",
		EntityType: "place",
		Fields: []entity.FieldDef{
			{Name: "region", Kind: entity.KindString},
		},
	}
}

func godDoc(id, name, domain string, fields map[string]any) entity.Entity {
	all := map[string]any{"domain": domain}
	for k, v := range fields {
		all[k] = v
	}
	doc := entity.Entity{
		ID:         id,
		Type:       "god",
		TemplateID: "god",
		Status:     entity.StatusDraft,
		Name:       name,
		Fields:     all,
		Revision:   1,
	}
	doc.Claims = entity.ExtractClaims(godTemplate(), doc)
	return doc
}

func TestStructuralFailureRejects(t *testing.T) {
	catalog := newFakeCatalog(godTemplate())
	p := New(catalog)

	doc := godDoc("god:x-1", "X", "storms", map[string]any{"unknown_field": "y"})
	result, err := p.Validate(context.Background(), doc)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Verdict != VerdictRejected {
		t.Fatalf("verdict = %s", result.Verdict)
	}
	if len(result.Fatal()) == 0 || result.Fatal()[0].Layer != LayerStructural {
		t.Fatalf("findings = %+v", result.Findings)
	}
}

func TestUnknownTemplateRejects(t *testing.T) {
	p := New(newFakeCatalog())

	result, err := p.Validate(context.Background(), entity.Entity{ID: "god:x-1", TemplateID: "god", Name: "X"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Verdict != VerdictRejected || result.Fatal()[0].Rule != "unknown_template" {
		t.Fatalf("result = %+v", result)
	}
}

func TestMissingReferenceIsFatal(t *testing.T) {
	catalog := newFakeCatalog(godTemplate(), placeTemplate())
	p := New(catalog)

	doc := godDoc("god:x-1", "X", "storms", map[string]any{"patron_of": "place:nowhere-9"})
	result, err := p.Validate(context.Background(), doc)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Verdict != VerdictRejected {
		t.Fatalf("verdict = %s", result.Verdict)
	}
	f := result.Fatal()[0]
	if f.Rule != "missing_reference" || len(f.EntityIDs) != 2 || f.EntityIDs[1] != "place:nowhere-9" {
		t.Fatalf("finding = %+v", f)
	}
}

// failingCatalog reports a target as existing but fails to load it.
type failingCatalog struct {
	*fakeCatalog
	failID string
	getErr error
}

func (c *failingCatalog) Exists(id string) bool {
	return id == c.failID || c.fakeCatalog.Exists(id)
}

func (c *failingCatalog) Get(id string) (entity.Entity, error) {
	if id == c.failID {
		return entity.Entity{}, c.getErr
	}
	return c.fakeCatalog.Get(id)
}

func TestUnreadableReferencePropagatesError(t *testing.T) {
	getErr := perrors.New(perrors.CodeStorageIO, "read entity file")
	catalog := &failingCatalog{
		fakeCatalog: newFakeCatalog(godTemplate(), placeTemplate()),
		failID:      "place:ruined-3",
		getErr:      getErr,
	}
	p := New(catalog)

	doc := godDoc("god:x-1", "X", "storms", map[string]any{"patron_of": "place:ruined-3"})
	_, err := p.Validate(context.Background(), doc)
	if err == nil {
		t.Fatal("expected storage error, got accepted result")
	}
	if !errors.Is(err, getErr) {
		t.Fatalf("err = %v, want wrapped %v", err, getErr)
	}
}

func TestReferenceTypeMismatch(t *testing.T) {
	catalog := newFakeCatalog(godTemplate(), placeTemplate())
	catalog.add(godDoc("god:other-2", "Other", "tides", nil))
	p := New(catalog)

	doc := godDoc("god:x-1", "X", "storms", map[string]any{"patron_of": "god:other-2"})
	result, err := p.Validate(context.Background(), doc)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Verdict != VerdictRejected || result.Fatal()[0].Rule != "reference_type" {
		t.Fatalf("result = %+v", result)
	}
}

func TestMissingReciprocalIsWarning(t *testing.T) {
	// The place template declares no bidirectional allied_with field, so
	// pointing an ally at a place-like god template without it warns.
	noReciprocal := godTemplate()
	noReciprocal.Fields = noReciprocal.Fields[:4] // drop ref fields
	noReciprocal.ID = "elder_god"
	catalog := newFakeCatalog(godTemplate(), noReciprocal)

	other := godDoc("god:other-2", "Other", "tides", nil)
	other.TemplateID = "elder_god"
	catalog.add(other)
	p := New(catalog)

	doc := godDoc("god:x-1", "X", "storms", map[string]any{"allies": []any{"god:other-2"}})
	result, err := p.Validate(context.Background(), doc)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Verdict != VerdictAccepted {
		t.Fatalf("verdict = %s, findings %+v", result.Verdict, result.Findings)
	}
	warnings := result.Warnings()
	if len(warnings) != 1 || warnings[0].Rule != "missing_reciprocal" {
		t.Fatalf("warnings = %+v", warnings)
	}
}

func TestDateRules(t *testing.T) {
	catalog := newFakeCatalog(godTemplate())
	clock := func() time.Time { return time.Date(1000, 1, 1, 0, 0, 0, 0, time.UTC) }
	p := New(catalog, WithClock(clock))

	doc := godDoc("god:x-1", "X", "storms", map[string]any{
		"born_on": "0500-01-01", "ascended_on": "0400-01-01",
	})
	result, err := p.Validate(context.Background(), doc)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Verdict != VerdictRejected || result.Fatal()[0].Rule != "date_order" {
		t.Fatalf("result = %+v", result)
	}

	doc = godDoc("god:x-1", "X", "storms", map[string]any{"born_on": "1500-01-01"})
	result, err = p.Validate(context.Background(), doc)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Verdict != VerdictRejected || result.Fatal()[0].Rule != "past_only" {
		t.Fatalf("future date result = %+v", result)
	}
}

func TestExclusiveTraits(t *testing.T) {
	catalog := newFakeCatalog(godTemplate())
	p := New(catalog)

	doc := godDoc("god:x-1", "X", "storms", map[string]any{"traits": []any{"mortal", "immortal"}})
	result, err := p.Validate(context.Background(), doc)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Verdict != VerdictRejected || result.Fatal()[0].Rule != "exclusive_traits" {
		t.Fatalf("result = %+v", result)
	}
}

// Two gods with the same domain and no shared flag: the write is
// accepted with a warning finding that opens a contradiction naming
// both entities.
func TestExclusiveFieldCollision(t *testing.T) {
	catalog := newFakeCatalog(godTemplate())
	catalog.add(godDoc("god:thorin-1", "Thorin", "storms", nil))
	p := New(catalog)

	doc := godDoc("god:kael-2", "Kael", "storms", nil)
	result, err := p.Validate(context.Background(), doc)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Verdict != VerdictAccepted {
		t.Fatalf("verdict = %s", result.Verdict)
	}
	warnings := result.Warnings()
	if len(warnings) != 1 {
		t.Fatalf("warnings = %+v", warnings)
	}
	w := warnings[0]
	if w.Rule != "exclusive_field:domain" || !w.Contradiction {
		t.Fatalf("warning = %+v", w)
	}
	if len(w.EntityIDs) != 2 || w.EntityIDs[0] != "god:kael-2" || w.EntityIDs[1] != "god:thorin-1" {
		t.Fatalf("entity ids = %v", w.EntityIDs)
	}
}

func TestExclusiveFieldSharedFlag(t *testing.T) {
	catalog := newFakeCatalog(godTemplate())
	catalog.add(godDoc("god:thorin-1", "Thorin", "storms", map[string]any{"shared_domain": true}))
	p := New(catalog)

	doc := godDoc("god:kael-2", "Kael", "storms", map[string]any{"shared_domain": true})
	result, err := p.Validate(context.Background(), doc)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(result.Warnings()) != 0 {
		t.Fatalf("shared flag still warned: %+v", result.Warnings())
	}

	// One-sided flags do not suppress the collision.
	doc = godDoc("god:vey-3", "Vey", "storms", nil)
	result, err = p.Validate(context.Background(), doc)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(result.Warnings()) == 0 {
		t.Fatal("one-sided shared flag suppressed the warning")
	}
}

func TestSemanticCriticalBlocks(t *testing.T) {
	catalog := newFakeCatalog(godTemplate())
	catalog.add(godDoc("god:thorin-1", "Thorin", "storms", map[string]any{"shared_domain": true}))

	checker := &delegate.Static{Response: delegate.Response{Issues: []delegate.Issue{{
		Severity:         delegate.SeverityCritical,
		Description:      "storm domain already held",
		EntitiesInvolved: []string{"god:kael-2", "god:thorin-1"},
	}}}}
	p := New(catalog, WithChecker(checker, time.Second))

	doc := godDoc("god:kael-2", "Kael", "storms", map[string]any{"shared_domain": true})
	result, err := p.Validate(context.Background(), doc)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Verdict != VerdictRejected {
		t.Fatalf("verdict = %s", result.Verdict)
	}
	if checker.Calls != 1 {
		t.Fatalf("delegate calls = %d", checker.Calls)
	}
	if len(checker.LastRequest.CandidateExistingClaims) == 0 {
		t.Fatal("no candidate claims sent to delegate")
	}
}

func TestSemanticWarningAccepts(t *testing.T) {
	catalog := newFakeCatalog(godTemplate())
	catalog.add(godDoc("god:thorin-1", "Thorin", "storms", map[string]any{"shared_domain": true}))

	checker := &delegate.Static{Response: delegate.Response{Issues: []delegate.Issue{{
		Severity:    delegate.SeverityWarning,
		Description: "domains are close",
	}}}}
	p := New(catalog, WithChecker(checker, time.Second))

	doc := godDoc("god:kael-2", "Kael", "storms", map[string]any{"shared_domain": true})
	result, err := p.Validate(context.Background(), doc)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Verdict != VerdictAccepted {
		t.Fatalf("verdict = %s", result.Verdict)
	}
	warnings := result.Warnings()
	if len(warnings) != 1 || !warnings[0].Contradiction {
		t.Fatalf("warnings = %+v", warnings)
	}
}

func TestSemanticTimeoutDegradesToSkip(t *testing.T) {
	catalog := newFakeCatalog(godTemplate())
	catalog.add(godDoc("god:thorin-1", "Thorin", "storms", map[string]any{"shared_domain": true}))

	checker := &delegate.Static{Delay: 200 * time.Millisecond}
	p := New(catalog, WithChecker(checker, 10*time.Millisecond))

	doc := godDoc("god:kael-2", "Kael", "storms", map[string]any{"shared_domain": true})
	result, err := p.Validate(context.Background(), doc)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Verdict != VerdictAccepted {
		t.Fatalf("verdict = %s", result.Verdict)
	}
	if !result.SemanticSkipped || result.SkipReason == "" {
		t.Fatalf("skip not recorded: %+v", result)
	}
}

func TestSemanticSkippedWhenNoCandidates(t *testing.T) {
	catalog := newFakeCatalog(godTemplate())
	checker := &delegate.Static{}
	p := New(catalog, WithChecker(checker, time.Second))

	// Nothing else exists, so there is nothing to compare against.
	doc := godDoc("god:x-1", "X", "storms", nil)
	result, err := p.Validate(context.Background(), doc)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Verdict != VerdictAccepted || result.SemanticSkipped {
		t.Fatalf("result = %+v", result)
	}
	if checker.Calls != 0 {
		t.Fatalf("delegate called with no candidates")
	}
}
