package consistency

import (
	"fmt"
	"strings"

	"github.com/aveline/canonry/internal/domain/entity"
)

// checkRules runs the rule layer: referential integrity, reciprocity,
// date ordering, trait exclusion, and exclusive-field collisions.
func (p *Pipeline) checkRules(tmpl entity.Template, doc entity.Entity) ([]Finding, error) {
	var findings []Finding

	refs, err := p.checkReferences(tmpl, doc)
	if err != nil {
		return nil, err
	}
	findings = append(findings, refs...)
	findings = append(findings, p.checkDates(tmpl, doc)...)
	findings = append(findings, checkExclusiveTraits(tmpl, doc)...)

	exclusive, err := p.checkExclusiveFields(tmpl, doc)
	if err != nil {
		return nil, err
	}
	return append(findings, exclusive...), nil
}

func (p *Pipeline) checkReferences(tmpl entity.Template, doc entity.Entity) ([]Finding, error) {
	var findings []Finding
	for _, ref := range tmpl.References(doc) {
		if !p.catalog.Exists(ref.TargetID) {
			findings = append(findings, Finding{
				Layer:     LayerRule,
				Severity:  SeverityFatal,
				Rule:      "missing_reference",
				Message:   fmt.Sprintf("referenced entity %s does not exist", ref.TargetID),
				EntityIDs: []string{doc.ID, ref.TargetID},
			})
			continue
		}
		// The target exists but could not be read; the caller must see
		// the storage failure, not an accepted result.
		target, err := p.catalog.Get(ref.TargetID)
		if err != nil {
			return nil, fmt.Errorf("load referenced entity %s: %w", ref.TargetID, err)
		}
		if f, ok := fieldForRelationship(tmpl, ref.Relationship); ok && f.RefType != "" && target.Type != f.RefType {
			findings = append(findings, Finding{
				Layer:     LayerRule,
				Severity:  SeverityFatal,
				Rule:      "reference_type",
				Field:     f.Name,
				Message:   fmt.Sprintf("%s references %s of type %s, want %s", f.Name, ref.TargetID, target.Type, f.RefType),
				EntityIDs: []string{doc.ID, ref.TargetID},
			})
		}
		if ref.Bidirectional && !declaresReciprocal(p.catalog, target, ref.Relationship) {
			findings = append(findings, Finding{
				Layer:     LayerRule,
				Severity:  SeverityWarning,
				Rule:      "missing_reciprocal",
				Message:   fmt.Sprintf("%s declares no reciprocal %s relationship", ref.TargetID, ref.Relationship),
				EntityIDs: []string{doc.ID, ref.TargetID},
			})
		}
	}
	return findings, nil
}

func fieldForRelationship(tmpl entity.Template, relationship string) (entity.FieldDef, bool) {
	for _, f := range tmpl.Fields {
		if (f.Kind == entity.KindRef || f.Kind == entity.KindRefList) && f.EdgeRelationship() == relationship {
			return f, true
		}
	}
	return entity.FieldDef{}, false
}

func declaresReciprocal(catalog Catalog, target entity.Entity, relationship string) bool {
	tmpl, ok := catalog.Template(target.TemplateID)
	if !ok {
		return false
	}
	for _, f := range tmpl.Fields {
		if (f.Kind == entity.KindRef || f.Kind == entity.KindRefList) &&
			f.Bidirectional && f.EdgeRelationship() == relationship {
			return true
		}
	}
	return false
}

func (p *Pipeline) checkDates(tmpl entity.Template, doc entity.Entity) []Finding {
	var findings []Finding

	for _, pair := range tmpl.Rules.DateOrder {
		if len(pair) != 2 {
			continue
		}
		earlier, err1 := entity.ParseDate(doc.StringField(pair[0]))
		later, err2 := entity.ParseDate(doc.StringField(pair[1]))
		if err1 != nil || err2 != nil {
			// Absent or malformed dates are the structural layer's problem.
			continue
		}
		if earlier.After(later) {
			findings = append(findings, Finding{
				Layer:     LayerRule,
				Severity:  SeverityFatal,
				Rule:      "date_order",
				Field:     pair[0],
				Message:   fmt.Sprintf("%s (%s) is after %s (%s)", pair[0], doc.StringField(pair[0]), pair[1], doc.StringField(pair[1])),
				EntityIDs: []string{doc.ID},
			})
		}
	}

	today := p.clock().UTC()
	for _, field := range tmpl.Rules.PastOnly {
		value, err := entity.ParseDate(doc.StringField(field))
		if err != nil {
			continue
		}
		if value.After(today) {
			findings = append(findings, Finding{
				Layer:     LayerRule,
				Severity:  SeverityFatal,
				Rule:      "past_only",
				Field:     field,
				Message:   fmt.Sprintf("%s (%s) is in the future", field, doc.StringField(field)),
				EntityIDs: []string{doc.ID},
			})
		}
	}
	return findings
}

func checkExclusiveTraits(tmpl entity.Template, doc entity.Entity) []Finding {
	traits := make(map[string]bool)
	for _, f := range tmpl.Fields {
		if f.Kind != entity.KindList {
			continue
		}
		for _, v := range doc.ListField(f.Name) {
			traits[strings.ToLower(strings.TrimSpace(v))] = true
		}
	}

	var findings []Finding
	for _, set := range tmpl.Rules.ExclusiveTraits {
		var present []string
		for _, trait := range set {
			if traits[strings.ToLower(trait)] {
				present = append(present, trait)
			}
		}
		if len(present) > 1 {
			findings = append(findings, Finding{
				Layer:     LayerRule,
				Severity:  SeverityFatal,
				Rule:      "exclusive_traits",
				Message:   fmt.Sprintf("traits %s are mutually exclusive", strings.Join(present, ", ")),
				EntityIDs: []string{doc.ID},
			})
		}
	}
	return findings
}

// checkExclusiveFields flags entities of the same type sharing a value
// in a field declared exclusive, unless both documents carry the
// shared_<field> flag. Collisions are warnings that open a
// contradiction rather than blocking the write.
func (p *Pipeline) checkExclusiveFields(tmpl entity.Template, doc entity.Entity) ([]Finding, error) {
	if len(tmpl.Rules.ExclusiveFields) == 0 {
		return nil, nil
	}
	peers, err := p.catalog.List(doc.Type)
	if err != nil {
		return nil, fmt.Errorf("list %s entities: %w", doc.Type, err)
	}

	var findings []Finding
	for _, field := range tmpl.Rules.ExclusiveFields {
		value := strings.TrimSpace(doc.StringField(field))
		if value == "" {
			continue
		}
		for _, peer := range peers {
			if peer.ID == doc.ID || !strings.EqualFold(strings.TrimSpace(peer.StringField(field)), value) {
				continue
			}
			if sharedFlag(doc, field) && sharedFlag(peer, field) {
				continue
			}
			findings = append(findings, Finding{
				Layer:         LayerRule,
				Severity:      SeverityWarning,
				Rule:          "exclusive_field:" + field,
				Field:         field,
				Message:       fmt.Sprintf("%s %q is already held by %s", field, value, peer.ID),
				EntityIDs:     []string{doc.ID, peer.ID},
				Contradiction: true,
			})
		}
	}
	return findings, nil
}

func sharedFlag(doc entity.Entity, field string) bool {
	flag, ok := doc.Fields["shared_"+field].(bool)
	return ok && flag
}
