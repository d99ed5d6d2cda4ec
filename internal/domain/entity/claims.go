package entity

import (
	"fmt"
	"sort"
	"strings"
)

// ExtractorFunc derives canon claims from a document. Extractors must be
// deterministic in the document content so ledger replay reproduces claims
// byte for byte.
type ExtractorFunc func(Template, Entity) []Claim

// ExtractorRegistry resolves the claim extraction strategy for a template ID
// at registration time. Unregistered templates fall back to the default
// rule-driven extractor.
type ExtractorRegistry struct {
	byTemplate map[string]ExtractorFunc
	fallback   ExtractorFunc
}

// NewExtractorRegistry creates a registry with the default extractor.
func NewExtractorRegistry() *ExtractorRegistry {
	return &ExtractorRegistry{
		byTemplate: make(map[string]ExtractorFunc),
		fallback:   ExtractClaims,
	}
}

// Register installs a strategy for one template ID, replacing any previous one.
func (r *ExtractorRegistry) Register(templateID string, fn ExtractorFunc) {
	if r == nil || fn == nil || strings.TrimSpace(templateID) == "" {
		return
	}
	r.byTemplate[templateID] = fn
}

// Resolve returns the strategy for a template ID.
func (r *ExtractorRegistry) Resolve(templateID string) ExtractorFunc {
	if r == nil {
		return ExtractClaims
	}
	if fn, ok := r.byTemplate[templateID]; ok {
		return fn
	}
	return r.fallback
}

// ExtractClaims is the default strategy: it renders the template's claim
// rules against present field values and attaches the referenced entity IDs
// declared by the document's ref fields.
func ExtractClaims(t Template, e Entity) []Claim {
	refs := t.References(e)
	refIDs := make([]string, 0, len(refs))
	seen := map[string]bool{}
	for _, r := range refs {
		if !seen[r.TargetID] {
			refIDs = append(refIDs, r.TargetID)
			seen[r.TargetID] = true
		}
	}
	sort.Strings(refIDs)

	var claims []Claim
	for _, rule := range t.ClaimRules {
		def, ok := t.Field(rule.Field)
		if !ok {
			continue
		}
		for _, value := range fieldClaimValues(def, e) {
			text := renderClaim(rule.Format, e.Name, value)
			if text == "" {
				continue
			}
			claim := Claim{Text: text}
			if def.Kind == KindRef || def.Kind == KindRefList {
				claim.ReferencedEntityIDs = []string{value}
			} else if len(refIDs) > 0 {
				claim.ReferencedEntityIDs = append([]string(nil), refIDs...)
			}
			claims = append(claims, claim)
		}
	}
	return claims
}

func fieldClaimValues(def FieldDef, e Entity) []string {
	switch def.Kind {
	case KindList, KindRefList:
		return e.ListField(def.Name)
	case KindNumber:
		if raw, ok := e.Fields[def.Name]; ok {
			return []string{fmt.Sprintf("%v", raw)}
		}
		return nil
	case KindBool:
		if raw, ok := e.Fields[def.Name].(bool); ok {
			return []string{fmt.Sprintf("%t", raw)}
		}
		return nil
	default:
		if value := e.StringField(def.Name); value != "" {
			return []string{value}
		}
		return nil
	}
}

func renderClaim(format, name, value string) string {
	if strings.TrimSpace(format) == "" {
		format = "{name}: {value}"
	}
	out := strings.ReplaceAll(format, "{name}", name)
	out = strings.ReplaceAll(out, "{value}", value)
	return strings.TrimSpace(out)
}
