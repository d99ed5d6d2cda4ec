package entity

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FieldKind is the declared type of a template field.
type FieldKind string

const (
	KindString  FieldKind = "string"
	KindText    FieldKind = "text"
	KindNumber  FieldKind = "number"
	KindDate    FieldKind = "date"
	KindBool    FieldKind = "bool"
	KindList    FieldKind = "list"
	KindRef     FieldKind = "ref"
	KindRefList FieldKind = "ref_list"
)

// DateLayout is the wire format for date fields.
const DateLayout = "2006-01-02"

// Valid reports whether the kind is known.
func (k FieldKind) Valid() bool {
	switch k {
	case KindString, KindText, KindNumber, KindDate, KindBool, KindList, KindRef, KindRefList:
		return true
	}
	return false
}

// FieldDef declares one template field.
type FieldDef struct {
	Name     string    `yaml:"name"`
	Kind     FieldKind `yaml:"kind"`
	Required bool      `yaml:"required"`
	// RefType restricts ref/ref_list targets to an entity type. Empty allows any.
	RefType string `yaml:"ref_type,omitempty"`
	// Relationship labels the cross-reference edge created from a ref field.
	// Defaults to the field name.
	Relationship string `yaml:"relationship,omitempty"`
	// Bidirectional marks the created edge as reciprocal.
	Bidirectional bool `yaml:"bidirectional,omitempty"`
}

// EdgeRelationship returns the relationship label for edges from this field.
func (f FieldDef) EdgeRelationship() string {
	if strings.TrimSpace(f.Relationship) != "" {
		return f.Relationship
	}
	return f.Name
}

// Rules configures the rule-based consistency layer for a template.
type Rules struct {
	// ExclusiveFields must be unique across entities of the same type unless
	// the shared_<field> flag is set on both documents.
	ExclusiveFields []string `yaml:"exclusive_fields,omitempty"`
	// ExclusiveTraits lists trait sets whose members are mutually exclusive
	// within the traits list field.
	ExclusiveTraits [][]string `yaml:"exclusive_traits,omitempty"`
	// DateOrder lists [earlier, later] date field pairs.
	DateOrder [][]string `yaml:"date_order,omitempty"`
	// PastOnly lists date fields that may not be in the future.
	PastOnly []string `yaml:"past_only,omitempty"`
}

// ClaimRule renders one canon claim from a field value. The format string may
// contain {name} and {value} placeholders.
type ClaimRule struct {
	Field  string `yaml:"field"`
	Format string `yaml:"format"`
}

// Template declares the schema, rules, and claim extraction for one entity type.
type Template struct {
	ID         string      `yaml:"id"`
	EntityType string      `yaml:"entity_type"`
	Fields     []FieldDef  `yaml:"fields"`
	Rules      Rules       `yaml:"rules,omitempty"`
	ClaimRules []ClaimRule `yaml:"claims,omitempty"`
}

// Field looks up a field definition by name.
func (t Template) Field(name string) (FieldDef, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// Reference is a directed cross-reference edge declared by an entity payload.
type Reference struct {
	TargetID      string
	Relationship  string
	Bidirectional bool
}

// References extracts cross-reference edges from a document's ref and
// ref_list fields, in field declaration order.
func (t Template) References(e Entity) []Reference {
	var refs []Reference
	for _, f := range t.Fields {
		switch f.Kind {
		case KindRef:
			target := e.StringField(f.Name)
			if target != "" {
				refs = append(refs, Reference{
					TargetID:      target,
					Relationship:  f.EdgeRelationship(),
					Bidirectional: f.Bidirectional,
				})
			}
		case KindRefList:
			for _, target := range e.ListField(f.Name) {
				if target != "" {
					refs = append(refs, Reference{
						TargetID:      target,
						Relationship:  f.EdgeRelationship(),
						Bidirectional: f.Bidirectional,
					})
				}
			}
		}
	}
	return refs
}

// Validate checks the template declaration itself.
func (t Template) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("template id is required")
	}
	if strings.TrimSpace(t.EntityType) == "" {
		return fmt.Errorf("template %s: entity type is required", t.ID)
	}
	seen := map[string]bool{}
	for _, f := range t.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("template %s: field name is required", t.ID)
		}
		if !f.Kind.Valid() {
			return fmt.Errorf("template %s: field %s has unknown kind %q", t.ID, f.Name, f.Kind)
		}
		if seen[f.Name] {
			return fmt.Errorf("template %s: duplicate field %s", t.ID, f.Name)
		}
		seen[f.Name] = true
	}
	for _, pair := range t.Rules.DateOrder {
		if len(pair) != 2 {
			return fmt.Errorf("template %s: date_order entries need exactly two fields", t.ID)
		}
	}
	return nil
}

// ParseDate parses a date field value in the wire format.
func ParseDate(value string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(value))
}

// LoadTemplates reads every *.yaml template under dir, keyed by template ID.
func LoadTemplates(dir string) (map[string]Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read templates dir: %w", err)
	}
	templates := make(map[string]Template)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", entry.Name(), err)
		}
		tmpl, err := parseTemplate(raw)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", entry.Name(), err)
		}
		if _, ok := templates[tmpl.ID]; ok {
			return nil, fmt.Errorf("duplicate template id %s", tmpl.ID)
		}
		templates[tmpl.ID] = tmpl
	}
	return templates, nil
}

// LoadTemplatesFS reads every *.yaml template from an fs.FS, keyed by ID.
func LoadTemplatesFS(fsys fs.FS) (map[string]Template, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read templates fs: %w", err)
	}
	templates := make(map[string]Template)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		raw, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", entry.Name(), err)
		}
		tmpl, err := parseTemplate(raw)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", entry.Name(), err)
		}
		templates[tmpl.ID] = tmpl
	}
	return templates, nil
}

func parseTemplate(raw []byte) (Template, error) {
	var tmpl Template
	if err := yaml.Unmarshal(raw, &tmpl); err != nil {
		return Template{}, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := tmpl.Validate(); err != nil {
		return Template{}, err
	}
	return tmpl, nil
}
