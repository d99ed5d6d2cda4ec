package entity

import (
	"fmt"
	"strings"
)

// FieldError describes one structural validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateStructure checks a document payload against its template's
// field/type/required contract. It returns every failure, not just the first.
func ValidateStructure(t Template, e Entity) []FieldError {
	var errs []FieldError

	if strings.TrimSpace(e.Name) == "" {
		errs = append(errs, FieldError{Field: "name", Message: "name is required"})
	}
	if !e.Status.Valid() {
		errs = append(errs, FieldError{Field: "status", Message: fmt.Sprintf("unknown status %q", e.Status)})
	}

	for _, f := range t.Fields {
		value, present := e.Fields[f.Name]
		if !present || value == nil {
			if f.Required {
				errs = append(errs, FieldError{Field: f.Name, Message: "required field is missing"})
			}
			continue
		}
		if err := checkKind(f, value); err != nil {
			errs = append(errs, FieldError{Field: f.Name, Message: err.Error()})
		}
	}

	for name := range e.Fields {
		if _, ok := t.Field(name); ok {
			continue
		}
		if sharedFlagField(t, name) {
			continue
		}
		errs = append(errs, FieldError{Field: name, Message: fmt.Sprintf("field is not declared by template %s", t.ID)})
	}

	return errs
}

// sharedFlagField allows shared_<field> booleans for exclusive-field rules
// without requiring templates to declare them.
func sharedFlagField(t Template, name string) bool {
	if !strings.HasPrefix(name, "shared_") {
		return false
	}
	base := strings.TrimPrefix(name, "shared_")
	for _, f := range t.Rules.ExclusiveFields {
		if f == base {
			return true
		}
	}
	return false
}

func checkKind(f FieldDef, value any) error {
	switch f.Kind {
	case KindString, KindText, KindRef:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected a string, got %T", value)
		}
	case KindDate:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected a %s date string, got %T", DateLayout, value)
		}
		if _, err := ParseDate(s); err != nil {
			return fmt.Errorf("expected a %s date, got %q", DateLayout, s)
		}
	case KindNumber:
		switch value.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("expected a number, got %T", value)
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected a bool, got %T", value)
		}
	case KindList, KindRefList:
		switch list := value.(type) {
		case []string:
		case []any:
			for i, item := range list {
				if _, ok := item.(string); !ok {
					return fmt.Errorf("expected string list items, item %d is %T", i, item)
				}
			}
		default:
			return fmt.Errorf("expected a list of strings, got %T", value)
		}
	}
	return nil
}
