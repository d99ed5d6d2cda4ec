package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aveline/canonry/internal/consistency"
)

// formatter renders command output as text or indented JSON.
type formatter struct {
	format string
	w      io.Writer
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *formatter {
	return &formatter{format: opts.Format, w: cmd.OutOrStdout()}
}

// emit writes v as JSON, or calls text to render it for humans.
func (f *formatter) emit(v any, text func(w io.Writer)) error {
	if f.format == "json" {
		enc := json.NewEncoder(f.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(f.w)
	return nil
}

// printFindings renders consistency findings under a text header.
func printFindings(w io.Writer, findings []consistency.Finding) {
	for _, finding := range findings {
		entities := ""
		if len(finding.EntityIDs) > 0 {
			entities = " [" + strings.Join(finding.EntityIDs, ", ") + "]"
		}
		fmt.Fprintf(w, "  %s/%s %s: %s%s\n", finding.Layer, finding.Severity, finding.Rule, finding.Message, entities)
	}
}

// parseFieldArgs turns repeated key=value flags into a field map. Values
// that parse as JSON keep their type; everything else stays a string.
func parseFieldArgs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	fields := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid field %q: expected key=value", pair)
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err == nil {
			fields[key] = parsed
			continue
		}
		fields[key] = value
	}
	return fields, nil
}
