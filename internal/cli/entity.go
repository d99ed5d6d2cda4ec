package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/aveline/canonry/internal/consistency"
	"github.com/aveline/canonry/internal/domain/entity"
	"github.com/aveline/canonry/internal/store"
)

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		fieldArgs []string
		tags      []string
	)
	cmd := &cobra.Command{
		Use:   "create <template> <name>",
		Short: "Create an entity from a template",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			fields, err := parseFieldArgs(fieldArgs)
			if err != nil {
				return err
			}
			doc, result, err := eng.CreateEntity(cmd.Context(), args[0], store.Input{
				Name:   args[1],
				Fields: fields,
				Tags:   tags,
			})
			if err != nil {
				reportRejection(cmd.ErrOrStderr(), result)
				return err
			}
			f := newFormatter(cmd, rootOpts)
			return f.emit(createResult{Entity: doc, Result: result}, func(w io.Writer) {
				fmt.Fprintf(w, "created %s (%s, revision %d)\n", doc.ID, doc.Status, doc.Revision)
				if warnings := result.Warnings(); len(warnings) > 0 {
					fmt.Fprintln(w, "warnings:")
					printFindings(w, warnings)
				}
				if result.SemanticSkipped {
					fmt.Fprintf(w, "semantic check skipped (%s); entity flagged for review\n", result.SkipReason)
				}
			})
		},
	}
	cmd.Flags().StringArrayVar(&fieldArgs, "field", nil, "field value as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag (repeatable)")
	return cmd
}

type createResult struct {
	Entity entity.Entity      `json:"entity"`
	Result consistency.Result `json:"result"`
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <entity-id>",
		Short: "Show an entity document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			doc, err := eng.GetEntity(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			f := newFormatter(cmd, rootOpts)
			return f.emit(doc, func(w io.Writer) {
				fmt.Fprintf(w, "%s  %s (%s, revision %d)\n", doc.ID, doc.Name, doc.Status, doc.Revision)
				for _, claim := range doc.Claims {
					fmt.Fprintf(w, "  - %s\n", claim.Text)
				}
			})
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var entityType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			docs, err := eng.ListEntities(cmd.Context(), entityType)
			if err != nil {
				return err
			}
			f := newFormatter(cmd, rootOpts)
			return f.emit(docs, func(w io.Writer) {
				for _, doc := range docs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", doc.ID, doc.Type, doc.Status, doc.Name)
				}
			})
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "", "filter by entity type")
	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		revision   uint64
		name       string
		fieldArgs  []string
		tags       []string
		summary    string
		reason     string
		decisionID string
	)
	cmd := &cobra.Command{
		Use:   "update <entity-id>",
		Short: "Revise an entity",
		Long: `Revise an entity based on the revision you read. A concurrent
revision fails with STALE_REVISION; re-read and retry.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			fields, err := parseFieldArgs(fieldArgs)
			if err != nil {
				return err
			}
			doc, result, err := eng.UpdateEntity(cmd.Context(), args[0], revision, store.Input{
				Name:          name,
				Fields:        fields,
				Tags:          tags,
				ChangeSummary: summary,
				Reason:        reason,
				DecisionID:    decisionID,
			})
			if err != nil {
				reportRejection(cmd.ErrOrStderr(), result)
				return err
			}
			f := newFormatter(cmd, rootOpts)
			return f.emit(createResult{Entity: doc, Result: result}, func(w io.Writer) {
				fmt.Fprintf(w, "updated %s to revision %d\n", doc.ID, doc.Revision)
				if warnings := result.Warnings(); len(warnings) > 0 {
					fmt.Fprintln(w, "warnings:")
					printFindings(w, warnings)
				}
			})
		},
	}
	cmd.Flags().Uint64Var(&revision, "revision", 0, "revision the update is based on (required)")
	cmd.Flags().StringVar(&name, "name", "", "new entity name")
	cmd.Flags().StringArrayVar(&fieldArgs, "field", nil, "field value as key=value (repeatable; replaces all fields)")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag (repeatable; replaces all tags)")
	cmd.Flags().StringVar(&summary, "summary", "", "what changed")
	cmd.Flags().StringVar(&reason, "reason", "", "why it changed")
	cmd.Flags().StringVar(&decisionID, "decision", "", "decision this revision implements")
	_ = cmd.MarkFlagRequired("revision")
	return cmd
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "status <entity-id> <draft|canon|archived>",
		Short: "Move an entity through its lifecycle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			doc, err := eng.SetEntityStatus(cmd.Context(), args[0], entity.Status(args[1]), reason)
			if err != nil {
				return err
			}
			f := newFormatter(cmd, rootOpts)
			return f.emit(doc, func(w io.Writer) {
				fmt.Fprintf(w, "%s is now %s\n", doc.ID, doc.Status)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the status changed")
	return cmd
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <entity-id>",
		Short: "Show an entity's revision history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			entries, err := eng.RevisionHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			f := newFormatter(cmd, rootOpts)
			return f.emit(entries, func(w io.Writer) {
				for _, entry := range entries {
					line := fmt.Sprintf("r%d", entry.Revision)
					if entry.ChangeSummary != "" {
						line += "  " + entry.ChangeSummary
					}
					if entry.Reason != "" {
						line += "  (" + entry.Reason + ")"
					}
					fmt.Fprintln(w, line)
				}
			})
		},
	}
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		fieldArgs []string
		tags      []string
	)
	cmd := &cobra.Command{
		Use:   "validate <template> <name>",
		Short: "Validate a prospective entity without writing it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			fields, err := parseFieldArgs(fieldArgs)
			if err != nil {
				return err
			}
			result, err := eng.ValidateEntity(cmd.Context(), args[0], store.Input{
				Name:   args[1],
				Fields: fields,
				Tags:   tags,
			})
			if err != nil {
				return err
			}
			f := newFormatter(cmd, rootOpts)
			return f.emit(result, func(w io.Writer) {
				fmt.Fprintf(w, "verdict: %s\n", result.Verdict)
				printFindings(w, result.Findings)
			})
		},
	}
	cmd.Flags().StringArrayVar(&fieldArgs, "field", nil, "field value as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag (repeatable)")
	return cmd
}

// reportRejection prints the findings behind a rejected write.
func reportRejection(w io.Writer, result consistency.Result) {
	fatal := result.Fatal()
	if len(fatal) == 0 {
		return
	}
	fmt.Fprintln(w, "rejected:")
	printFindings(w, fatal)
}
