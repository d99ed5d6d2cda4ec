package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/aveline/canonry/internal/index"
)

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		entityType string
		status     string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over names, tags, descriptions, and claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			hits, err := eng.SearchEntities(cmd.Context(), args[0], index.SearchFilter{
				EntityType: entityType,
				Status:     status,
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			f := newFormatter(cmd, rootOpts)
			return f.emit(hits, func(w io.Writer) {
				for _, hit := range hits {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", hit.EntityID, hit.EntityType, hit.Status, hit.Name)
				}
			})
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "", "filter by entity type")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum hits (default 50)")
	return cmd
}

// NewLookupCommand creates the lookup command.
func NewLookupCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		entityType string
		status     string
	)
	cmd := &cobra.Command{
		Use:   "lookup <field> <value>",
		Short: "Find entities by exact field value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			ids, err := eng.LookupField(cmd.Context(), args[0], args[1], index.SearchFilter{
				EntityType: entityType,
				Status:     status,
			})
			if err != nil {
				return err
			}
			f := newFormatter(cmd, rootOpts)
			return f.emit(ids, func(w io.Writer) {
				for _, id := range ids {
					fmt.Fprintln(w, id)
				}
			})
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "", "filter by entity type")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}
