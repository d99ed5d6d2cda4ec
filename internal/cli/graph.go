package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// NewXRefCommand creates the xref command group.
func NewXRefCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xref",
		Short: "Manage cross-references between entities",
	}
	cmd.AddCommand(newXRefAddCommand(rootOpts))
	cmd.AddCommand(newXRefRemoveCommand(rootOpts))
	cmd.AddCommand(newXRefListCommand(rootOpts))
	return cmd
}

func newXRefAddCommand(rootOpts *RootOptions) *cobra.Command {
	var bidirectional bool
	cmd := &cobra.Command{
		Use:   "add <source> <target> <relationship>",
		Short: "Record a relationship between two entities",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.AddCrossReference(cmd.Context(), args[0], args[1], args[2], bidirectional); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s %s %s\n", args[0], args[2], args[1])
			return nil
		},
	}
	cmd.Flags().BoolVar(&bidirectional, "bidirectional", false, "relationship runs both ways")
	return cmd
}

func newXRefRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <source> <target> <relationship>",
		Short: "Remove a recorded relationship",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.RemoveCrossReference(cmd.Context(), args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s %s %s\n", args[0], args[2], args[1])
			return nil
		},
	}
}

func newXRefListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <entity-id>",
		Short: "List relationships touching an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			refs, err := eng.GetCrossReferences(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			f := newFormatter(cmd, rootOpts)
			return f.emit(refs, func(w io.Writer) {
				for _, ref := range refs {
					arrow := "->"
					if ref.Bidirectional {
						arrow = "<->"
					}
					fmt.Fprintf(w, "%s %s %s (%s)\n", ref.SourceEntityID, arrow, ref.TargetEntityID, ref.RelationshipType)
				}
			})
		},
	}
}

// NewPathCommand creates the path command.
func NewPathCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path <from> <to>",
		Short: "Show how two entities are connected",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			path := eng.ShortestPath(args[0], args[1])
			f := newFormatter(cmd, rootOpts)
			return f.emit(path, func(w io.Writer) {
				if path == nil {
					fmt.Fprintln(w, "not connected")
					return
				}
				fmt.Fprintln(w, strings.Join(path, " -> "))
			})
		},
	}
}

// NewNeighborsCommand creates the neighbors command.
func NewNeighborsCommand(rootOpts *RootOptions) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "neighbors <entity-id>",
		Short: "List entities within a relationship radius",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			neighbors := eng.Neighbors(args[0], depth)
			f := newFormatter(cmd, rootOpts)
			return f.emit(neighbors, func(w io.Writer) {
				for _, n := range neighbors {
					fmt.Fprintf(w, "%s\t%d\n", n.EntityID, n.Distance)
				}
			})
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 1, "maximum hops")
	return cmd
}

// NewOrphansCommand creates the orphans command.
func NewOrphansCommand(rootOpts *RootOptions) *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List entities with no relationships",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			if top > 0 {
				ranked := eng.MostConnected(top)
				f := newFormatter(cmd, rootOpts)
				return f.emit(ranked, func(w io.Writer) {
					for _, r := range ranked {
						fmt.Fprintf(w, "%s\t%d\n", r.EntityID, r.Degree)
					}
				})
			}
			orphans := eng.Orphans()
			f := newFormatter(cmd, rootOpts)
			return f.emit(orphans, func(w io.Writer) {
				for _, id := range orphans {
					fmt.Fprintln(w, id)
				}
			})
		},
	}
	cmd.Flags().IntVar(&top, "top", 0, "list the N most connected entities instead")
	return cmd
}
