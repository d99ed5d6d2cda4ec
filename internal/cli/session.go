package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// NewSessionCommand creates the session command group.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage creative sessions",
	}
	cmd.AddCommand(newSessionStartCommand(rootOpts))
	cmd.AddCommand(newSessionEndCommand(rootOpts))
	cmd.AddCommand(newSessionListCommand(rootOpts))
	return cmd
}

func newSessionStartCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start <label>",
		Short: "Start a session; later changes are tagged with it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			sessionID, err := eng.StartSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "started %s\n", sessionID)
			return nil
		},
	}
}

func newSessionEndCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "end <summary>",
		Short: "End the active session with a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.EndSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "session ended")
			return nil
		},
	}
}

func newSessionListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			sessions, err := eng.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			f := newFormatter(cmd, rootOpts)
			return f.emit(sessions, func(w io.Writer) {
				for _, s := range sessions {
					state := "ended"
					if s.Active() {
						state = "active"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", s.SessionID, state, s.Label)
				}
			})
		},
	}
}

// NewDecisionCommand creates the decision command.
func NewDecisionCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		reason    string
		entityIDs []string
	)
	cmd := &cobra.Command{
		Use:   "decision <summary>",
		Short: "Record a creative decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			decisionID, err := eng.RecordDecision(cmd.Context(), args[0], reason, entityIDs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %s\n", decisionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the decision was made")
	cmd.Flags().StringArrayVar(&entityIDs, "entity", nil, "entity the decision touches (repeatable)")
	return cmd
}

// NewTimelineCommand creates the timeline command.
func NewTimelineCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		sessionID string
		entityID  string
		since     uint64
	)
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Show the narrative progression of the world",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			entries, err := eng.Progression(cmd.Context(), since, sessionID, entityID)
			if err != nil {
				return err
			}
			f := newFormatter(cmd, rootOpts)
			return f.emit(entries, func(w io.Writer) {
				for _, entry := range entries {
					parts := []string{fmt.Sprintf("#%d", entry.LedgerSeq), entry.Summary}
					if entry.SessionID != "" {
						parts = append(parts, "("+entry.SessionID+")")
					}
					fmt.Fprintln(w, strings.Join(parts, "  "))
				}
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "filter by session")
	cmd.Flags().StringVar(&entityID, "entity", "", "filter by entity")
	cmd.Flags().Uint64Var(&since, "since", 0, "only entries after this ledger sequence")
	return cmd
}

// NewContradictionsCommand creates the contradictions command.
func NewContradictionsCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "contradictions",
		Short: "List open contradictions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			status := "open"
			if all {
				status = ""
			}
			cons, err := eng.Contradictions(cmd.Context(), status)
			if err != nil {
				return err
			}
			f := newFormatter(cmd, rootOpts)
			return f.emit(cons, func(w io.Writer) {
				for _, con := range cons {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", con.ContradictionID, con.Status, con.Severity, con.Description)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include resolved contradictions")
	return cmd
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	var entityIDs []string
	cmd := &cobra.Command{
		Use:   "resolve <contradiction-id> <resolution>",
		Short: "Resolve an open contradiction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.ResolveContradiction(cmd.Context(), args[0], args[1], entityIDs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resolved %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&entityIDs, "entity", nil, "entity changed by the resolution (repeatable)")
	return cmd
}
