package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewBackupCommand creates the backup command group.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, and restore backups",
	}
	cmd.AddCommand(newBackupCreateCommand(rootOpts))
	cmd.AddCommand(newBackupListCommand(rootOpts))
	cmd.AddCommand(newBackupRestoreCommand(rootOpts))
	return cmd
}

func newBackupCreateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Snapshot the world into a verified archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			manifest, err := eng.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			f := newFormatter(cmd, rootOpts)
			return f.emit(manifest, func(w io.Writer) {
				fmt.Fprintf(w, "%s (%d files)\n", manifest.BackupID, len(manifest.Files))
			})
		},
	}
}

func newBackupListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			ids, err := eng.ListBackups()
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
}

func newBackupRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Replace the live world with a verified backup",
		Long: `Replace the live world with a verified backup. The archive is
staged and checked in full before anything is swapped; a corrupt
archive leaves the live data untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			manifest, err := eng.Restore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			f := newFormatter(cmd, rootOpts)
			return f.emit(manifest, func(w io.Writer) {
				fmt.Fprintf(w, "restored %s (%d files)\n", manifest.BackupID, len(manifest.Files))
			})
		},
	}
}

// NewHealthCommand creates the health command.
func NewHealthCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the store, ledger, and indexes against each other",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			report, err := eng.HealthCheck(cmd.Context())
			if err != nil {
				return err
			}
			f := newFormatter(cmd, rootOpts)
			if err := f.emit(report, func(w io.Writer) {
				if report.Healthy {
					fmt.Fprintf(w, "healthy (%d entities)\n", report.Entities)
					return
				}
				fmt.Fprintf(w, "unhealthy: %d finding(s)\n", len(report.Findings))
				for _, finding := range report.Findings {
					fmt.Fprintf(w, "  %s\t%s\n", finding.Code, finding.Message)
				}
			}); err != nil {
				return err
			}
			if !report.Healthy {
				return fmt.Errorf("health check found %d problem(s)", len(report.Findings))
			}
			return nil
		},
	}
}

// NewRepairCommand creates the repair command.
func NewRepairCommand(rootOpts *RootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Rebuild derived state and flag dangling references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			report, err := eng.Repair(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			f := newFormatter(cmd, rootOpts)
			return f.emit(report, func(w io.Writer) {
				verb := "performed"
				if report.DryRun {
					verb = "would perform"
				}
				fmt.Fprintf(w, "%s %d action(s):\n", verb, len(report.Actions))
				for _, action := range report.Actions {
					fmt.Fprintf(w, "  %s\t%s\n", action.Action, action.Detail)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report actions without performing them")
	return cmd
}

// NewReindexCommand creates the reindex command.
func NewReindexCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild every derived index from the ledger and store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.RebuildIndexes(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "indexes rebuilt")
			return nil
		},
	}
}
