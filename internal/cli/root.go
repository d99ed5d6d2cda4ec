// Package cli implements the canonry command line interface over the
// engine facade.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aveline/canonry/internal/engine"
	"github.com/aveline/canonry/internal/platform/config"
)

// RootOptions holds global flags shared by every command.
type RootOptions struct {
	DataDir string
	Format  string // "text" | "json"
}

// ValidFormats lists the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand builds the canonry root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "canonry",
		Short: "Canonry - a local-first canon engine for creative worlds",
		Long: `Canonry keeps the canonical facts of a creative world: entities,
their relationships, an append-only history of every change, and a
consistency engine that catches contradictions before they land.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !validFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "world data directory (default $CANONRY_DATA_DIR)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewLookupCommand(opts))
	cmd.AddCommand(NewXRefCommand(opts))
	cmd.AddCommand(NewPathCommand(opts))
	cmd.AddCommand(NewNeighborsCommand(opts))
	cmd.AddCommand(NewOrphansCommand(opts))
	cmd.AddCommand(NewSessionCommand(opts))
	cmd.AddCommand(NewDecisionCommand(opts))
	cmd.AddCommand(NewTimelineCommand(opts))
	cmd.AddCommand(NewContradictionsCommand(opts))
	cmd.AddCommand(NewResolveCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewHealthCommand(opts))
	cmd.AddCommand(NewRepairCommand(opts))
	cmd.AddCommand(NewReindexCommand(opts))

	return cmd
}

func validFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// openEngine loads configuration from the environment, applies flag
// overrides, and opens the engine. Callers must Close it.
func openEngine(cmd *cobra.Command, opts *RootOptions) (*engine.Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	return engine.Open(cmd.Context(), cfg)
}
