// Command canonry is the local-first canon engine CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aveline/canonry/internal/cli"
	"github.com/aveline/canonry/internal/platform/config"
	"github.com/aveline/canonry/internal/platform/otel"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		config.Exitf("canonry: %v", err)
	}
	if cfg.OTelEndpoint != "" {
		shutdown, err := otel.Setup(ctx, "canonry", cfg.OTelEndpoint)
		if err != nil {
			fmt.Fprintln(os.Stderr, "canonry: tracing:", err)
		} else {
			defer func() {
				_ = shutdown(context.Background())
			}()
		}
	}

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "canonry:", err)
		os.Exit(1)
	}
}
