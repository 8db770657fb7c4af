// Package cmd holds the codegraphsync CLI's cobra command tree.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/codegraph-sync/internal/app"
	"github.com/vitaliisemenov/codegraph-sync/internal/config"
)

var configPath string

// NewRootCmd builds the codegraphsync command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "codegraphsync",
		Short: "Ingest and synchronize a code knowledge graph",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config.yaml (defaults and env vars used otherwise)")

	root.AddCommand(newSyncCmd(), newRollbackCmd())
	return root
}

// buildApp loads configuration and wires every engine component, starting
// their background lifecycles. Callers must Close the returned App.
func buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("codegraphsync: load config: %w", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("codegraphsync: build app: %w", err)
	}
	a.Start(ctx)
	return a, nil
}
