package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/codegraph-sync/internal/core"
	"github.com/vitaliisemenov/codegraph-sync/internal/syncengine"
)

func newSyncCmd() *cobra.Command {
	var (
		incremental bool
		rootPaths   []string
		rollback    bool
		sessionID   string
	)

	c := &cobra.Command{
		Use:   "sync [paths...]",
		Short: "Run a full or incremental synchronization",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				rootPaths = args
			}

			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			opts := syncengine.StartOptions{
				CreateRollbackPoint: rollback,
				RollbackOnFailure:   rollback,
				SessionID:           sessionID,
			}

			var op *core.SyncOperation
			if incremental {
				events := make([]core.FileChangeEvent, 0, len(rootPaths))
				for _, p := range rootPaths {
					events = append(events, core.FileChangeEvent{Path: p, ChangeType: core.FileChangeModify})
				}
				op, err = a.Coordinator.StartIncremental(cmd.Context(), events, opts)
			} else {
				op, err = a.Coordinator.StartFull(cmd.Context(), rootPaths, opts)
			}
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}

			fmt.Printf("operation %s: %s (entities +%d ~%d -%d, relationships +%d ~%d -%d, %d conflicts)\n",
				op.ID, op.Status,
				op.Counters.EntitiesCreated, op.Counters.EntitiesUpdated, op.Counters.EntitiesDeleted,
				op.Counters.RelationshipsCreated, op.Counters.RelationshipsUpdated, op.Counters.RelationshipsDeleted,
				len(op.Conflicts))
			return nil
		},
	}

	c.Flags().BoolVar(&incremental, "incremental", false, "run an incremental sync instead of a full one")
	c.Flags().StringSliceVar(&rootPaths, "path", nil, "root paths to sync (ignored when positional args are given)")
	c.Flags().BoolVar(&rollback, "rollback-point", false, "create a rollback point before syncing and roll back on failure")
	c.Flags().StringVar(&sessionID, "session", "", "session id to associate with this operation")

	return c
}
