package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRollbackCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "rollback",
		Short: "Manage and apply rollback points",
	}
	c.AddCommand(newRollbackCreateCmd(), newRollbackListCmd(), newRollbackToCmd())
	return c
}

func newRollbackCreateCmd() *cobra.Command {
	var description, sessionID string

	c := &cobra.Command{
		Use:   "create <name>",
		Short: "Snapshot the current graph as a named rollback point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			point, err := a.Coordinator.CreateRollbackPoint(cmd.Context(), args[0], description, nil, sessionID)
			if err != nil {
				return fmt.Errorf("rollback create: %w", err)
			}
			fmt.Printf("rollback point %s created at %s\n", point.ID, point.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}
	c.Flags().StringVar(&description, "description", "", "free-text description of the rollback point")
	c.Flags().StringVar(&sessionID, "session", "", "session id to associate with this rollback point")
	return c
}

func newRollbackListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored rollback points",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			points, err := a.RollbackStore.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("rollback list: %w", err)
			}
			for _, p := range points {
				fmt.Printf("%s\t%s\t%s\n", p.ID, p.Name, p.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
			}
			return nil
		},
	}
}

func newRollbackToCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "to <rollback-point-id>",
		Short: "Restore the graph to a prior rollback point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			op, err := a.Coordinator.RollbackTo(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("rollback to: %w", err)
			}
			fmt.Printf("rollback operation %s: %s\n", op.ID, op.Status)
			return nil
		},
	}
}
