package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.kirha.ai/rewind"
)

func newDownCmd(opts *options) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "down [target]",
		Short: "Roll back applied migrations",
		Long: `Roll back applied migrations. Without --force only the plan is printed.

When the newest migration is a simple one, the schema is reset and the snapshot
named by target (default: the second executed migration) is restored. A failed
restore leaves the schema empty.

Otherwise down scripts run newest first. target may be a version, a full name
or a description; every migration newer than it is rolled back. Without target
only the newest migration is rolled back. A numeric target is compared as a
number, so 003 matches version 3.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target string
			if len(args) == 1 {
				target = args[0]
			}

			migrator, err := opts.openMigrator(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = migrator.Close()
			}()

			result, err := migrator.Rollback(cmd.Context(), rewind.RollbackOptions{Target: target, Force: force})
			if result != nil {
				for _, m := range result.Reverted {
					fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %s\n", m.Name)
				}
			}
			if err != nil {
				return fmt.Errorf("failed to rollback: %w", err)
			}

			if result.Restored != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Restored snapshot %s\n", result.Restored.Filename)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "execute the rollback instead of printing the plan")
	return cmd
}
