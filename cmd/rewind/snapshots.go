package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSnapshotsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots",
		Short: "List schema snapshots available for restore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			migrator, err := opts.openMigrator(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = migrator.Close()
			}()

			backups, err := migrator.Snapshots()
			if err != nil {
				return fmt.Errorf("failed to list snapshots: %w", err)
			}

			if len(backups) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No snapshots found")
				return nil
			}

			rows := make([][]string, 0, len(backups))
			for _, b := range backups {
				rows = append(rows, []string{b.Name, b.Filename})
			}

			if err := renderTable([]string{"Name", "File"}, rows, cmd.OutOrStdout()); err != nil {
				return fmt.Errorf("failed to render snapshots: %w", err)
			}
			return nil
		},
	}
}
