package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show current migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			migrator, err := opts.openMigrator(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = migrator.Close()
			}()

			version, err := migrator.Version(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get version: %w", err)
			}

			if version == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No migrations applied yet")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Current version: %d\n", version)
			}

			return nil
		},
	}
}
