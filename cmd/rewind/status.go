package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			migrator, err := opts.openMigrator(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = migrator.Close()
			}()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			rows := make([][]string, 0, len(statuses))
			for _, status := range statuses {
				applied := "No"
				appliedAt := "-"
				kind := status.Type.String()

				if status.Applied {
					applied = "Yes"
					if status.AppliedAt != nil {
						appliedAt = status.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				if status.Orphaned {
					kind = "missing"
				} else if kind == "up" {
					kind = "reversible"
				}

				rows = append(rows, []string{
					strconv.FormatInt(status.Version, 10),
					status.Name,
					kind,
					applied,
					appliedAt,
				})
			}

			if err := renderTable([]string{"Version", "Name", "Type", "Applied", "Applied At"}, rows, cmd.OutOrStdout()); err != nil {
				return fmt.Errorf("failed to render status: %w", err)
			}
			return nil
		},
	}
}
