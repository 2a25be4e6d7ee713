package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/spf13/cobra"
	"go.kirha.ai/rewind"
)

var descriptionPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func newCreateCmd(opts *options) *cobra.Command {
	var (
		reversible bool
		ext        string
	)

	cmd := &cobra.Command{
		Use:   "create <description>",
		Short: "Create an empty migration script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description := args[0]
			if !descriptionPattern.MatchString(description) {
				return fmt.Errorf("%w: description %q may only contain letters, digits and underscores", rewind.ErrUsage, description)
			}

			migrationsDir := opts.getenv("REWIND_MIGRATIONS_DIR")
			if migrationsDir == "" {
				migrationsDir = defaultMigrationsDir
			}

			if err := os.MkdirAll(migrationsDir, 0750); err != nil {
				return fmt.Errorf("failed to create migrations directory: %w", err)
			}

			stem := fmt.Sprintf("%d_%s", time.Now().Unix(), description)

			files := map[string]string{
				stem + ext: "-- Simple migration. It can only be rolled back by restoring a snapshot.\n",
			}
			if reversible {
				files = map[string]string{
					stem + ".up" + ext:   "-- Add your up migration statements here\n",
					stem + ".down" + ext: "-- Add your down migration statements here\n",
				}
			}

			for name, content := range files {
				filePath := filepath.Join(migrationsDir, name)
				if err := os.WriteFile(filePath, []byte(content), 0600); err != nil {
					return fmt.Errorf("failed to create migration file: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created migration: %s\n", filePath)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&reversible, "reversible", "r", false, "create an up/down script pair")
	cmd.Flags().StringVar(&ext, "ext", ".sql", "script extension (.sql or .cypher)")
	return cmd
}
