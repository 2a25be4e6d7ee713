package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"go.kirha.ai/rewind"
	"gopkg.in/yaml.v3"
)

const defaultMigrationsDir = "./migrations"

type fileConfig struct {
	DatabaseURL    string `yaml:"database_url"`
	MigrationsDir  string `yaml:"migrations_dir"`
	BackupDir      string `yaml:"backup_dir"`
	LedgerTable    string `yaml:"ledger_table"`
	Schema         string `yaml:"schema"`
	Database       string `yaml:"database"`
	RestoreCommand string `yaml:"restore_command"`
	Debug          bool   `yaml:"debug"`
}

// loadConfig layers defaults, the optional YAML file and the environment,
// in that order.
func loadConfig(path string, getenv func(string) string) (rewind.Config, error) {
	fc := fileConfig{MigrationsDir: defaultMigrationsDir}

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return rewind.Config{}, fmt.Errorf("%w: failed to read config %s: %v", rewind.ErrEnvironment, path, err)
		}

		dec := yaml.NewDecoder(bytes.NewReader(content))
		dec.KnownFields(true)
		if err := dec.Decode(&fc); err != nil {
			return rewind.Config{}, fmt.Errorf("%w: failed to parse config %s: %v", rewind.ErrEnvironment, path, err)
		}
	}

	override(&fc.DatabaseURL, getenv("DATABASE_URL"))
	override(&fc.MigrationsDir, getenv("REWIND_MIGRATIONS_DIR"))
	override(&fc.BackupDir, getenv("REWIND_BACKUP_DIR"))
	override(&fc.LedgerTable, getenv("REWIND_LEDGER_TABLE"))
	override(&fc.Schema, getenv("REWIND_SCHEMA"))
	override(&fc.Database, getenv("REWIND_DATABASE"))
	override(&fc.RestoreCommand, getenv("REWIND_RESTORE_COMMAND"))
	if getenv("REWIND_DEBUG") == "true" {
		fc.Debug = true
	}

	if fc.DatabaseURL == "" {
		return rewind.Config{}, fmt.Errorf("%w: DATABASE_URL environment variable is required", rewind.ErrEnvironment)
	}

	if fc.BackupDir == "" {
		fc.BackupDir = filepath.Join(fc.MigrationsDir, "backups")
	}

	return rewind.Config{
		DatabaseURL:    fc.DatabaseURL,
		FallbackUser:   getenv("USER"),
		MigrationsDir:  fc.MigrationsDir,
		BackupDir:      fc.BackupDir,
		LedgerTable:    fc.LedgerTable,
		Schema:         fc.Schema,
		Database:       fc.Database,
		RestoreCommand: fc.RestoreCommand,
		Debug:          fc.Debug,
	}, nil
}

func override(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
