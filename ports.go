package rewind

import (
	"context"
	"io"
)

// Tx runs statements inside one rollback step. params is nil for raw
// script bodies.
type Tx interface {
	Exec(ctx context.Context, statement string, params map[string]any) (int64, error)
}

// Session is a short-lived connection scoped to a single step.
type Session interface {
	Transact(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

type Database interface {
	Acquire(ctx context.Context) (Session, error)
	Close() error
}

type Ledger interface {
	GetExecutedMigrations(ctx context.Context) ([]ExecutedMigration, error)
	DeleteLedgerRow(ctx context.Context, tx Tx, version int64) error
}

// Restorer feeds a snapshot to the database's native restore tool.
type Restorer interface {
	Restore(ctx context.Context, snapshot io.Reader, target string) error
}

// Migrator is the rollback surface the CLI drives.
type Migrator interface {
	Plan(ctx context.Context, target string) (Plan, error)
	Rollback(ctx context.Context, opts RollbackOptions) (*Result, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Version(ctx context.Context) (int64, error)
	Snapshots() ([]Backup, error)
	Close() error
}

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
