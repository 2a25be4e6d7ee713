package rewind

import (
	"errors"
	"fmt"
)

var (
	ErrUsage       = errors.New("usage error")
	ErrResolution  = errors.New("resolution error")
	ErrExecution   = errors.New("execution error")
	ErrEnvironment = errors.New("environment error")
)

var (
	ErrNoMigrations        = fmt.Errorf("%w: no migrations found", ErrUsage)
	ErrCatalog             = fmt.Errorf("%w: invalid migration catalog", ErrUsage)
	ErrNothingToRollback   = fmt.Errorf("%w: nothing to roll back", ErrUsage)
	ErrSnapshotUnsupported = fmt.Errorf("%w: snapshot restore is not supported by this backend", ErrUsage)
	ErrInvalidConfig       = fmt.Errorf("%w: invalid configuration", ErrEnvironment)
	ErrDatabaseConnection  = errors.New("database connection error")
	ErrTransactionFailed   = errors.New("transaction failed")
)

// StepError reports a failed rollback step. Steps before Step are committed.
type StepError struct {
	Step      int
	Label     string
	Path      string
	Completed int
	// SchemaReset is set when the schema was dropped before the failure.
	SchemaReset bool
	// ScriptCommitted is set when the down script of Step committed but
	// its ledger row could not be deleted afterwards.
	ScriptCommitted bool
	Err             error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("rollback step %d (%s) failed", e.Step, e.Label)
	if e.Path != "" {
		msg += fmt.Sprintf(" for %s", e.Path)
	}
	switch {
	case e.SchemaReset:
		msg += "; the schema has already been reset and is now empty, restore the snapshot manually"
	case e.ScriptCommitted:
		msg += fmt.Sprintf("; script committed, ledger delete failed, remove the ledger row manually; %d earlier step(s) were committed", e.Completed)
	default:
		msg += fmt.Sprintf("; %d earlier step(s) were committed", e.Completed)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *StepError) Unwrap() []error {
	return []error{ErrExecution, e.Err}
}
