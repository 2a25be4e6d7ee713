package rewind

import (
	"context"
	"fmt"
	"io"
)

// Result describes what a rollback did. Reverted lists the reversible
// migrations whose down scripts committed, also on partial failure.
type Result struct {
	Plan     Plan
	Executed bool
	Reverted []ExecutedMigration
	Restored *Backup
}

type executor struct {
	database  Database
	ledger    Ledger
	restorer  Restorer
	catalog   *catalog
	snapshots *SnapshotStore
	logger    Logger
	output    io.Writer

	connection       string
	resetStatement   func(user string) string
	splitLedgerWrite bool
	user             func() (string, error)
}

func (e *executor) execute(ctx context.Context, plan Plan, force bool) (*Result, error) {
	result := &Result{Plan: plan}

	if !force {
		return result, e.report(plan)
	}

	// Steps already started are never interrupted.
	ctx = context.WithoutCancel(ctx)

	var err error
	switch p := plan.(type) {
	case *SnapshotPlan:
		err = e.restoreSnapshot(ctx, p, result)
	case *ReversiblePlan:
		err = e.revert(ctx, p, result)
	default:
		err = fmt.Errorf("unknown rollback plan %T", plan)
	}

	result.Executed = err == nil
	return result, err
}

func (e *executor) report(plan Plan) error {
	var err error
	switch p := plan.(type) {
	case *SnapshotPlan:
		_, err = fmt.Fprintf(e.output,
			"Re-run with --force to execute rollback. This command will reset the schema and restore the following snapshot:\n%s\n",
			p.File)
	case *ReversiblePlan:
		_, err = fmt.Fprintln(e.output, "Re-run with --force to execute rollbacks. This command will run the following rollbacks:")
		for _, step := range p.Steps {
			if err != nil {
				break
			}
			_, err = fmt.Fprintln(e.output, step.File)
		}
	default:
		err = fmt.Errorf("unknown rollback plan %T", plan)
	}
	return err
}

// restoreSnapshot resets the schema, then pipes the backup into the restore
// tool. A failed restore leaves an empty schema behind.
func (e *executor) restoreSnapshot(ctx context.Context, plan *SnapshotPlan, result *Result) error {
	if e.restorer == nil || e.resetStatement == nil {
		return ErrSnapshotUnsupported
	}

	user, err := e.user()
	if err != nil {
		return err
	}

	snapshot, err := e.snapshots.Open(plan.Backup)
	if err != nil {
		return &StepError{Step: 1, Label: "open snapshot", Path: plan.File, Err: err}
	}
	defer snapshot.Close()

	e.logger.Warn("resetting schema", "user", user)
	if err := e.resetSchema(ctx, user); err != nil {
		return &StepError{Step: 1, Label: "reset schema", Err: err}
	}

	e.logger.Info("restoring snapshot", "file", plan.File)
	if err := e.restorer.Restore(ctx, snapshot, e.connection); err != nil {
		e.logger.Error("snapshot restore failed after schema reset", "file", plan.File, "error", err)
		return &StepError{Step: 2, Label: "restore snapshot", Path: plan.File, Completed: 1, SchemaReset: true, Err: err}
	}

	e.logger.Info("successfully restored snapshot", "file", plan.File)
	result.Restored = &plan.Backup
	return nil
}

func (e *executor) resetSchema(ctx context.Context, user string) error {
	session, err := e.database.Acquire(ctx)
	if err != nil {
		return err
	}
	defer e.release(session, "step", "reset schema")

	return session.Transact(ctx, func(tx Tx) error {
		_, err := tx.Exec(ctx, e.resetStatement(user), nil)
		return err
	})
}

func (e *executor) revert(ctx context.Context, plan *ReversiblePlan, result *Result) error {
	for i, step := range plan.Steps {
		e.logger.Info("rolling back migration", "version", step.Migration.Version, "name", step.Migration.Name)

		if committed, err := e.revertStep(ctx, step); err != nil {
			e.logger.Error("rollback stopped", "version", step.Migration.Version, "completed", i, "script_committed", committed, "error", err)
			return &StepError{
				Step:            i + 1,
				Label:           step.Migration.Name,
				Path:            step.File,
				Completed:       i,
				ScriptCommitted: committed,
				Err:             err,
			}
		}

		result.Reverted = append(result.Reverted, step.Migration)
		e.logger.Info("successfully rolled back migration", "version", step.Migration.Version, "name", step.Migration.Name)
	}
	return nil
}

// revertStep runs one down script and drops its ledger row on a session of
// its own. Both happen in a single transaction unless the backend refuses
// data writes after schema changes; then the script commits first and
// scriptCommitted reports a ledger delete that failed afterwards.
func (e *executor) revertStep(ctx context.Context, step RollbackStep) (scriptCommitted bool, err error) {
	body, err := e.catalog.read(step.Script.Path)
	if err != nil {
		return false, err
	}

	session, err := e.database.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer e.release(session, "version", step.Migration.Version)

	runScript := func(tx Tx) error {
		if _, err := tx.Exec(ctx, body, nil); err != nil {
			return fmt.Errorf("failed to run down script: %w", err)
		}
		return nil
	}
	deleteRow := func(tx Tx) error {
		return e.ledger.DeleteLedgerRow(ctx, tx, step.Migration.Version)
	}

	if !e.splitLedgerWrite {
		return false, session.Transact(ctx, func(tx Tx) error {
			if err := runScript(tx); err != nil {
				return err
			}
			return deleteRow(tx)
		})
	}

	if err := session.Transact(ctx, runScript); err != nil {
		return false, err
	}
	if err := session.Transact(ctx, deleteRow); err != nil {
		return true, err
	}
	return false, nil
}

// release closes a session once its transactions are settled. Close
// failures are logged; they never change the outcome of committed work.
func (e *executor) release(session Session, keysAndValues ...any) {
	if err := session.Close(); err != nil {
		e.logger.Warn("failed to release session", append(keysAndValues, "error", err)...)
	}
}
