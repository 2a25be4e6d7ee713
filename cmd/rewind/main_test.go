package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.kirha.ai/rewind"
	"go.uber.org/zap"
)

type fakeMigrator struct {
	RollbackFunc  func(ctx context.Context, opts rewind.RollbackOptions) (*rewind.Result, error)
	StatusFunc    func(ctx context.Context) ([]rewind.MigrationStatus, error)
	VersionFunc   func(ctx context.Context) (int64, error)
	SnapshotsFunc func() ([]rewind.Backup, error)

	rollbacks []rewind.RollbackOptions
	closed    bool
}

func (f *fakeMigrator) Plan(ctx context.Context, target string) (rewind.Plan, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeMigrator) Rollback(ctx context.Context, opts rewind.RollbackOptions) (*rewind.Result, error) {
	f.rollbacks = append(f.rollbacks, opts)
	if f.RollbackFunc != nil {
		return f.RollbackFunc(ctx, opts)
	}
	return &rewind.Result{}, nil
}

func (f *fakeMigrator) Status(ctx context.Context) ([]rewind.MigrationStatus, error) {
	if f.StatusFunc != nil {
		return f.StatusFunc(ctx)
	}
	return nil, nil
}

func (f *fakeMigrator) Version(ctx context.Context) (int64, error) {
	if f.VersionFunc != nil {
		return f.VersionFunc(ctx)
	}
	return 0, nil
}

func (f *fakeMigrator) Snapshots() ([]rewind.Backup, error) {
	if f.SnapshotsFunc != nil {
		return f.SnapshotsFunc()
	}
	return nil, nil
}

func (f *fakeMigrator) Close() error {
	f.closed = true
	return nil
}

type harness struct {
	migrator *fakeMigrator
	env      map[string]string
	cfg      *rewind.Config
	out      *bytes.Buffer
}

func newHarness() *harness {
	return &harness{
		migrator: &fakeMigrator{},
		env: map[string]string{
			"DATABASE_URL": "postgres://app@localhost:5432/app",
		},
		out: &bytes.Buffer{},
	}
}

func (h *harness) run(args ...string) error {
	opts := &options{
		getenv: func(key string) string { return h.env[key] },
		open: func(cfg rewind.Config) (rewind.Migrator, error) {
			h.cfg = &cfg
			return h.migrator, nil
		},
		logger: rewind.NewZapLogger(zap.NewNop()),
	}

	cmd := newRootCmd(opts)
	cmd.SetOut(h.out)
	cmd.SetErr(h.out)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "usage", err: rewind.ErrNothingToRollback, want: exitUsage},
		{name: "catalog", err: fmt.Errorf("failed to rollback: %w", rewind.ErrCatalog), want: exitUsage},
		{name: "resolution", err: fmt.Errorf("%w: no executed migration matches target", rewind.ErrResolution), want: exitResolution},
		{name: "environment", err: rewind.ErrInvalidConfig, want: exitEnvironment},
		{name: "step failure", err: fmt.Errorf("failed to rollback: %w", &rewind.StepError{Step: 1, Err: errors.New("boom")}), want: exitExecution},
		{name: "unclassified", err: errors.New("boom"), want: exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestDownCommand(t *testing.T) {
	t.Run("dry run by default", func(t *testing.T) {
		h := newHarness()

		require.NoError(t, h.run("down", "2_add_users"))
		require.Len(t, h.migrator.rollbacks, 1)
		assert.Equal(t, rewind.RollbackOptions{Target: "2_add_users"}, h.migrator.rollbacks[0])
		assert.True(t, h.migrator.closed)
		require.NotNil(t, h.cfg)
		assert.Equal(t, "./migrations", h.cfg.MigrationsDir)
		assert.Equal(t, h.out, h.cfg.Output)
	})

	t.Run("force reports reverted migrations", func(t *testing.T) {
		h := newHarness()
		h.migrator.RollbackFunc = func(ctx context.Context, opts rewind.RollbackOptions) (*rewind.Result, error) {
			return &rewind.Result{
				Executed: true,
				Reverted: []rewind.ExecutedMigration{{Version: 3, Name: "3_orders"}, {Version: 2, Name: "2_add_users"}},
			}, nil
		}

		require.NoError(t, h.run("down", "-f", "1"))
		assert.True(t, h.migrator.rollbacks[0].Force)
		assert.Equal(t, "Rolled back 3_orders\nRolled back 2_add_users\n", h.out.String())
	})

	t.Run("restored snapshot", func(t *testing.T) {
		h := newHarness()
		h.migrator.RollbackFunc = func(ctx context.Context, opts rewind.RollbackOptions) (*rewind.Result, error) {
			return &rewind.Result{Executed: true, Restored: &rewind.Backup{Filename: "2_users.sql.bak", Name: "2_users"}}, nil
		}

		require.NoError(t, h.run("down", "--force"))
		assert.Contains(t, h.out.String(), "Restored snapshot 2_users.sql.bak")
	})

	t.Run("partial failure keeps the progress report", func(t *testing.T) {
		h := newHarness()
		h.migrator.RollbackFunc = func(ctx context.Context, opts rewind.RollbackOptions) (*rewind.Result, error) {
			return &rewind.Result{Reverted: []rewind.ExecutedMigration{{Version: 3, Name: "3_orders"}}},
				&rewind.StepError{Step: 2, Label: "2_add_users", Completed: 1, Err: errors.New("syntax error")}
		}

		err := h.run("down", "-f", "1")
		require.Error(t, err)
		assert.Equal(t, exitExecution, exitCode(err))
		assert.Contains(t, h.out.String(), "Rolled back 3_orders")
	})

	t.Run("missing database URL", func(t *testing.T) {
		h := newHarness()
		delete(h.env, "DATABASE_URL")

		err := h.run("down")
		require.ErrorIs(t, err, rewind.ErrEnvironment)
		assert.Equal(t, exitEnvironment, exitCode(err))
		assert.Nil(t, h.cfg)
	})

	t.Run("help explains numeric targets", func(t *testing.T) {
		h := newHarness()
		require.NoError(t, h.run("down", "--help"))
		assert.Contains(t, h.out.String(), "003 matches version 3")
		assert.Empty(t, h.migrator.rollbacks)
	})

	t.Run("too many arguments", func(t *testing.T) {
		h := newHarness()
		assert.Error(t, h.run("down", "1", "2"))
		assert.Empty(t, h.migrator.rollbacks)
	})
}

func TestStatusCommand(t *testing.T) {
	h := newHarness()
	appliedAt := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	h.migrator.StatusFunc = func(ctx context.Context) ([]rewind.MigrationStatus, error) {
		return []rewind.MigrationStatus{
			{Version: 1, Name: "1_init", Type: rewind.Up, Applied: true, AppliedAt: &appliedAt},
			{Version: 2, Name: "2_seed", Type: rewind.Simple},
			{Version: 9, Name: "9_removed", Applied: true, AppliedAt: &appliedAt, Orphaned: true},
		}, nil
	}

	require.NoError(t, h.run("status"))

	out := h.out.String()
	assert.Contains(t, out, "1_init")
	assert.Contains(t, out, "reversible")
	assert.Contains(t, out, "simple")
	assert.Contains(t, out, "missing")
	assert.Contains(t, out, "2024-03-01 12:30:00")
}

func TestVersionCommand(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("version"))
	assert.Equal(t, "No migrations applied yet\n", h.out.String())

	h = newHarness()
	h.migrator.VersionFunc = func(ctx context.Context) (int64, error) { return 20240101, nil }
	require.NoError(t, h.run("version"))
	assert.Equal(t, "Current version: 20240101\n", h.out.String())
}

func TestSnapshotsCommand(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("snapshots"))
	assert.Equal(t, "No snapshots found\n", h.out.String())

	h = newHarness()
	h.migrator.SnapshotsFunc = func() ([]rewind.Backup, error) {
		return []rewind.Backup{{Filename: "1_init.sql.bak", Name: "1_init"}}, nil
	}
	require.NoError(t, h.run("snapshots"))
	assert.Contains(t, h.out.String(), "1_init.sql.bak")

	h = newHarness()
	h.migrator.SnapshotsFunc = func() ([]rewind.Backup, error) {
		return nil, rewind.ErrSnapshotUnsupported
	}
	err := h.run("snapshots")
	assert.Equal(t, exitUsage, exitCode(err))
}

func TestCreateCommand(t *testing.T) {
	t.Run("reversible pair", func(t *testing.T) {
		h := newHarness()
		dir := t.TempDir()
		h.env["REWIND_MIGRATIONS_DIR"] = dir

		require.NoError(t, h.run("create", "add_users", "--reversible"))

		ups, err := filepath.Glob(filepath.Join(dir, "*_add_users.up.sql"))
		require.NoError(t, err)
		assert.Len(t, ups, 1)

		downs, err := filepath.Glob(filepath.Join(dir, "*_add_users.down.sql"))
		require.NoError(t, err)
		assert.Len(t, downs, 1)
	})

	t.Run("simple cypher script", func(t *testing.T) {
		h := newHarness()
		dir := t.TempDir()
		h.env["REWIND_MIGRATIONS_DIR"] = dir

		require.NoError(t, h.run("create", "seed", "--ext", ".cypher"))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Regexp(t, `^\d+_seed\.cypher$`, entries[0].Name())
	})

	t.Run("invalid description", func(t *testing.T) {
		h := newHarness()
		h.env["REWIND_MIGRATIONS_DIR"] = t.TempDir()

		err := h.run("create", "add users")
		require.ErrorIs(t, err, rewind.ErrUsage)
		assert.Equal(t, exitUsage, exitCode(err))
	})
}
