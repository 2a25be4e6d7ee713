package rewind

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
)

const (
	DefaultLedgerTable = "schema_migrations"
	DefaultSchema      = "public"
)

type Config struct {
	// DatabaseURL selects the backend by scheme: postgres(ql):// or
	// neo4j/bolt variants.
	DatabaseURL string `validate:"required"`
	// FallbackUser owns the recreated schema when DatabaseURL has no user.
	FallbackUser string

	MigrationsDir string
	MigrationsFS  fs.FS
	BackupDir     string
	BackupFS      fs.FS

	LedgerTable    string `validate:"required,max=63"`
	Schema         string `validate:"required,max=63"`
	Database       string
	RestoreCommand string

	// Debug logs every SQL statement.
	Debug  bool
	Output io.Writer
	Logger Logger
}

// Backend bundles what a database flavour provides to the engine.
type Backend struct {
	Database Database
	Ledger   Ledger
	// Restorer and ResetStatement are nil when snapshots are unsupported.
	Restorer       Restorer
	ResetStatement func(user string) string
	ScriptExt      string
	// SplitLedgerWrite commits each down script before deleting its ledger
	// row in a second transaction, for databases that refuse data writes
	// after schema changes in the same transaction.
	SplitLedgerWrite bool
}

type RollbackOptions struct {
	Target string
	// Force executes the plan. Without it the plan is only reported.
	Force bool
}

type Engine struct {
	cfg       Config
	backend   Backend
	catalog   *catalog
	snapshots *SnapshotStore
	planner   *planner
	executor  *executor
	logger    Logger
}

var _ Migrator = (*Engine)(nil)

var validate = validator.New()

func New(cfg Config) (*Engine, error) {
	cfg = withDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: unparsable database URL: %v", ErrInvalidConfig, err)
	}

	var backend Backend
	switch {
	case u.Scheme == "postgres" || u.Scheme == "postgresql":
		backend, err = openPostgres(cfg, cfg.Logger)
	case isNeo4jScheme(u.Scheme):
		backend, err = openNeo4j(cfg, u, cfg.Logger)
	default:
		return nil, fmt.Errorf("%w: unsupported database scheme %q", ErrInvalidConfig, u.Scheme)
	}
	if err != nil {
		return nil, err
	}

	return NewWithBackend(backend, cfg)
}

func NewWithBackend(backend Backend, cfg Config) (*Engine, error) {
	cfg = withDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	ext := backend.ScriptExt
	if ext == "" {
		ext = ".sql"
	}

	migrationsFS, migrationsDir, migrationsRoot := resolveFS(cfg.MigrationsFS, cfg.MigrationsDir)

	var snapshots *SnapshotStore
	if cfg.BackupFS != nil || cfg.BackupDir != "" {
		backupFS, backupDir, backupRoot := resolveFS(cfg.BackupFS, cfg.BackupDir)
		location := backupRoot
		if location == "" {
			location = backupDir
		}
		snapshots = NewSnapshotStore(backupFS, backupDir, location)
	}

	c := newCatalog(migrationsFS, migrationsDir, ext)

	e := &Engine{
		cfg:       cfg,
		backend:   backend,
		catalog:   c,
		snapshots: snapshots,
		logger:    cfg.Logger,
		planner: &planner{
			snapshots:  snapshots,
			canRestore: backend.Restorer != nil && backend.ResetStatement != nil,
			scriptPath: func(m Migration) string {
				if migrationsRoot == "" {
					return m.Path
				}
				return filepath.Join(migrationsRoot, filepath.FromSlash(m.Path))
			},
		},
	}

	e.executor = &executor{
		database:         backend.Database,
		ledger:           backend.Ledger,
		restorer:         backend.Restorer,
		catalog:          c,
		snapshots:        snapshots,
		logger:           cfg.Logger,
		output:           cfg.Output,
		connection:       cfg.DatabaseURL,
		resetStatement:   backend.ResetStatement,
		splitLedgerWrite: backend.SplitLedgerWrite,
		user: func() (string, error) {
			return databaseUser(cfg.DatabaseURL, cfg.FallbackUser)
		},
	}

	return e, nil
}

func withDefaults(cfg Config) Config {
	if cfg.LedgerTable == "" {
		cfg.LedgerTable = DefaultLedgerTable
	}
	if cfg.Schema == "" {
		cfg.Schema = DefaultSchema
	}
	if cfg.Logger == nil {
		cfg.Logger = newDefaultLogger()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	return cfg
}

func validateConfig(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	// Host-less socket URLs such as postgres:///app are valid.
	if u, err := url.Parse(cfg.DatabaseURL); err != nil || u.Scheme == "" {
		return fmt.Errorf("%w: database URL %q has no scheme", ErrInvalidConfig, cfg.DatabaseURL)
	}

	if cfg.MigrationsDir == "" && cfg.MigrationsFS == nil {
		return fmt.Errorf("%w: either MigrationsDir or MigrationsFS must be provided", ErrInvalidConfig)
	}

	return nil
}

// resolveFS returns the filesystem, the directory inside it and the OS
// root used to display paths ("" for caller supplied filesystems).
func resolveFS(filesystem fs.FS, dir string) (fs.FS, string, string) {
	if filesystem != nil {
		if dir == "" {
			dir = "."
		}
		return filesystem, dir, ""
	}
	return os.DirFS(dir), ".", dir
}

// databaseUser prefers the user embedded in the connection URL.
func databaseUser(databaseURL, fallback string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("%w: unparsable database URL: %v", ErrEnvironment, err)
	}

	if u.User != nil && u.User.Username() != "" {
		return u.User.Username(), nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("%w: database URL has no user and no fallback user is set", ErrEnvironment)
}

func (e *Engine) load(ctx context.Context) ([]Migration, []ExecutedMigration, error) {
	migrations, err := e.catalog.load()
	if err != nil {
		return nil, nil, err
	}

	executed, err := e.backend.Ledger.GetExecutedMigrations(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	return migrations, executed, nil
}

func (e *Engine) Plan(ctx context.Context, target string) (Plan, error) {
	migrations, executed, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	return e.planner.plan(migrations, executed, target)
}

// Rollback plans and, with opts.Force, executes the rollback. On partial
// failure the returned Result still lists what was reverted.
func (e *Engine) Rollback(ctx context.Context, opts RollbackOptions) (*Result, error) {
	plan, err := e.Plan(ctx, opts.Target)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("planned rollback", "strategy", plan.Strategy().String(), "target", opts.Target, "force", opts.Force)
	return e.executor.execute(ctx, plan, opts.Force)
}

func (e *Engine) Status(ctx context.Context) ([]MigrationStatus, error) {
	migrations, executed, err := e.load(ctx)
	if err != nil {
		return nil, err
	}

	appliedMap := make(map[int64]ExecutedMigration)
	for _, record := range executed {
		appliedMap[record.Version] = record
	}

	var statuses []MigrationStatus
	known := make(map[int64]bool)
	for _, migration := range FilterByType(migrations, Simple, Up) {
		known[migration.Version] = true
		status := MigrationStatus{
			Version:  migration.Version,
			Name:     migration.Name,
			Type:     migration.Type,
			Checksum: migration.Checksum,
		}

		if record, exists := appliedMap[migration.Version]; exists {
			status.Applied = true
			appliedAt := record.AppliedAt
			status.AppliedAt = &appliedAt

			if record.Name != migration.Name {
				e.logger.Warn("ledger name differs from script", "version", migration.Version, "ledger", record.Name, "script", migration.Name)
			}
		}

		statuses = append(statuses, status)
	}

	for _, record := range executed {
		if known[record.Version] {
			continue
		}
		appliedAt := record.AppliedAt
		statuses = append(statuses, MigrationStatus{
			Version:   record.Version,
			Name:      record.Name,
			Applied:   true,
			AppliedAt: &appliedAt,
			Orphaned:  true,
		})
	}

	sort.SliceStable(statuses, func(i, j int) bool {
		return statuses[i].Version < statuses[j].Version
	})
	return statuses, nil
}

// Version returns the highest executed version, 0 when none.
func (e *Engine) Version(ctx context.Context) (int64, error) {
	executed, err := e.backend.Ledger.GetExecutedMigrations(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read ledger: %w", err)
	}

	var version int64
	for _, record := range executed {
		if record.Version > version {
			version = record.Version
		}
	}
	return version, nil
}

func (e *Engine) Snapshots() ([]Backup, error) {
	if e.snapshots == nil {
		return nil, fmt.Errorf("%w: no backup folder configured", ErrSnapshotUnsupported)
	}
	return e.snapshots.List()
}

func (e *Engine) Close() error {
	var err error
	if e.backend.Database != nil {
		err = multierr.Append(err, e.backend.Database.Close())
	}
	return err
}
