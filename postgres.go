package rewind

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	sqldblogger "github.com/simukti/sqldb-logger"
	"go.uber.org/multierr"
)

const postgresDriver = "postgres"

type postgresDatabase struct {
	db *sqlx.DB
}

func openPostgres(cfg Config, logger Logger) (Backend, error) {
	db, err := openPostgresDB(cfg, logger)
	if err != nil {
		return Backend{}, fmt.Errorf("%w: %v", ErrDatabaseConnection, err)
	}

	conn := sqlx.NewDb(db, postgresDriver)
	if err := conn.PingContext(context.Background()); err != nil {
		_ = conn.Close()
		return Backend{}, fmt.Errorf("%w: %v", ErrDatabaseConnection, err)
	}

	return newPostgresBackend(conn, cfg, logger), nil
}

// openPostgresDB wraps the pq driver with the query logger in debug mode.
// No connection is made until first use.
func openPostgresDB(cfg Config, logger Logger) (*sql.DB, error) {
	if cfg.Debug {
		return sqldblogger.OpenDriver(cfg.DatabaseURL, &pq.Driver{}, &queryLogger{logger: logger},
			sqldblogger.WithSQLQueryAsMessage(true),
		), nil
	}
	return sql.Open(postgresDriver, cfg.DatabaseURL)
}

func newPostgresBackend(db *sqlx.DB, cfg Config, logger Logger) Backend {
	return Backend{
		Database:       &postgresDatabase{db: db},
		Ledger:         newPostgresLedger(db, cfg.LedgerTable, logger),
		Restorer:       newPsqlRestorer(cfg.RestoreCommand, logger),
		ResetStatement: postgresResetStatement(cfg.Schema),
		ScriptExt:      ".sql",
	}
}

// postgresResetStatement drops and recreates schema, handing it back to the
// connecting user.
func postgresResetStatement(schema string) func(user string) string {
	return func(user string) string {
		s := pq.QuoteIdentifier(schema)
		return fmt.Sprintf(`DROP SCHEMA %[1]s CASCADE;
CREATE SCHEMA %[1]s;
GRANT ALL ON SCHEMA %[1]s TO %[2]s;
GRANT ALL ON SCHEMA %[1]s TO public;
`, s, pq.QuoteIdentifier(user))
	}
}

func (d *postgresDatabase) Acquire(ctx context.Context) (Session, error) {
	conn, err := d.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseConnection, err)
	}
	return &postgresSession{conn: conn}, nil
}

func (d *postgresDatabase) Close() error {
	return d.db.Close()
}

type postgresSession struct {
	conn *sqlx.Conn
}

func (s *postgresSession) Transact(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return multierr.Append(err, ignoreDone(tx.Rollback()))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrTransactionFailed, err)
	}
	return nil
}

func (s *postgresSession) Close() error {
	return s.conn.Close()
}

type postgresTx struct {
	tx *sqlx.Tx
}

// Exec sends raw bodies through the simple query protocol so a script may
// hold several statements. Named params use sqlx binding.
func (t *postgresTx) Exec(ctx context.Context, statement string, params map[string]any) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if params == nil {
		res, err = t.tx.ExecContext(ctx, statement)
	} else {
		res, err = t.tx.NamedExecContext(ctx, statement, params)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func ignoreDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

type postgresLedger struct {
	db     *sqlx.DB
	table  string
	logger Logger
}

func newPostgresLedger(db *sqlx.DB, table string, logger Logger) *postgresLedger {
	return &postgresLedger{db: db, table: table, logger: logger}
}

// GetExecutedMigrations treats a missing ledger table as an empty ledger and
// never creates it.
func (l *postgresLedger) GetExecutedMigrations(ctx context.Context) ([]ExecutedMigration, error) {
	table := pq.QuoteIdentifier(l.table)

	var exists bool
	if err := l.db.GetContext(ctx, &exists, `SELECT to_regclass($1) IS NOT NULL`, table); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseConnection, err)
	}
	if !exists {
		l.logger.Debug("ledger table does not exist", "table", l.table)
		return nil, nil
	}

	var rows []ExecutedMigration
	query := fmt.Sprintf(`SELECT version, name, description, applied_at FROM %s ORDER BY version`, table)
	if err := l.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseConnection, err)
	}
	return rows, nil
}

func (l *postgresLedger) DeleteLedgerRow(ctx context.Context, tx Tx, version int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE version = :version`, pq.QuoteIdentifier(l.table))

	n, err := tx.Exec(ctx, query, map[string]any{"version": version})
	if err != nil {
		return fmt.Errorf("failed to remove ledger row %d: %w", version, err)
	}
	if n != 1 {
		return fmt.Errorf("failed to remove ledger row %d: %d rows affected", version, n)
	}

	l.logger.Info("removed migration record", "version", version)
	return nil
}
