package rewind

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const defaultNeo4jDatabase = "neo4j"

func isNeo4jScheme(scheme string) bool {
	switch scheme {
	case "neo4j", "neo4j+s", "neo4j+ssc", "bolt", "bolt+s", "bolt+ssc":
		return true
	}
	return false
}

// openNeo4j takes credentials from the URL userinfo. Neo4j has no schema
// snapshot tool, so the backend only supports reversible rollbacks.
func openNeo4j(cfg Config, u *url.URL, logger Logger) (Backend, error) {
	auth := neo4j.NoAuth()
	if u.User != nil {
		password, _ := u.User.Password()
		auth = neo4j.BasicAuth(u.User.Username(), password, "")
	}

	target := *u
	target.User = nil

	driver, err := neo4j.NewDriverWithContext(target.String(), auth)
	if err != nil {
		return Backend{}, fmt.Errorf("%w: %v", ErrDatabaseConnection, err)
	}

	if err := driver.VerifyConnectivity(context.Background()); err != nil {
		_ = driver.Close(context.Background())
		return Backend{}, fmt.Errorf("%w: %v", ErrDatabaseConnection, err)
	}

	database := cfg.Database
	if database == "" {
		database = defaultNeo4jDatabase
	}

	return newNeo4jBackend(driver, database, logger), nil
}

// newNeo4jBackend splits every rollback step in two transactions: Neo4j
// rejects the ledger delete after a DROP INDEX or DROP CONSTRAINT in the
// same transaction (ForbiddenDueToTransactionType).
func newNeo4jBackend(driver neo4j.DriverWithContext, database string, logger Logger) Backend {
	return Backend{
		Database:         &neo4jDatabase{driver: driver, database: database},
		Ledger:           newNeo4jLedger(driver, database, logger),
		ScriptExt:        ".cypher",
		SplitLedgerWrite: true,
	}
}

type neo4jDatabase struct {
	driver   neo4j.DriverWithContext
	database string
}

func (d *neo4jDatabase) Acquire(ctx context.Context) (Session, error) {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: d.database,
	})
	return &neo4jSession{session: session}, nil
}

func (d *neo4jDatabase) Close() error {
	return d.driver.Close(context.Background())
}

type neo4jSession struct {
	session neo4j.SessionWithContext
}

func (s *neo4jSession) Transact(ctx context.Context, fn func(tx Tx) error) error {
	_, err := s.session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&neo4jTx{tx: tx})
	})
	return err
}

func (s *neo4jSession) Close() error {
	return s.session.Close(context.Background())
}

type neo4jTx struct {
	tx neo4j.ManagedTransaction
}

// Exec splits raw scripts on ";" and runs each statement. With params the
// statement runs as is and the number of deleted nodes is returned.
func (t *neo4jTx) Exec(ctx context.Context, statement string, params map[string]any) (int64, error) {
	if params != nil {
		result, err := t.tx.Run(ctx, statement, params)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrTransactionFailed, err)
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrTransactionFailed, err)
		}
		return int64(summary.Counters().NodesDeleted()), nil
	}

	for _, stmt := range splitStatements(statement) {
		result, err := t.tx.Run(ctx, stmt, nil)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrTransactionFailed, err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrTransactionFailed, err)
		}
	}
	return 0, nil
}

func splitStatements(script string) []string {
	var statements []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

type neo4jLedger struct {
	driver   neo4j.DriverWithContext
	database string
	logger   Logger
}

func newNeo4jLedger(driver neo4j.DriverWithContext, database string, logger Logger) *neo4jLedger {
	return &neo4jLedger{driver: driver, database: database, logger: logger}
}

func (l *neo4jLedger) GetExecutedMigrations(ctx context.Context) ([]ExecutedMigration, error) {
	session := l.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: l.database,
	})
	defer session.Close(ctx)

	query := `
		MATCH (m:SchemaMigration)
		RETURN m.version AS version, m.name AS name, m.description AS description, m.applied_at AS applied_at
		ORDER BY m.version
	`

	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseConnection, err)
	}

	var records []ExecutedMigration
	for result.Next(ctx) {
		record := result.Record()

		version, _, err := neo4j.GetRecordValue[int64](record, "version")
		if err != nil {
			return nil, fmt.Errorf("invalid ledger node: %w", err)
		}
		name, _, _ := neo4j.GetRecordValue[string](record, "name")
		description, _, _ := neo4j.GetRecordValue[string](record, "description")
		appliedAt, _, _ := neo4j.GetRecordValue[time.Time](record, "applied_at")

		records = append(records, ExecutedMigration{
			Version:     version,
			Name:        name,
			Description: description,
			AppliedAt:   appliedAt,
		})
	}

	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseConnection, err)
	}

	return records, nil
}

func (l *neo4jLedger) DeleteLedgerRow(ctx context.Context, tx Tx, version int64) error {
	query := `
		MATCH (m:SchemaMigration {version: $version})
		DELETE m
	`

	n, err := tx.Exec(ctx, query, map[string]any{"version": version})
	if err != nil {
		return fmt.Errorf("failed to remove ledger node %d: %w", version, err)
	}
	if n != 1 {
		return fmt.Errorf("failed to remove ledger node %d: %d nodes deleted", version, n)
	}

	l.logger.Info("removed migration record", "version", version)
	return nil
}
