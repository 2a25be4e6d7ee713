package rewind

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// mockDatabase keeps a ledger and the statements committed against it.
// Changes made inside Transact only become visible when fn succeeds.
type mockDatabase struct {
	mu        sync.Mutex
	ledger    map[int64]ExecutedMigration
	committed []string

	// FailOn makes Exec fail for statements containing the substring.
	FailOn string
	// SchemaOnlyTx makes a transaction that ran a DROP or CREATE statement
	// refuse ledger writes, the way Neo4j separates schema transactions.
	SchemaOnlyTx bool
	// SessionCloseErr is returned by every session Close.
	SessionCloseErr error
	AcquireFunc     func(ctx context.Context) (Session, error)
	CloseFunc       func() error

	acquired int
	released int
}

func newMockDatabase(executed ...ExecutedMigration) *mockDatabase {
	db := &mockDatabase{ledger: make(map[int64]ExecutedMigration)}
	for _, m := range executed {
		db.ledger[m.Version] = m
	}
	return db
}

func (d *mockDatabase) Acquire(ctx context.Context) (Session, error) {
	if d.AcquireFunc != nil {
		return d.AcquireFunc(ctx)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquired++
	return &mockSession{db: d}, nil
}

func (d *mockDatabase) Close() error {
	if d.CloseFunc != nil {
		return d.CloseFunc()
	}
	return nil
}

func (d *mockDatabase) versions() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	versions := make([]int64, 0, len(d.ledger))
	for v := range d.ledger {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions
}

func (d *mockDatabase) statements() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.committed...)
}

func (d *mockDatabase) sessionsOpen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquired - d.released
}

type mockSession struct {
	db     *mockDatabase
	closed bool
}

func (s *mockSession) Transact(ctx context.Context, fn func(tx Tx) error) error {
	tx := &mockTx{db: s.db, deleted: make(map[int64]bool)}
	if err := fn(tx); err != nil {
		return err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.committed = append(s.db.committed, tx.pending...)
	for v := range tx.deleted {
		delete(s.db.ledger, v)
	}
	return nil
}

func (s *mockSession) Close() error {
	if s.closed {
		return fmt.Errorf("session closed twice")
	}
	s.closed = true

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.released++
	return s.db.SessionCloseErr
}

type mockTx struct {
	db      *mockDatabase
	pending []string
	deleted map[int64]bool
	schema  bool
}

func (t *mockTx) Exec(ctx context.Context, statement string, params map[string]any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if t.db.FailOn != "" && strings.Contains(statement, t.db.FailOn) {
		return 0, fmt.Errorf("syntax error at or near %q", t.db.FailOn)
	}

	if version, ok := params["version"].(int64); ok {
		if t.db.SchemaOnlyTx && t.schema {
			return 0, fmt.Errorf("ForbiddenDueToTransactionType: tried to execute a write query after executing a schema modification")
		}

		t.db.mu.Lock()
		_, exists := t.db.ledger[version]
		t.db.mu.Unlock()

		if !exists || t.deleted[version] {
			return 0, nil
		}
		t.deleted[version] = true
		return 1, nil
	}

	upper := strings.ToUpper(statement)
	if strings.Contains(upper, "DROP ") || strings.Contains(upper, "CREATE ") {
		t.schema = true
	}
	t.pending = append(t.pending, statement)
	return 0, nil
}

type mockLedger struct {
	db             *mockDatabase
	GetFunc        func(ctx context.Context) ([]ExecutedMigration, error)
	reads          int
	mu             sync.Mutex
	deleteAttempts []int64
}

func newMockLedger(db *mockDatabase) *mockLedger {
	return &mockLedger{db: db}
}

func (l *mockLedger) GetExecutedMigrations(ctx context.Context) ([]ExecutedMigration, error) {
	l.mu.Lock()
	l.reads++
	l.mu.Unlock()

	if l.GetFunc != nil {
		return l.GetFunc(ctx)
	}

	var records []ExecutedMigration
	for _, v := range l.db.versions() {
		l.db.mu.Lock()
		records = append(records, l.db.ledger[v])
		l.db.mu.Unlock()
	}
	return records, nil
}

func (l *mockLedger) DeleteLedgerRow(ctx context.Context, tx Tx, version int64) error {
	l.mu.Lock()
	l.deleteAttempts = append(l.deleteAttempts, version)
	l.mu.Unlock()

	n, err := tx.Exec(ctx, "DELETE ledger row", map[string]any{"version": version})
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("failed to remove ledger row %d: %d rows affected", version, n)
	}
	return nil
}

type mockRestorer struct {
	mu          sync.Mutex
	RestoreFunc func(ctx context.Context, snapshot io.Reader, target string) error
	restored    []string
	targets     []string
}

func (r *mockRestorer) Restore(ctx context.Context, snapshot io.Reader, target string) error {
	content, err := io.ReadAll(snapshot)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.restored = append(r.restored, string(content))
	r.targets = append(r.targets, target)
	r.mu.Unlock()

	if r.RestoreFunc != nil {
		return r.RestoreFunc(ctx, snapshot, target)
	}
	return nil
}

type mockLogger struct {
	mu       sync.RWMutex
	DebugLog []string
	InfoLog  []string
	WarnLog  []string
	ErrorLog []string
}

func newMockLogger() *mockLogger {
	return &mockLogger{
		DebugLog: make([]string, 0),
		InfoLog:  make([]string, 0),
		WarnLog:  make([]string, 0),
		ErrorLog: make([]string, 0),
	}
}

func (m *mockLogger) Debug(msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DebugLog = append(m.DebugLog, msg)
}

func (m *mockLogger) Info(msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InfoLog = append(m.InfoLog, msg)
}

func (m *mockLogger) Warn(msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WarnLog = append(m.WarnLog, msg)
}

func (m *mockLogger) Error(msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorLog = append(m.ErrorLog, msg)
}

func ledgerRow(version int64, name string) ExecutedMigration {
	description := name
	if i := strings.Index(name, "_"); i >= 0 {
		description = name[i+1:]
	}
	return ExecutedMigration{
		Version:     version,
		Name:        name,
		Description: description,
		AppliedAt:   time.Date(2024, 1, int(version%28)+1, 0, 0, 0, 0, time.UTC),
	}
}
