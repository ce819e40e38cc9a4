// Package ledger implements the durable quorum ledger: committed
// policies, pending requests, per-approver decisions, and the
// append-only change log, stored in SQLite.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SchemaVersion is the current schema version. Bump when adding
// migrations.
const SchemaVersion = 1

// Ledger errors.
var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("ledger: not found")
	// ErrDuplicateDecision is returned when an approver already has a
	// decision recorded for a request.
	ErrDuplicateDecision = errors.New("ledger: duplicate decision for approver")
)

// Ledger wraps the SQLite connection. Construct via Open or
// OpenAndMigrate and Close when done; there is no package-level
// handle.
type Ledger struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the ledger database at path and
// initializes the schema.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	// SQLite serializes writers; a single connection avoids
	// SQLITE_BUSY churn between concurrent transactions.
	conn.SetMaxOpenConns(1)

	l := &Ledger{conn: conn, path: path}
	if err := l.initSchema(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return l, nil
}

// OpenAndMigrate opens the ledger and applies any pending migrations.
func OpenAndMigrate(path string) (*Ledger, error) {
	l, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := l.ApplyMigrations(context.Background()); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// OpenProjectLedger opens the ledger under projectDir/.quorumgate/ledger.db.
func OpenProjectLedger(projectDir string) (*Ledger, error) {
	return OpenAndMigrate(filepath.Join(projectDir, ".quorumgate", "ledger.db"))
}

// Close closes the underlying connection.
func (l *Ledger) Close() error {
	return l.conn.Close()
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

// Exec forwards to the underlying connection.
func (l *Ledger) Exec(query string, args ...any) (sql.Result, error) {
	return l.conn.Exec(query, args...)
}

// QueryRow forwards to the underlying connection.
func (l *Ledger) QueryRow(query string, args ...any) *sql.Row {
	return l.conn.QueryRow(query, args...)
}

// WithTx runs fn inside a transaction, committing on nil and rolling
// back otherwise. Multi-row effects of one logical operation must go
// through here so partial writes are never observable.
func (l *Ledger) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS committed_policies (
	role_id TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	committed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_requests (
	id TEXT PRIMARY KEY,
	requested_by TEXT NOT NULL,
	data BLOB NOT NULL,
	static_data TEXT,
	dynamic_data TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS request_decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL REFERENCES pending_requests(id) ON DELETE CASCADE,
	approver TEXT NOT NULL,
	approver_label TEXT,
	approved BOOLEAN NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE(request_id, approver)
);

CREATE TABLE IF NOT EXISTS change_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	type TEXT NOT NULL CHECK (type IN ('created','approved','denied','deleted','committed')),
	request_id TEXT NOT NULL,
	actor TEXT NOT NULL,
	role TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_request ON request_decisions(request_id);
CREATE INDEX IF NOT EXISTS idx_change_logs_ts ON change_logs(ts);
`

func (l *Ledger) initSchema(ctx context.Context) error {
	if _, err := l.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	_, err := l.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_migrations(version, applied_at) VALUES(?, ?)`,
		SchemaVersion, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}
	return nil
}

// ApplyMigrations applies any migrations newer than the recorded
// version. Safe to call repeatedly.
func (l *Ledger) ApplyMigrations(ctx context.Context) error {
	version, err := l.GetSchemaVersion()
	if err != nil {
		return err
	}
	if version >= SchemaVersion {
		return nil
	}
	// Future migrations go here, gated on the recorded version.
	return nil
}

// GetSchemaVersion returns the highest recorded schema version.
func (l *Ledger) GetSchemaVersion() (int, error) {
	var version int
	err := l.conn.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// ValidateSchema verifies the recorded schema version matches this
// build and the expected tables exist.
func (l *Ledger) ValidateSchema() error {
	version, err := l.GetSchemaVersion()
	if err != nil {
		return err
	}
	if version != SchemaVersion {
		return fmt.Errorf("schema version mismatch: have %d, want %d", version, SchemaVersion)
	}
	for _, table := range []string{"committed_policies", "pending_requests", "request_decisions", "change_logs"} {
		var name string
		err := l.conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("missing table %s", table)
		}
		if err != nil {
			return fmt.Errorf("checking table %s: %w", table, err)
		}
	}
	return nil
}

// Stats summarizes ledger contents.
type Stats struct {
	SchemaVersion     int `json:"schema_version"`
	PendingRequests   int `json:"pending_requests"`
	CommittedPolicies int `json:"committed_policies"`
	Decisions         int `json:"decisions"`
	LogEntries        int `json:"log_entries"`
}

// GetStats returns row counts for the admin surfaces.
func (l *Ledger) GetStats() (Stats, error) {
	var s Stats
	version, err := l.GetSchemaVersion()
	if err != nil {
		return s, err
	}
	s.SchemaVersion = version

	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM pending_requests`, &s.PendingRequests},
		{`SELECT COUNT(*) FROM committed_policies`, &s.CommittedPolicies},
		{`SELECT COUNT(*) FROM request_decisions`, &s.Decisions},
		{`SELECT COUNT(*) FROM change_logs`, &s.LogEntries},
	}
	for _, c := range counts {
		if err := l.conn.QueryRow(c.query).Scan(c.dst); err != nil {
			return s, fmt.Errorf("counting rows: %w", err)
		}
	}
	return s, nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
