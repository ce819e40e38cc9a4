package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Change log entry types.
const (
	LogCreated   = "created"
	LogApproved  = "approved"
	LogDenied    = "denied"
	LogDeleted   = "deleted"
	LogCommitted = "committed"
)

// LogEntry is one row of the append-only change log.
type LogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	RequestID string    `json:"request_id"`
	Actor     string    `json:"actor"`
	Role      string    `json:"role"`
}

// AppendLog appends a change log entry.
func (l *Ledger) AppendLog(ctx context.Context, e *LogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	res, err := l.conn.ExecContext(ctx, `
		INSERT INTO change_logs (ts, type, request_id, actor, role)
		VALUES (?, ?, ?, ?, ?)
	`, e.Timestamp.Format(time.RFC3339Nano), e.Type, e.RequestID, e.Actor, e.Role)
	if err != nil {
		return fmt.Errorf("appending change log: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("getting log id: %w", err)
	}
	return nil
}

// AppendLogTx is AppendLog inside a caller transaction.
func AppendLogTx(tx *sql.Tx, e *LogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	res, err := tx.Exec(`
		INSERT INTO change_logs (ts, type, request_id, actor, role)
		VALUES (?, ?, ?, ?, ?)
	`, e.Timestamp.Format(time.RFC3339Nano), e.Type, e.RequestID, e.Actor, e.Role)
	if err != nil {
		return fmt.Errorf("appending change log: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("getting log id: %w", err)
	}
	return nil
}

// ListLogs returns change log entries newest first. A limit of 0 means
// no limit.
func (l *Ledger) ListLogs(ctx context.Context, limit int) ([]*LogEntry, error) {
	query := `SELECT id, ts, type, request_id, actor, role FROM change_logs ORDER BY ts DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying change logs: %w", err)
	}
	defer rows.Close()

	var out []*LogEntry
	for rows.Next() {
		var (
			e     LogEntry
			tsRaw string
		)
		if err := rows.Scan(&e.ID, &tsRaw, &e.Type, &e.RequestID, &e.Actor, &e.Role); err != nil {
			return nil, fmt.Errorf("scanning change log: %w", err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, tsRaw); err != nil {
			return nil, fmt.Errorf("parsing log timestamp: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
