package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PendingRequest is one row of the pending_requests table. Data holds
// the encoded request envelope and is the only mutable column.
type PendingRequest struct {
	ID          string    `json:"id"`
	RequestedBy string    `json:"requested_by"`
	Data        []byte    `json:"data"`
	StaticData  string    `json:"static_data,omitempty"`
	DynamicData string    `json:"dynamic_data,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// InsertPending inserts a new pending request row.
func (l *Ledger) InsertPending(ctx context.Context, req *PendingRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	_, err := l.conn.ExecContext(ctx, `
		INSERT INTO pending_requests (id, requested_by, data, static_data, dynamic_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, req.ID, req.RequestedBy, req.Data, nullable(req.StaticData), nullable(req.DynamicData),
		req.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting pending request: %w", err)
	}
	return nil
}

// InsertPendingTx is InsertPending inside a caller transaction.
func InsertPendingTx(tx *sql.Tx, req *PendingRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	_, err := tx.Exec(`
		INSERT INTO pending_requests (id, requested_by, data, static_data, dynamic_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, req.ID, req.RequestedBy, req.Data, nullable(req.StaticData), nullable(req.DynamicData),
		req.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting pending request: %w", err)
	}
	return nil
}

// GetPending retrieves a pending request by id.
func (l *Ledger) GetPending(ctx context.Context, id string) (*PendingRequest, error) {
	row := l.conn.QueryRowContext(ctx, `
		SELECT id, requested_by, data, static_data, dynamic_data, created_at
		FROM pending_requests WHERE id = ?
	`, id)
	return scanPendingRequest(row)
}

// UpdatePendingData overwrites the stored envelope for a pending
// request. The id never changes; only the blob does.
func (l *Ledger) UpdatePendingData(ctx context.Context, id string, data []byte) error {
	res, err := l.conn.ExecContext(ctx,
		`UPDATE pending_requests SET data = ? WHERE id = ?`, data, id)
	if err != nil {
		return fmt.Errorf("updating pending data: %w", err)
	}
	return requireAffected(res)
}

// UpdatePendingDataTx is UpdatePendingData inside a caller transaction.
func UpdatePendingDataTx(tx *sql.Tx, id string, data []byte) error {
	res, err := tx.Exec(`UPDATE pending_requests SET data = ? WHERE id = ?`, data, id)
	if err != nil {
		return fmt.Errorf("updating pending data: %w", err)
	}
	return requireAffected(res)
}

// DeletePending removes a pending request. Decisions cascade via the
// foreign key.
func (l *Ledger) DeletePending(ctx context.Context, id string) error {
	res, err := l.conn.ExecContext(ctx, `DELETE FROM pending_requests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting pending request: %w", err)
	}
	return requireAffected(res)
}

// DeletePendingTx is DeletePending inside a caller transaction.
func DeletePendingTx(tx *sql.Tx, id string) error {
	res, err := tx.Exec(`DELETE FROM pending_requests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting pending request: %w", err)
	}
	return requireAffected(res)
}

// ListAllPending returns all pending requests, oldest first.
func (l *Ledger) ListAllPending(ctx context.Context) ([]*PendingRequest, error) {
	rows, err := l.conn.QueryContext(ctx, `
		SELECT id, requested_by, data, static_data, dynamic_data, created_at
		FROM pending_requests
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying pending requests: %w", err)
	}
	defer rows.Close()

	var out []*PendingRequest
	for rows.Next() {
		req, err := scanPendingRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPendingRequest(row rowScanner) (*PendingRequest, error) {
	var (
		req        PendingRequest
		static     sql.NullString
		dynamic    sql.NullString
		createdRaw string
	)
	err := row.Scan(&req.ID, &req.RequestedBy, &req.Data, &static, &dynamic, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning pending request: %w", err)
	}
	req.StaticData = static.String
	req.DynamicData = dynamic.String
	if req.CreatedAt, err = time.Parse(time.RFC3339, createdRaw); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &req, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
