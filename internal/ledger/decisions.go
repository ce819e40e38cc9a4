package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Decision is one approver's vote on a pending request. Rows are
// append-only: the UNIQUE(request_id, approver) constraint makes a
// second vote by the same approver fail rather than overwrite.
type Decision struct {
	ID            int64     `json:"id"`
	RequestID     string    `json:"request_id"`
	Approver      string    `json:"approver"`
	ApproverLabel string    `json:"approver_label,omitempty"`
	Approved      bool      `json:"approved"`
	CreatedAt     time.Time `json:"created_at"`
}

// InsertDecision records a vote. Returns ErrDuplicateDecision when the
// approver already voted on this request.
func (l *Ledger) InsertDecision(ctx context.Context, d *Decision) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	res, err := l.conn.ExecContext(ctx, `
		INSERT INTO request_decisions (request_id, approver, approver_label, approved, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, d.RequestID, d.Approver, nullable(d.ApproverLabel), d.Approved, d.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateDecision
		}
		return fmt.Errorf("inserting decision: %w", err)
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("getting decision id: %w", err)
	}
	return nil
}

// InsertDecisionTx is InsertDecision inside a caller transaction, so a
// decision row and an envelope rewrite land atomically.
func InsertDecisionTx(tx *sql.Tx, d *Decision) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	res, err := tx.Exec(`
		INSERT INTO request_decisions (request_id, approver, approver_label, approved, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, d.RequestID, d.Approver, nullable(d.ApproverLabel), d.Approved, d.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateDecision
		}
		return fmt.Errorf("inserting decision: %w", err)
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("getting decision id: %w", err)
	}
	return nil
}

// DecisionsFor returns all decisions for a request, oldest first.
func (l *Ledger) DecisionsFor(ctx context.Context, requestID string) ([]*Decision, error) {
	rows, err := l.conn.QueryContext(ctx, `
		SELECT id, request_id, approver, approver_label, approved, created_at
		FROM request_decisions WHERE request_id = ?
		ORDER BY id ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("querying decisions: %w", err)
	}
	defer rows.Close()

	var out []*Decision
	for rows.Next() {
		var (
			d          Decision
			label      sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&d.ID, &d.RequestID, &d.Approver, &label, &d.Approved, &createdRaw); err != nil {
			return nil, fmt.Errorf("scanning decision: %w", err)
		}
		d.ApproverLabel = label.String
		if d.CreatedAt, err = time.Parse(time.RFC3339, createdRaw); err != nil {
			return nil, fmt.Errorf("parsing decision created_at: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// CountApprovals returns the number of approving decisions for a
// request. Denials are never counted.
func (l *Ledger) CountApprovals(ctx context.Context, requestID string) (int, error) {
	var n int
	err := l.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM request_decisions WHERE request_id = ? AND approved = 1`,
		requestID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting approvals: %w", err)
	}
	return n, nil
}

// CountApprovalsTx is CountApprovals inside a caller transaction.
func CountApprovalsTx(tx *sql.Tx, requestID string) (int, error) {
	var n int
	err := tx.QueryRow(
		`SELECT COUNT(*) FROM request_decisions WHERE request_id = ? AND approved = 1`,
		requestID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting approvals: %w", err)
	}
	return n, nil
}
