package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CommittedPolicy is one row of the committed_policies table. Data is
// the encoded policy, signature included. Rows are replaced wholesale
// on rotation, never edited.
type CommittedPolicy struct {
	RoleID      string    `json:"role_id"`
	Data        []byte    `json:"data"`
	CommittedAt time.Time `json:"committed_at"`
}

// UpsertCommitted commits a policy for a role, replacing any prior
// policy for the same role (policy rotation).
func (l *Ledger) UpsertCommitted(ctx context.Context, roleID string, data []byte) error {
	_, err := l.conn.ExecContext(ctx, `
		INSERT INTO committed_policies (role_id, data, committed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(role_id) DO UPDATE SET data = excluded.data, committed_at = excluded.committed_at
	`, roleID, data, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting committed policy: %w", err)
	}
	return nil
}

// UpsertCommittedTx is UpsertCommitted inside a caller transaction.
func UpsertCommittedTx(tx *sql.Tx, roleID string, data []byte) error {
	_, err := tx.Exec(`
		INSERT INTO committed_policies (role_id, data, committed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(role_id) DO UPDATE SET data = excluded.data, committed_at = excluded.committed_at
	`, roleID, data, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting committed policy: %w", err)
	}
	return nil
}

// GetCommittedByRole retrieves the committed policy for a role.
func (l *Ledger) GetCommittedByRole(ctx context.Context, roleID string) (*CommittedPolicy, error) {
	row := l.conn.QueryRowContext(ctx, `
		SELECT role_id, data, committed_at FROM committed_policies WHERE role_id = ?
	`, roleID)
	return scanCommittedPolicy(row)
}

// ListAllCommitted returns all committed policies ordered by role.
func (l *Ledger) ListAllCommitted(ctx context.Context) ([]*CommittedPolicy, error) {
	rows, err := l.conn.QueryContext(ctx, `
		SELECT role_id, data, committed_at FROM committed_policies ORDER BY role_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying committed policies: %w", err)
	}
	defer rows.Close()

	var out []*CommittedPolicy
	for rows.Next() {
		p, err := scanCommittedPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanCommittedPolicy(row rowScanner) (*CommittedPolicy, error) {
	var (
		p           CommittedPolicy
		committedAt string
	)
	err := row.Scan(&p.RoleID, &p.Data, &committedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning committed policy: %w", err)
	}
	if p.CommittedAt, err = time.Parse(time.RFC3339, committedAt); err != nil {
		return nil, fmt.Errorf("parsing committed_at: %w", err)
	}
	return &p, nil
}
