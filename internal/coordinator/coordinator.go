// Package coordinator drives a change request from creation through
// quorum approval to commit, re-validating against the governing
// policy after every decision.
package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/quorumgate/quorumgate/internal/contract"
	"github.com/quorumgate/quorumgate/internal/ledger"
)

// Coordinator errors.
var (
	// ErrPolicyNotSatisfied is returned when a commit is attempted
	// before the governing policy's threshold is met.
	ErrPolicyNotSatisfied = errors.New("governing policy threshold not satisfied")
	// ErrNoGoverningPolicy is returned when no committed policy exists
	// for a request's role.
	ErrNoGoverningPolicy = errors.New("no committed policy governs this role")
)

// Coordinator is the approval state machine. It owns no storage; the
// ledger handle is passed in at construction.
type Coordinator struct {
	ledger *ledger.Ledger
	logger *log.Logger
}

// New constructs a Coordinator.
func New(l *ledger.Ledger, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{ledger: l, logger: logger}
}

// Create persists an initialized envelope as a pending request and
// logs its creation. The envelope must already have been through the
// gateway's Initialize step; Create never mints identifiers.
func (c *Coordinator) Create(ctx context.Context, env *contract.Envelope, requestedBy, staticData, dynamicData string) (string, error) {
	if !env.Initialized() {
		return "", contract.ErrNotInitialized
	}
	if err := env.VerifyID(); err != nil {
		return "", err
	}
	body, err := contract.Decode(env)
	if err != nil {
		return "", err
	}
	role, err := body.Role()
	if err != nil {
		return "", err
	}
	data, err := contract.EncodeEnvelope(env)
	if err != nil {
		return "", err
	}

	err = c.ledger.WithTx(ctx, func(tx *sql.Tx) error {
		if err := ledger.InsertPendingTx(tx, &ledger.PendingRequest{
			ID:          env.ID,
			RequestedBy: requestedBy,
			Data:        data,
			StaticData:  staticData,
			DynamicData: dynamicData,
		}); err != nil {
			return err
		}
		return ledger.AppendLogTx(tx, &ledger.LogEntry{
			Type:      ledger.LogCreated,
			RequestID: env.ID,
			Actor:     requestedBy,
			Role:      role,
		})
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("request created", "id", env.ID, "role", role, "requested_by", requestedBy)
	return env.ID, nil
}

// RecordDecision records one approver's vote. A repeat vote by the
// same approver is benign: it is logged and reported as recorded=false
// with a nil error, since double-submit retries are expected from the
// application layer. On approval the caller-supplied envelope, which
// now carries the approver's share, replaces the stored one in the
// same transaction as the decision row.
func (c *Coordinator) RecordDecision(ctx context.Context, env *contract.Envelope, approver, label string, denied bool) (bool, error) {
	if !env.Initialized() {
		return false, contract.ErrNotInitialized
	}
	// The approval path rewrites the stored blob, so the envelope must
	// prove its payload matches its id. Approval shares and embedded
	// policy are excluded from the derivation, so a legitimately
	// annotated envelope still passes.
	if err := env.VerifyID(); err != nil {
		return false, err
	}
	body, err := contract.Decode(env)
	if err != nil {
		return false, err
	}
	role, err := body.Role()
	if err != nil {
		return false, err
	}

	err = c.ledger.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow(`SELECT 1 FROM pending_requests WHERE id = ?`, env.ID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ledger.ErrNotFound
			}
			return fmt.Errorf("checking pending request: %w", err)
		}
		if err := ledger.InsertDecisionTx(tx, &ledger.Decision{
			RequestID:     env.ID,
			Approver:      approver,
			ApproverLabel: label,
			Approved:      !denied,
		}); err != nil {
			return err
		}
		if !denied {
			data, err := contract.EncodeEnvelope(env)
			if err != nil {
				return err
			}
			if err := ledger.UpdatePendingDataTx(tx, env.ID, data); err != nil {
				return err
			}
		}
		logType := ledger.LogApproved
		if denied {
			logType = ledger.LogDenied
		}
		return ledger.AppendLogTx(tx, &ledger.LogEntry{
			Type:      logType,
			RequestID: env.ID,
			Actor:     approver,
			Role:      role,
		})
	})
	if errors.Is(err, ledger.ErrDuplicateDecision) {
		c.logger.Warn("duplicate decision ignored", "id", env.ID, "approver", approver)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	c.logger.Info("decision recorded", "id", env.ID, "approver", approver, "denied", denied)
	return true, nil
}

// Delete removes a pending request and its decisions (cascade) and
// logs the deletion. Returns ledger.ErrNotFound when no such pending
// request exists.
func (c *Coordinator) Delete(ctx context.Context, requestID, actor string) error {
	req, err := c.ledger.GetPending(ctx, requestID)
	if err != nil {
		return err
	}
	role := roleOf(req.Data)

	err = c.ledger.WithTx(ctx, func(tx *sql.Tx) error {
		if err := ledger.DeletePendingTx(tx, requestID); err != nil {
			return err
		}
		return ledger.AppendLogTx(tx, &ledger.LogEntry{
			Type:      ledger.LogDeleted,
			RequestID: requestID,
			Actor:     actor,
			Role:      role,
		})
	})
	if err != nil {
		return err
	}

	c.logger.Info("request deleted", "id", requestID, "actor", actor)
	return nil
}

// Commit finalizes a request: re-verifies readiness against the
// governing policy inside the transaction (closing the window between
// a caller's readiness check and the commit), attaches the external
// signature, and removes the pending row. Policy drafts additionally
// replace the committed policy for their role. Returns
// ErrPolicyNotSatisfied when the approval count is below threshold.
func (c *Coordinator) Commit(ctx context.Context, requestID string, signature []byte, actor string) error {
	if len(signature) == 0 {
		return fmt.Errorf("commit requires a signature")
	}

	var role string
	err := c.ledger.WithTx(ctx, func(tx *sql.Tx) error {
		var data []byte
		err := tx.QueryRow(`SELECT data FROM pending_requests WHERE id = ?`, requestID).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("loading pending request: %w", err)
		}

		env, err := contract.DecodeEnvelope(data)
		if err != nil {
			return err
		}
		body, err := contract.Decode(env)
		if err != nil {
			return err
		}
		if role, err = body.Role(); err != nil {
			return err
		}

		policy, err := governingPolicyTx(tx, role)
		if err != nil {
			return err
		}
		threshold, err := policy.Threshold()
		if err != nil {
			return err
		}
		approvals, err := ledger.CountApprovalsTx(tx, requestID)
		if err != nil {
			return err
		}
		if approvals < threshold {
			return fmt.Errorf("%w: %d of %d approvals", ErrPolicyNotSatisfied, approvals, threshold)
		}

		if pb, ok := body.(*contract.PolicyBody); ok {
			committed := pb.Draft
			committed.Signature = signature
			encoded, err := contract.EncodePolicy(&committed)
			if err != nil {
				return err
			}
			if err := ledger.UpsertCommittedTx(tx, role, encoded); err != nil {
				return err
			}
		}

		if err := ledger.DeletePendingTx(tx, requestID); err != nil {
			return err
		}
		return ledger.AppendLogTx(tx, &ledger.LogEntry{
			Type:      ledger.LogCommitted,
			RequestID: requestID,
			Actor:     actor,
			Role:      role,
		})
	})
	if err != nil {
		return err
	}

	c.logger.Info("request committed", "id", requestID, "role", role, "actor", actor)
	return nil
}

// GetCommittedPolicy returns the committed policy governing a role.
func (c *Coordinator) GetCommittedPolicy(ctx context.Context, role string) (*contract.Policy, error) {
	row, err := c.ledger.GetCommittedByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	return contract.DecodePolicy(row.Data)
}

// governingPolicyTx resolves the committed policy for a role inside a
// transaction.
func governingPolicyTx(tx *sql.Tx, role string) (*contract.Policy, error) {
	var data []byte
	err := tx.QueryRow(`SELECT data FROM committed_policies WHERE role_id = ?`, role).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNoGoverningPolicy, role)
	}
	if err != nil {
		return nil, fmt.Errorf("loading governing policy: %w", err)
	}
	return contract.DecodePolicy(data)
}

// roleOf best-effort extracts the role from stored envelope bytes for
// log entries. Undecodable data yields an empty role rather than an
// error; the log entry still records the deletion.
func roleOf(data []byte) string {
	env, err := contract.DecodeEnvelope(data)
	if err != nil {
		return ""
	}
	body, err := contract.Decode(env)
	if err != nil {
		return ""
	}
	role, err := body.Role()
	if err != nil {
		return ""
	}
	return role
}
