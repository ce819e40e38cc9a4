package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quorumgate/quorumgate/internal/contract"
	"github.com/quorumgate/quorumgate/internal/gateway"
	"github.com/quorumgate/quorumgate/internal/ledger"
)

// Readiness is the result of testing a request against its governing
// policy.
type Readiness struct {
	Ready     bool   `json:"ready"`
	Reason    string `json:"reason,omitempty"`
	Approvals int    `json:"approvals"`
	Threshold int    `json:"threshold,omitempty"`
}

// PendingView is a pending request composed with its decision rows and
// readiness for the application layer. Approver lists come from
// decision rows, never from parsing the envelope.
type PendingView struct {
	ID          string    `json:"id"`
	RequestedBy string    `json:"requested_by"`
	ContractID  string    `json:"contract_id"`
	Role        string    `json:"role,omitempty"`
	StaticData  string    `json:"static_data,omitempty"`
	DynamicData string    `json:"dynamic_data,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ApprovedBy  []string  `json:"approved_by"`
	DeniedBy    []string  `json:"denied_by"`
	CommitReady bool      `json:"commit_ready"`
	Expired     bool      `json:"expired,omitempty"`
}

// EvaluateReadiness deterministically tests whether a request
// satisfies its governing policy's threshold. Pure: no side effects,
// idempotent. Denials never count toward or against the threshold.
func (c *Coordinator) EvaluateReadiness(ctx context.Context, requestID, role string) (Readiness, error) {
	policy, err := c.GetCommittedPolicy(ctx, role)
	if errors.Is(err, ledger.ErrNotFound) {
		return Readiness{Reason: fmt.Sprintf("no committed policy for role %q", role)}, nil
	}
	if err != nil {
		return Readiness{}, err
	}
	threshold, err := policy.Threshold()
	if err != nil {
		return Readiness{}, err
	}
	approvals, err := c.ledger.CountApprovals(ctx, requestID)
	if err != nil {
		return Readiness{}, err
	}
	r := Readiness{Approvals: approvals, Threshold: threshold}
	if approvals >= threshold {
		r.Ready = true
	} else {
		r.Reason = fmt.Sprintf("%d of %d approvals", approvals, threshold)
	}
	return r, nil
}

// ReconcileAndCheckReadiness evaluates readiness and, on the first
// observation of a request crossing its threshold, embeds the
// governing policy's bytes into the stored envelope so execution has
// the policy material without a second lookup. The embed happens at
// most once per request: subsequent calls see EmbeddedPolicy already
// set and leave the row untouched. This is the one mutation a
// read-shaped operation performs, hence the explicit name.
func (c *Coordinator) ReconcileAndCheckReadiness(ctx context.Context, req *ledger.PendingRequest) (Readiness, error) {
	env, err := contract.DecodeEnvelope(req.Data)
	if err != nil {
		return Readiness{}, err
	}
	body, err := contract.Decode(env)
	if err != nil {
		return Readiness{}, err
	}
	role, err := body.Role()
	if err != nil {
		return Readiness{}, err
	}

	readiness, err := c.EvaluateReadiness(ctx, req.ID, role)
	if err != nil {
		return Readiness{}, err
	}
	if !readiness.Ready || len(env.EmbeddedPolicy) > 0 {
		return readiness, nil
	}

	// First readiness observation: embed the policy. Re-read inside
	// the transaction so a concurrent reconciler's embed is not lost.
	err = c.ledger.WithTx(ctx, func(tx *sql.Tx) error {
		var data []byte
		err := tx.QueryRow(`SELECT data FROM pending_requests WHERE id = ?`, req.ID).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("re-reading pending request: %w", err)
		}
		current, err := contract.DecodeEnvelope(data)
		if err != nil {
			return err
		}
		if len(current.EmbeddedPolicy) > 0 {
			return nil
		}
		var policyData []byte
		err = tx.QueryRow(`SELECT data FROM committed_policies WHERE role_id = ?`, role).Scan(&policyData)
		if err != nil {
			return fmt.Errorf("loading policy for embedding: %w", err)
		}
		current.EmbeddedPolicy = policyData
		updated, err := contract.EncodeEnvelope(current)
		if err != nil {
			return err
		}
		if err := ledger.UpdatePendingDataTx(tx, req.ID, updated); err != nil {
			return err
		}
		req.Data = updated
		return nil
	})
	if err != nil {
		return Readiness{}, err
	}

	c.logger.Debug("request ready, policy embedded", "id", req.ID, "role", role)
	return readiness, nil
}

// ListPending returns all pending requests with derived approver lists
// and readiness flags. Listing runs ReconcileAndCheckReadiness per
// row, so a request crossing its threshold gets its policy embedded as
// a side effect of the first list that observes it.
func (c *Coordinator) ListPending(ctx context.Context) ([]*PendingView, error) {
	reqs, err := c.ledger.ListAllPending(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	views := make([]*PendingView, 0, len(reqs))
	for _, req := range reqs {
		view := &PendingView{
			ID:          req.ID,
			RequestedBy: req.RequestedBy,
			StaticData:  req.StaticData,
			DynamicData: req.DynamicData,
			CreatedAt:   req.CreatedAt,
			ApprovedBy:  []string{},
			DeniedBy:    []string{},
		}
		env, err := contract.DecodeEnvelope(req.Data)
		if err != nil {
			return nil, fmt.Errorf("request %s: %w", req.ID, err)
		}
		view.ContractID = env.ContractID
		view.Expired = env.Expired(now)

		if body, err := contract.Decode(env); err == nil {
			view.Role, _ = body.Role()
		}

		decisions, err := c.ledger.DecisionsFor(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		for _, d := range decisions {
			if d.Approved {
				view.ApprovedBy = append(view.ApprovedBy, d.Approver)
			} else {
				view.DeniedBy = append(view.DeniedBy, d.Approver)
			}
		}

		readiness, err := c.ReconcileAndCheckReadiness(ctx, req)
		if err != nil {
			return nil, err
		}
		view.CommitReady = readiness.Ready
		views = append(views, view)
	}
	return views, nil
}

// RunApprovalCeremony hands every pending request to the gateway's
// operator ceremony and records the returned verdicts as decisions
// under the given approver identity. Items the ceremony leaves pending
// cause no state change. Returns the number of decisions recorded. A
// ceremony transport failure records nothing.
func (c *Coordinator) RunApprovalCeremony(ctx context.Context, gw gateway.Gateway, approver, label string) (int, error) {
	reqs, err := c.ledger.ListAllPending(ctx)
	if err != nil {
		return 0, err
	}
	if len(reqs) == 0 {
		return 0, nil
	}

	items := make([]gateway.CeremonyItem, 0, len(reqs))
	envs := make(map[string]*contract.Envelope, len(reqs))
	for _, req := range reqs {
		env, err := contract.DecodeEnvelope(req.Data)
		if err != nil {
			return 0, fmt.Errorf("request %s: %w", req.ID, err)
		}
		envs[req.ID] = env
		items = append(items, gateway.CeremonyItem{ID: req.ID, Envelope: env})
	}

	outcomes, err := gw.RequestOperatorApproval(ctx, items)
	if err != nil {
		return 0, err
	}

	recorded := 0
	for _, outcome := range outcomes {
		switch {
		case outcome.Approved != nil:
			ok, err := c.RecordDecision(ctx, outcome.Approved, approver, label, false)
			if err != nil {
				return recorded, err
			}
			if ok {
				recorded++
			}
		case outcome.Denied:
			ok, err := c.RecordDecision(ctx, envs[outcome.ID], approver, label, true)
			if err != nil {
				return recorded, err
			}
			if ok {
				recorded++
			}
		}
	}
	return recorded, nil
}
