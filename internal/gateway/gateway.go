// Package gateway is the boundary to the identity backend: the only
// place binding cryptographic effects are produced. The coordinator
// talks to the Gateway interface; the HTTP client implementation calls
// the real backend, and LocalSigner provides an in-process
// implementation for development and tests.
package gateway

import (
	"context"
	"errors"

	"github.com/quorumgate/quorumgate/internal/contract"
)

// Gateway errors.
var (
	// ErrBackendUnavailable is returned when the identity backend
	// cannot be reached or times out. No local state is mutated.
	ErrBackendUnavailable = errors.New("identity backend unavailable")
	// ErrPolicyNotEmbedded is returned by Execute when the envelope
	// lacks its governing policy material.
	ErrPolicyNotEmbedded = errors.New("envelope has no embedded policy")
)

// CeremonyItem is one pending request handed to the operator approval
// ceremony.
type CeremonyItem struct {
	ID       string             `json:"id"`
	Envelope *contract.Envelope `json:"envelope"`
}

// CeremonyOutcome is the ceremony's verdict for one item. Exactly one
// of Approved, Denied, or Pending is set per item.
type CeremonyOutcome struct {
	ID       string             `json:"id"`
	Approved *contract.Envelope `json:"approved,omitempty"`
	Denied   bool               `json:"denied,omitempty"`
	Pending  bool               `json:"pending,omitempty"`
}

// Gateway is the identity backend contract. All three operations are
// external I/O: callers treat them as fallible network calls, not
// local computation.
type Gateway interface {
	// Initialize binds a unique identifier and expiry to a freshly
	// constructed envelope. Must be called before the coordinator's
	// Create.
	Initialize(ctx context.Context, env *contract.Envelope) (*contract.Envelope, error)

	// RequestOperatorApproval delegates the human/cryptographic
	// approval ceremony. Each input id maps to exactly one outcome. A
	// timed-out or abandoned ceremony leaves every item pending with
	// zero net state change.
	RequestOperatorApproval(ctx context.Context, items []CeremonyItem) ([]CeremonyOutcome, error)

	// Execute produces the final signature for an envelope whose
	// governing policy has been embedded. Irreversible; only invoked
	// once readiness has been established.
	Execute(ctx context.Context, env *contract.Envelope) ([]byte, error)
}
