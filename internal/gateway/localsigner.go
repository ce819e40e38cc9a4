package gateway

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quorumgate/quorumgate/internal/contract"
)

// Verdict is a scripted ceremony outcome for LocalSigner.
type Verdict int

// Scripted verdicts.
const (
	VerdictApprove Verdict = iota
	VerdictDeny
	VerdictPending
)

// LocalSigner is an in-process Gateway for development and tests. It
// derives request ids deterministically, signs with an ed25519 key,
// and resolves operator ceremonies from a per-request script
// (approving by default).
type LocalSigner struct {
	pub      ed25519.PublicKey
	priv     ed25519.PrivateKey
	ttl      time.Duration
	operator string
	script   map[string]Verdict
}

// NewLocalSigner creates a LocalSigner with a fresh key and the given
// envelope TTL.
func NewLocalSigner(ttl time.Duration) (*LocalSigner, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LocalSigner{
		pub:      pub,
		priv:     priv,
		ttl:      ttl,
		operator: "local-operator-" + uuid.NewString()[:8],
		script:   map[string]Verdict{},
	}, nil
}

// PublicKey returns the signer's verification key.
func (s *LocalSigner) PublicKey() ed25519.PublicKey {
	return s.pub
}

// Script sets the ceremony verdict for a request id.
func (s *LocalSigner) Script(requestID string, v Verdict) {
	s.script[requestID] = v
}

// Initialize implements Gateway. The bound id is the envelope's
// deterministic derived id, so re-initializing the same logical
// request yields the same id.
func (s *LocalSigner) Initialize(_ context.Context, env *contract.Envelope) (*contract.Envelope, error) {
	bound := *env
	id, err := bound.DeriveID()
	if err != nil {
		return nil, err
	}
	bound.ID = id
	bound.ExpiresAt = time.Now().UTC().Add(s.ttl).Format(time.RFC3339)
	return &bound, nil
}

// RequestOperatorApproval implements Gateway. Approved items get an
// opaque approval share folded into their envelope, at most once per
// operator: re-running the ceremony over an already-annotated envelope
// does not grow it.
func (s *LocalSigner) RequestOperatorApproval(_ context.Context, items []CeremonyItem) ([]CeremonyOutcome, error) {
	outcomes := make([]CeremonyOutcome, 0, len(items))
	for _, item := range items {
		switch s.script[item.ID] {
		case VerdictDeny:
			outcomes = append(outcomes, CeremonyOutcome{ID: item.ID, Denied: true})
		case VerdictPending:
			outcomes = append(outcomes, CeremonyOutcome{ID: item.ID, Pending: true})
		default:
			approved := *item.Envelope
			if _, ok := approved.ApproverShare(s.operator); !ok {
				share := ed25519.Sign(s.priv, []byte(item.ID))
				approved.Approvals = append(approved.Approvals, contract.ApprovalShare{
					Approver: s.operator,
					Share:    base64.StdEncoding.EncodeToString(share),
					SignedAt: time.Now().UTC().Format(time.RFC3339),
				})
			}
			outcomes = append(outcomes, CeremonyOutcome{ID: item.ID, Approved: &approved})
		}
	}
	return outcomes, nil
}

// Execute implements Gateway: signs the canonical envelope bytes.
// Refuses envelopes without embedded policy material, since that is
// only present once readiness was established.
func (s *LocalSigner) Execute(_ context.Context, env *contract.Envelope) ([]byte, error) {
	if len(env.EmbeddedPolicy) == 0 {
		return nil, ErrPolicyNotEmbedded
	}
	canonical, err := env.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(s.priv, canonical), nil
}

// Verify checks a signature produced by Execute.
func (s *LocalSigner) Verify(env *contract.Envelope, sig []byte) (bool, error) {
	canonical, err := env.CanonicalBytes()
	if err != nil {
		return false, err
	}
	return ed25519.Verify(s.pub, canonical, sig), nil
}
