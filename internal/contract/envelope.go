package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// Envelope errors.
var (
	// ErrNotInitialized is returned when an envelope has not been
	// through the backend's Initialize step (no bound id/expiry).
	ErrNotInitialized = errors.New("envelope is not initialized")
	// ErrIDMismatch is returned when an envelope's id does not match
	// the id derived from its payload.
	ErrIDMismatch = errors.New("envelope id does not match derived id")
)

// ApprovalShare is one approver's opaque cryptographic contribution,
// folded into the envelope as approvals accumulate. The share bytes
// are meaningful only to the identity backend.
type ApprovalShare struct {
	Approver string `json:"approver"`
	Share    string `json:"share"`
	SignedAt string `json:"signed_at,omitempty"`
}

// Envelope wraps an opaque contract payload through the approval
// workflow. ID and ExpiresAt are bound by the identity backend's
// Initialize step; Approvals and EmbeddedPolicy are folded in as the
// request progresses. The payload itself never changes after
// initialization, which is what keeps the derived id stable.
type Envelope struct {
	ID             string          `json:"id,omitempty"`
	ContractID     string          `json:"contract_id"`
	KeyID          string          `json:"key_id,omitempty"`
	ExpiresAt      string          `json:"expires_at,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Approvals      []ApprovalShare `json:"approvals,omitempty"`
	EmbeddedPolicy json.RawMessage `json:"embedded_policy,omitempty"`
}

// Initialized reports whether the backend has bound an id and expiry.
func (e *Envelope) Initialized() bool {
	return e.ID != "" && e.ExpiresAt != ""
}

// Expired reports whether the envelope's expiry has passed. An
// envelope with an unparseable expiry is treated as expired.
func (e *Envelope) Expired(now time.Time) bool {
	if e.ExpiresAt == "" {
		return false
	}
	exp, err := time.Parse(time.RFC3339, e.ExpiresAt)
	if err != nil {
		return true
	}
	return now.After(exp)
}

// ApproverShare returns the share contributed by the given approver,
// if any.
func (e *Envelope) ApproverShare(approver string) (ApprovalShare, bool) {
	for _, s := range e.Approvals {
		if s.Approver == approver {
			return s, true
		}
	}
	return ApprovalShare{}, false
}

// DeriveID computes the deterministic identifier for the envelope:
// the hex SHA-256 of the RFC 8785 canonical form of the contract id
// and payload. Approvals, the embedded policy, and the id itself are
// excluded so the id is stable across re-encodes of the same logical
// request.
func (e *Envelope) DeriveID() (string, error) {
	stable := struct {
		ContractID string          `json:"contract_id"`
		KeyID      string          `json:"key_id,omitempty"`
		Payload    json.RawMessage `json:"payload"`
	}{
		ContractID: e.ContractID,
		KeyID:      e.KeyID,
		Payload:    e.Payload,
	}
	raw, err := json.Marshal(stable)
	if err != nil {
		return "", fmt.Errorf("encoding envelope for id derivation: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalizing envelope: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyID checks that the envelope's bound id matches its derived id.
func (e *Envelope) VerifyID() error {
	if e.ID == "" {
		return ErrNotInitialized
	}
	derived, err := e.DeriveID()
	if err != nil {
		return err
	}
	if derived != e.ID {
		return ErrIDMismatch
	}
	return nil
}

// CanonicalBytes returns the RFC 8785 canonical encoding of the whole
// envelope, the form that gets signed at execution time.
func (e *Envelope) CanonicalBytes() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return jcs.Transform(raw)
}

// EncodeEnvelope serializes an envelope for storage.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope deserializes a stored envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	return &e, nil
}
