package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Built-in contract identifiers.
const (
	ContractPolicy    = "policy.v1"
	ContractRoleGrant = "rolegrant.v1"
	ContractGeneric   = "generic.v1"
)

// ErrUnknownContract is returned when no decoder is registered for a
// contract id.
var ErrUnknownContract = errors.New("unknown contract id")

// Body is a decoded contract payload. Every contract kind must expose
// the role whose committed policy governs it.
type Body interface {
	// Role returns the governed role used to resolve the governing policy.
	Role() (string, error)
}

// Decoder turns raw payload bytes into a typed contract body.
type Decoder func(payload json.RawMessage) (Body, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Decoder{}
)

// Register installs a decoder for a contract id. Later registrations
// replace earlier ones, which lets applications override a built-in.
func Register(contractID string, dec Decoder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[contractID] = dec
}

// Decode resolves the envelope's contract id against the registry and
// decodes its payload. Resolution happens here, once, at the boundary;
// downstream code works with the typed Body.
func Decode(e *Envelope) (Body, error) {
	registryMu.RLock()
	dec, ok := registry[e.ContractID]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownContract, e.ContractID)
	}
	return dec(e.Payload)
}

// PolicyBody is a policy draft awaiting quorum approval. Its governing
// role is the draft's own role parameter, so policy changes are gated
// by the committed policy for that same role (bootstrapped by an admin
// policy).
type PolicyBody struct {
	Draft Policy `json:"draft"`
}

// Role implements Body.
func (b *PolicyBody) Role() (string, error) {
	return b.Draft.Role()
}

// RoleGrantBody grants a role on a resource to an identity.
type RoleGrantBody struct {
	RoleName string `json:"role"`
	Grantee  string `json:"grantee"`
	Resource string `json:"resource,omitempty"`
}

// Role implements Body.
func (b *RoleGrantBody) Role() (string, error) {
	if b.RoleName == "" {
		return "", ErrMissingRole
	}
	return b.RoleName, nil
}

// GenericBody is an application-defined signing payload. Data is
// opaque to the engine; only the role matters for governance.
type GenericBody struct {
	RoleName    string `json:"role"`
	Description string `json:"description,omitempty"`
	Data        string `json:"data"`
}

// Role implements Body.
func (b *GenericBody) Role() (string, error) {
	if b.RoleName == "" {
		return "", ErrMissingRole
	}
	return b.RoleName, nil
}

func init() {
	Register(ContractPolicy, func(payload json.RawMessage) (Body, error) {
		var b PolicyBody
		if err := json.Unmarshal(payload, &b); err != nil {
			return nil, fmt.Errorf("decoding policy payload: %w", err)
		}
		// A draft must be unsigned. Committed policies are immutable;
		// rotation means submitting a fresh draft, never resubmitting a
		// signed one.
		if b.Draft.Frozen() {
			return nil, ErrPolicyFrozen
		}
		if err := b.Draft.Validate(); err != nil {
			return nil, err
		}
		return &b, nil
	})
	Register(ContractRoleGrant, func(payload json.RawMessage) (Body, error) {
		var b RoleGrantBody
		if err := json.Unmarshal(payload, &b); err != nil {
			return nil, fmt.Errorf("decoding role grant payload: %w", err)
		}
		if b.Grantee == "" {
			return nil, fmt.Errorf("role grant requires a grantee")
		}
		return &b, nil
	})
	Register(ContractGeneric, func(payload json.RawMessage) (Body, error) {
		var b GenericBody
		if err := json.Unmarshal(payload, &b); err != nil {
			return nil, fmt.Errorf("decoding generic payload: %w", err)
		}
		return &b, nil
	})
}
