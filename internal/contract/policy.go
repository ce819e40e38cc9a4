// Package contract defines the payload data model for quorum-gated
// requests: signed policies, the request envelope that accumulates
// approval material, and the registry mapping contract identifiers to
// payload decoders.
package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Execution types for a policy.
const (
	ExecutionPublic  = "public"
	ExecutionPrivate = "private"
)

// Approval types for a policy.
const (
	ApprovalExplicit = "explicit"
	ApprovalImplicit = "implicit"
)

// Well-known parameter names.
const (
	ParamRole      = "role"
	ParamThreshold = "threshold"
	ParamResource  = "resource"
)

// Policy validation errors.
var (
	// ErrMissingRole is returned when a policy has no role parameter.
	ErrMissingRole = errors.New("policy is missing the role parameter")
	// ErrBadThreshold is returned when the threshold parameter is absent or not a positive integer.
	ErrBadThreshold = errors.New("policy threshold must be a positive integer")
	// ErrPolicyFrozen is returned when a mutation is attempted on a committed policy.
	ErrPolicyFrozen = errors.New("policy is committed and immutable")
)

// Param is a single ordered policy parameter. Parameter order is part
// of the signed material, so params are a slice rather than a map.
type Param struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Policy is a versioned authorization rule: which role it governs, how
// many distinct approvals a request under it needs, and (once
// committed) the signature proving the policy itself was authorized.
type Policy struct {
	RoleID        string  `json:"role_id"`
	Version       string  `json:"version"`
	ModelID       string  `json:"model_id"`
	ContractID    string  `json:"contract_id"`
	KeyID         string  `json:"key_id"`
	ExecutionType string  `json:"execution_type"`
	ApprovalType  string  `json:"approval_type"`
	Params        []Param `json:"params"`
	Signature     []byte  `json:"signature,omitempty"`
}

// Param returns the value of the named parameter and whether it exists.
func (p *Policy) Param(name string) (string, bool) {
	for _, kv := range p.Params {
		if kv.Name == name {
			return kv.Value, true
		}
	}
	return "", false
}

// Role returns the governed role parameter.
func (p *Policy) Role() (string, error) {
	role, ok := p.Param(ParamRole)
	if !ok || role == "" {
		return "", ErrMissingRole
	}
	return role, nil
}

// Threshold returns the approval threshold parameter.
func (p *Policy) Threshold() (int, error) {
	raw, ok := p.Param(ParamThreshold)
	if !ok {
		return 0, ErrBadThreshold
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, ErrBadThreshold
	}
	return n, nil
}

// Frozen reports whether the policy has been committed. A frozen
// policy must never be mutated; rotation happens by committing a
// replacement under the same role.
func (p *Policy) Frozen() bool {
	return len(p.Signature) > 0
}

// Validate checks the structural invariants that must hold before a
// policy draft can enter the approval workflow.
func (p *Policy) Validate() error {
	if p.RoleID == "" {
		return fmt.Errorf("policy role_id is required")
	}
	if p.ContractID == "" {
		return fmt.Errorf("policy contract_id is required")
	}
	if p.ExecutionType != ExecutionPublic && p.ExecutionType != ExecutionPrivate {
		return fmt.Errorf("policy execution_type must be %s or %s", ExecutionPublic, ExecutionPrivate)
	}
	if p.ApprovalType != ApprovalExplicit && p.ApprovalType != ApprovalImplicit {
		return fmt.Errorf("policy approval_type must be %s or %s", ApprovalExplicit, ApprovalImplicit)
	}
	if _, err := p.Role(); err != nil {
		return err
	}
	if _, err := p.Threshold(); err != nil {
		return err
	}
	return nil
}

// PublicView returns the policy with its signature stripped, for
// surfaces that must never expose signature material.
func (p *Policy) PublicView() Policy {
	view := *p
	view.Signature = nil
	return view
}

// EncodePolicy serializes a policy for storage in the committed table.
func EncodePolicy(p *Policy) ([]byte, error) {
	return json.Marshal(p)
}

// DecodePolicy deserializes a stored committed policy.
func DecodePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding policy: %w", err)
	}
	return &p, nil
}
