package server

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/quorumgate/quorumgate/internal/contract"
	"github.com/quorumgate/quorumgate/internal/coordinator"
	"github.com/quorumgate/quorumgate/internal/gateway"
	"github.com/quorumgate/quorumgate/internal/ledger"
)

// handleListPending serves the pending request list with derived
// approver lists and readiness flags. Listing reconciles readiness,
// so a request crossing its threshold is mutated here (policy bytes
// embedded) on the first list that observes it.
func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	views, err := s.coord.ListPending(r.Context())
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": views})
}

// handleGetPolicy serves a committed policy's public parameters. The
// signature never leaves the ledger through this surface.
func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	role := strings.TrimSpace(r.URL.Query().Get("role"))
	if role == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "role query parameter is required", false)
		return
	}
	policy, err := s.coord.GetCommittedPolicy(r.Context(), role)
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no committed policy for role "+role, false)
		return
	}
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policy": policy.PublicView()})
}

type createBody struct {
	Envelope    *contract.Envelope `json:"envelope"`
	RequestedBy string             `json:"requested_by"`
	StaticData  string             `json:"static_data,omitempty"`
	DynamicData string             `json:"dynamic_data,omitempty"`
}

type decideBody struct {
	Envelope *contract.Envelope `json:"envelope"`
	Approver string             `json:"approver,omitempty"`
	Label    string             `json:"label,omitempty"`
	Rejected bool               `json:"rejected,omitempty"`
}

type commitBody struct {
	ID        string `json:"id"`
	Signature string `json:"signature"`
}

type mutateBody struct {
	Create *createBody `json:"create,omitempty"`
	Decide *decideBody `json:"decide,omitempty"`
	Commit *commitBody `json:"commit,omitempty"`
	Actor  string      `json:"actor,omitempty"`
}

// handleMutateRequests accepts exactly one of create, decide, or
// commit.
func (s *Server) handleMutateRequests(w http.ResponseWriter, r *http.Request) {
	var body mutateBody
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), false)
		return
	}

	set := 0
	for _, present := range []bool{body.Create != nil, body.Decide != nil, body.Commit != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "exactly one of create, decide, or commit is required", false)
		return
	}

	switch {
	case body.Create != nil:
		s.create(w, r, body.Create)
	case body.Decide != nil:
		s.decide(w, r, body.Decide)
	default:
		s.commit(w, r, body.Commit, body.Actor)
	}
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, body *createBody) {
	if body.Envelope == nil || body.RequestedBy == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "create requires envelope and requested_by", false)
		return
	}
	id, err := s.coord.Create(r.Context(), body.Envelope, body.RequestedBy, body.StaticData, body.DynamicData)
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) decide(w http.ResponseWriter, r *http.Request, body *decideBody) {
	if body.Envelope == nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "decide requires an envelope", false)
		return
	}
	approver := body.Approver
	label := body.Label
	if id, ok := IdentityFrom(r.Context()); ok {
		// The authenticated identity wins over the caller-supplied one.
		approver = id.Subject
		if label == "" {
			label = id.Email
		}
	}
	if approver == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "decide requires an approver identity", false)
		return
	}
	recorded, err := s.coord.RecordDecision(r.Context(), body.Envelope, approver, label, body.Rejected)
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recorded": recorded})
}

func (s *Server) commit(w http.ResponseWriter, r *http.Request, body *commitBody, actor string) {
	if body.ID == "" || body.Signature == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "commit requires id and signature", false)
		return
	}
	sig, err := base64.StdEncoding.DecodeString(body.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "signature must be base64", false)
		return
	}
	if id, ok := IdentityFrom(r.Context()); ok {
		actor = id.Subject
	}
	if actor == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "commit requires an actor", false)
		return
	}
	if err := s.coord.Commit(r.Context(), body.ID, sig, actor); err != nil {
		s.writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"committed": true})
}

// handleDeleteRequest removes a pending request.
func (s *Server) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	actor := strings.TrimSpace(r.URL.Query().Get("actor"))
	if authID, ok := IdentityFrom(r.Context()); ok {
		actor = authID.Subject
	}
	if id == "" || actor == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "id and actor are required", false)
		return
	}
	if err := s.coord.Delete(r.Context(), id, actor); err != nil {
		s.writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// handleInitialize proxies the gateway's Initialize step so callers
// can bind an id and expiry to a fresh envelope before create.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var env contract.Envelope
	if err := readJSON(r, &env); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), false)
		return
	}
	bound, err := s.gw.Initialize(r.Context(), &env)
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"envelope": bound})
}

// handleCeremony runs the operator approval ceremony over all pending
// requests on behalf of the authenticated approver.
func (s *Server) handleCeremony(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Approver string `json:"approver,omitempty"`
		Label    string `json:"label,omitempty"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), false)
		return
	}
	approver := body.Approver
	label := body.Label
	if id, ok := IdentityFrom(r.Context()); ok {
		approver = id.Subject
		if label == "" {
			label = id.Email
		}
	}
	if approver == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "ceremony requires an approver identity", false)
		return
	}
	recorded, err := s.coord.RunApprovalCeremony(r.Context(), s.gw, approver, label)
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recorded": recorded})
}

// handleListLogs serves the change log, newest first.
func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.ListLogs(r.Context(), s.opts.LogLimit)
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

// handleStats serves ledger row counts.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.GetStats()
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeCoordinatorError maps engine errors to HTTP responses. The
// retryable flag distinguishes "no effect, safe to retry" from
// failures the caller must change something to fix.
func (s *Server) writeCoordinatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, contract.ErrNotInitialized):
		writeError(w, http.StatusBadRequest, "NOT_INITIALIZED", err.Error(), false)
	case errors.Is(err, contract.ErrIDMismatch):
		writeError(w, http.StatusBadRequest, "ID_MISMATCH", err.Error(), false)
	case errors.Is(err, contract.ErrUnknownContract):
		writeError(w, http.StatusBadRequest, "UNKNOWN_CONTRACT", err.Error(), false)
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), false)
	case errors.Is(err, coordinator.ErrPolicyNotSatisfied):
		writeError(w, http.StatusConflict, "POLICY_NOT_SATISFIED", err.Error(), false)
	case errors.Is(err, coordinator.ErrNoGoverningPolicy):
		writeError(w, http.StatusConflict, "NO_GOVERNING_POLICY", err.Error(), false)
	case errors.Is(err, gateway.ErrBackendUnavailable):
		writeError(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", err.Error(), true)
	default:
		s.logger.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), false)
	}
}
