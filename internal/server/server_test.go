package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"

	"github.com/quorumgate/quorumgate/internal/contract"
	"github.com/quorumgate/quorumgate/internal/coordinator"
	"github.com/quorumgate/quorumgate/internal/gateway"
	"github.com/quorumgate/quorumgate/internal/ledger"
)

type testEnv struct {
	srv    *httptest.Server
	ledger *ledger.Ledger
	signer *gateway.LocalSigner
}

func setupServer(t *testing.T, opts Options) *testEnv {
	t.Helper()
	l, err := ledger.OpenAndMigrate(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("opening ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	signer, err := gateway.NewLocalSigner(time.Hour)
	if err != nil {
		t.Fatalf("creating signer: %v", err)
	}

	logger := log.New(io.Discard)
	coord := coordinator.New(l, logger)
	srv := httptest.NewServer(New(coord, l, signer, logger, opts).Router())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, ledger: l, signer: signer}
}

func (e *testEnv) seedPolicy(t *testing.T, role string, threshold int) {
	t.Helper()
	p := &contract.Policy{
		RoleID:        role,
		Version:       "1",
		ContractID:    contract.ContractPolicy,
		ExecutionType: contract.ExecutionPublic,
		ApprovalType:  contract.ApprovalExplicit,
		Params: []contract.Param{
			{Name: contract.ParamRole, Value: role},
			{Name: contract.ParamThreshold, Value: strconv.Itoa(threshold)},
		},
		Signature: []byte("bootstrap"),
	}
	data, err := contract.EncodePolicy(p)
	if err != nil {
		t.Fatalf("encoding policy: %v", err)
	}
	if err := e.ledger.UpsertCommitted(context.Background(), role, data); err != nil {
		t.Fatalf("seeding policy: %v", err)
	}
}

func (e *testEnv) initializedEnvelope(t *testing.T, role string) *contract.Envelope {
	t.Helper()
	payload, err := json.Marshal(contract.GenericBody{RoleName: role, Data: "ZGVhZGJlZWY="})
	if err != nil {
		t.Fatalf("marshaling payload: %v", err)
	}
	env, err := e.signer.Initialize(context.Background(), &contract.Envelope{
		ContractID: contract.ContractGeneric,
		Payload:    payload,
	})
	if err != nil {
		t.Fatalf("initializing envelope: %v", err)
	}
	return env
}

func postJSON(t *testing.T, url string, body any, token string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp, decodeBody(t, resp)
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]json.RawMessage {
	t.Helper()
	defer resp.Body.Close()
	out := map[string]json.RawMessage{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	e := setupServer(t, Options{})
	e.seedPolicy(t, "TestRole", 2)
	env := e.initializedEnvelope(t, "TestRole")

	// Create.
	resp, body := postJSON(t, e.srv.URL+"/v1/requests", map[string]any{
		"create": map[string]any{
			"envelope":     env,
			"requested_by": "alice",
			"static_data":  "deploy key rotation",
		},
	}, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status=%d body=%v", resp.StatusCode, body)
	}
	var id string
	if err := json.Unmarshal(body["id"], &id); err != nil || id != env.ID {
		t.Fatalf("create returned id %q want %q", id, env.ID)
	}

	// Two approvals.
	for _, approver := range []string{"approver-a", "approver-b"} {
		resp, body = postJSON(t, e.srv.URL+"/v1/requests", map[string]any{
			"decide": map[string]any{"envelope": env, "approver": approver},
		}, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("decide status=%d body=%v", resp.StatusCode, body)
		}
	}

	// Listing shows readiness and both approvers.
	resp, body = getJSON(t, e.srv.URL+"/v1/requests")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status=%d", resp.StatusCode)
	}
	var views []coordinator.PendingView
	if err := json.Unmarshal(body["requests"], &views); err != nil {
		t.Fatalf("decoding views: %v", err)
	}
	if len(views) != 1 || !views[0].CommitReady {
		t.Fatalf("expected one commit-ready request, got %+v", views)
	}
	if len(views[0].ApprovedBy) != 2 {
		t.Errorf("approvedBy=%v want two entries", views[0].ApprovedBy)
	}

	// The list embedded the policy; sign and commit.
	req, err := e.ledger.GetPending(context.Background(), id)
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	stored, err := contract.DecodeEnvelope(req.Data)
	if err != nil {
		t.Fatalf("decoding stored envelope: %v", err)
	}
	sig, err := e.signer.Execute(context.Background(), stored)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	resp, body = postJSON(t, e.srv.URL+"/v1/requests", map[string]any{
		"commit": map[string]any{"id": id, "signature": base64.StdEncoding.EncodeToString(sig)},
		"actor":  "approver-a",
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("commit status=%d body=%v", resp.StatusCode, body)
	}

	resp, body = getJSON(t, e.srv.URL+"/v1/requests")
	if err := json.Unmarshal(body["requests"], &views); err != nil {
		t.Fatalf("decoding views: %v", err)
	}
	if len(views) != 0 {
		t.Errorf("committed request still listed")
	}

	// The change log recorded the whole lifecycle.
	resp, body = getJSON(t, e.srv.URL+"/v1/logs")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logs status=%d", resp.StatusCode)
	}
	var entries []ledger.LogEntry
	if err := json.Unmarshal(body["logs"], &entries); err != nil {
		t.Fatalf("decoding logs: %v", err)
	}
	if len(entries) != 4 {
		t.Errorf("expected 4 log entries (created, 2 approved, committed), got %d", len(entries))
	}
	if entries[0].Type != ledger.LogCommitted {
		t.Errorf("newest entry=%s want committed", entries[0].Type)
	}
}

func TestPolicyEndpoint_NeverLeaksSignature(t *testing.T) {
	e := setupServer(t, Options{})
	e.seedPolicy(t, "TestRole", 2)

	resp, err := http.Get(e.srv.URL + "/v1/policies?role=TestRole")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if strings.Contains(string(raw), "signature") {
		t.Errorf("policy response leaked signature material: %s", raw)
	}
	if strings.Contains(string(raw), base64.StdEncoding.EncodeToString([]byte("bootstrap"))) {
		t.Errorf("policy response leaked signature bytes")
	}

	var body struct {
		Policy contract.Policy `json:"policy"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("decoding policy: %v", err)
	}
	threshold, err := body.Policy.Threshold()
	if err != nil || threshold != 2 {
		t.Errorf("threshold=%d err=%v want 2", threshold, err)
	}
}

func TestPolicyEndpoint_Errors(t *testing.T) {
	e := setupServer(t, Options{})

	resp, _ := getJSON(t, e.srv.URL+"/v1/policies")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing role: status=%d want 400", resp.StatusCode)
	}

	resp, _ = getJSON(t, e.srv.URL+"/v1/policies?role=NoSuchRole")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown role: status=%d want 404", resp.StatusCode)
	}
}

func TestMutate_ExactlyOneAction(t *testing.T) {
	e := setupServer(t, Options{})

	resp, _ := postJSON(t, e.srv.URL+"/v1/requests", map[string]any{}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty mutate: status=%d want 400", resp.StatusCode)
	}

	env := e.initializedEnvelope(t, "TestRole")
	resp, _ = postJSON(t, e.srv.URL+"/v1/requests", map[string]any{
		"create": map[string]any{"envelope": env, "requested_by": "alice"},
		"commit": map[string]any{"id": "x", "signature": "eA=="},
	}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("two actions: status=%d want 400", resp.StatusCode)
	}
}

func TestErrorMapping(t *testing.T) {
	e := setupServer(t, Options{})
	e.seedPolicy(t, "TestRole", 2)

	// Uninitialized envelope rejected at create.
	payload, _ := json.Marshal(contract.GenericBody{RoleName: "TestRole", Data: "eA=="})
	bare := &contract.Envelope{ContractID: contract.ContractGeneric, Payload: payload}
	resp, body := postJSON(t, e.srv.URL+"/v1/requests", map[string]any{
		"create": map[string]any{"envelope": bare, "requested_by": "alice"},
	}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("uninitialized create: status=%d want 400", resp.StatusCode)
	}

	// Commit below threshold conflicts.
	env := e.initializedEnvelope(t, "TestRole")
	resp, _ = postJSON(t, e.srv.URL+"/v1/requests", map[string]any{
		"create": map[string]any{"envelope": env, "requested_by": "alice"},
	}, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create failed: %d", resp.StatusCode)
	}
	resp, body = postJSON(t, e.srv.URL+"/v1/requests", map[string]any{
		"commit": map[string]any{"id": env.ID, "signature": "c2ln"},
		"actor":  "alice",
	}, "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("premature commit: status=%d body=%v want 409", resp.StatusCode, body)
	}

	// Unknown request deletes map to 404.
	req, err := http.NewRequest(http.MethodDelete, e.srv.URL+"/v1/requests?id=no-such-id&actor=alice", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown delete: status=%d want 404", delResp.StatusCode)
	}
}

func mintToken(t *testing.T, secret, subject, email string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   subject,
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("minting token: %v", err)
	}
	return token
}

func TestAuth_RequiredRejectsAnonymous(t *testing.T) {
	e := setupServer(t, Options{AuthRequired: true, AuthSecret: "test-secret"})

	resp, err := http.Get(e.srv.URL + "/v1/requests")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous list: status=%d want 401", resp.StatusCode)
	}

	// Health stays open.
	resp, err = http.Get(e.srv.URL + "/health")
	if err != nil {
		t.Fatalf("health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health: status=%d want 200", resp.StatusCode)
	}
}

func TestAuth_IdentityOverridesApprover(t *testing.T) {
	const secret = "test-secret"
	e := setupServer(t, Options{AuthRequired: true, AuthSecret: secret})
	e.seedPolicy(t, "TestRole", 2)
	env := e.initializedEnvelope(t, "TestRole")
	token := mintToken(t, secret, "jwt-subject", "jwt@example.com")

	resp, body := postJSON(t, e.srv.URL+"/v1/requests", map[string]any{
		"create": map[string]any{"envelope": env, "requested_by": "alice"},
	}, token)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status=%d body=%v", resp.StatusCode, body)
	}

	// The caller claims to be someone else; the token wins.
	resp, body = postJSON(t, e.srv.URL+"/v1/requests", map[string]any{
		"decide": map[string]any{"envelope": env, "approver": "impostor"},
	}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decide status=%d body=%v", resp.StatusCode, body)
	}

	decisions, err := e.ledger.DecisionsFor(context.Background(), env.ID)
	if err != nil {
		t.Fatalf("DecisionsFor failed: %v", err)
	}
	if len(decisions) != 1 || decisions[0].Approver != "jwt-subject" {
		t.Errorf("decisions=%+v want approver jwt-subject", decisions)
	}
	if decisions[0].ApproverLabel != "jwt@example.com" {
		t.Errorf("label=%q want jwt@example.com", decisions[0].ApproverLabel)
	}
}

func TestAuth_BadTokenRejected(t *testing.T) {
	e := setupServer(t, Options{AuthRequired: true, AuthSecret: "test-secret"})

	token := mintToken(t, "wrong-secret", "someone", "")
	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/v1/requests", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("forged token: status=%d want 401", resp.StatusCode)
	}
}

func TestInitializeEndpoint(t *testing.T) {
	e := setupServer(t, Options{})

	payload, _ := json.Marshal(contract.GenericBody{RoleName: "TestRole", Data: "eA=="})
	resp, body := postJSON(t, e.srv.URL+"/v1/requests/initialize", &contract.Envelope{
		ContractID: contract.ContractGeneric,
		Payload:    payload,
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initialize status=%d body=%v", resp.StatusCode, body)
	}
	var env contract.Envelope
	if err := json.Unmarshal(body["envelope"], &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if !env.Initialized() {
		t.Errorf("initialize returned an unbound envelope: %+v", env)
	}
	if err := env.VerifyID(); err != nil {
		t.Errorf("VerifyID failed: %v", err)
	}
}

func TestCeremonyEndpoint(t *testing.T) {
	e := setupServer(t, Options{})
	e.seedPolicy(t, "TestRole", 1)
	env := e.initializedEnvelope(t, "TestRole")

	resp, _ := postJSON(t, e.srv.URL+"/v1/requests", map[string]any{
		"create": map[string]any{"envelope": env, "requested_by": "alice"},
	}, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create failed: %d", resp.StatusCode)
	}

	resp, body := postJSON(t, e.srv.URL+"/v1/ceremony", map[string]any{
		"approver": "operator-1",
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ceremony status=%d body=%v", resp.StatusCode, body)
	}
	var recorded int
	if err := json.Unmarshal(body["recorded"], &recorded); err != nil || recorded != 1 {
		t.Errorf("recorded=%d err=%v want 1", recorded, err)
	}
}

func TestStatsEndpoint(t *testing.T) {
	e := setupServer(t, Options{})
	e.seedPolicy(t, "TestRole", 1)

	resp, body := getJSON(t, e.srv.URL+"/v1/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status=%d", resp.StatusCode)
	}
	if _, ok := body["schema_version"]; !ok {
		t.Errorf("stats missing schema_version: %v", body)
	}
}
