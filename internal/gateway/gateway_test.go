package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quorumgate/quorumgate/internal/contract"
)

func testEnvelope(t *testing.T) *contract.Envelope {
	t.Helper()
	payload, err := json.Marshal(contract.GenericBody{RoleName: "TestRole", Data: "ZGVhZGJlZWY="})
	if err != nil {
		t.Fatalf("marshaling payload: %v", err)
	}
	return &contract.Envelope{ContractID: contract.ContractGeneric, Payload: payload}
}

func TestLocalSigner_InitializeDeterministic(t *testing.T) {
	signer, err := NewLocalSigner(time.Hour)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	ctx := context.Background()

	first, err := signer.Initialize(ctx, testEnvelope(t))
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	second, err := signer.Initialize(ctx, testEnvelope(t))
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if first.ID == "" {
		t.Fatalf("Initialize left the id empty")
	}
	if first.ID != second.ID {
		t.Errorf("same logical request got different ids: %s != %s", first.ID, second.ID)
	}
	if err := first.VerifyID(); err != nil {
		t.Errorf("VerifyID failed on initialized envelope: %v", err)
	}
	if first.Expired(time.Now().UTC()) {
		t.Errorf("freshly initialized envelope already expired")
	}
}

func TestLocalSigner_ExecuteRequiresEmbeddedPolicy(t *testing.T) {
	signer, err := NewLocalSigner(time.Hour)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	ctx := context.Background()

	env, err := signer.Initialize(ctx, testEnvelope(t))
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if _, err := signer.Execute(ctx, env); !errors.Is(err, ErrPolicyNotEmbedded) {
		t.Fatalf("expected ErrPolicyNotEmbedded, got %v", err)
	}

	env.EmbeddedPolicy = json.RawMessage(`{"role_id":"TestRole"}`)
	sig, err := signer.Execute(ctx, env)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	ok, err := signer.Verify(env, sig)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Errorf("signature did not verify")
	}

	// A different envelope must not verify under the same signature.
	env.EmbeddedPolicy = json.RawMessage(`{"role_id":"OtherRole"}`)
	ok, err = signer.Verify(env, sig)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Errorf("signature verified against altered envelope")
	}
}

func TestLocalSigner_ScriptedCeremony(t *testing.T) {
	signer, err := NewLocalSigner(time.Hour)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	ctx := context.Background()

	env, err := signer.Initialize(ctx, testEnvelope(t))
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	signer.Script(env.ID, VerdictDeny)

	outcomes, err := signer.RequestOperatorApproval(ctx, []CeremonyItem{{ID: env.ID, Envelope: env}})
	if err != nil {
		t.Fatalf("RequestOperatorApproval failed: %v", err)
	}
	if len(outcomes) != 1 || !outcomes[0].Denied {
		t.Fatalf("expected a denied outcome, got %+v", outcomes)
	}

	// Default verdict approves and folds in a share.
	signer.Script(env.ID, VerdictApprove)
	outcomes, err = signer.RequestOperatorApproval(ctx, []CeremonyItem{{ID: env.ID, Envelope: env}})
	if err != nil {
		t.Fatalf("RequestOperatorApproval failed: %v", err)
	}
	approved := outcomes[0].Approved
	if approved == nil {
		t.Fatalf("expected an approved outcome, got %+v", outcomes[0])
	}
	if len(approved.Approvals) != 1 {
		t.Errorf("approval share not folded into envelope")
	}
	if len(env.Approvals) != 0 {
		t.Errorf("ceremony mutated the caller's envelope")
	}

	// Re-running the ceremony over the annotated envelope does not
	// fold a second share for the same operator.
	outcomes, err = signer.RequestOperatorApproval(ctx, []CeremonyItem{{ID: env.ID, Envelope: approved}})
	if err != nil {
		t.Fatalf("RequestOperatorApproval failed: %v", err)
	}
	if again := outcomes[0].Approved; again == nil || len(again.Approvals) != 1 {
		t.Errorf("repeat ceremony grew the approval shares: %+v", outcomes[0])
	}
}

func TestClient_InitializeAndExecute(t *testing.T) {
	var gotPath, gotClientID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotClientID = r.Header.Get("X-Client-ID")
		switch {
		case gotPath == "/realms/prod/signing/initialize":
			var env contract.Envelope
			if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			env.ID, _ = env.DeriveID()
			env.ExpiresAt = time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
			json.NewEncoder(w).Encode(&env)
		case gotPath == "/realms/prod/signing/execute":
			json.NewEncoder(w).Encode(map[string]string{
				"signature": base64.StdEncoding.EncodeToString([]byte("signed")),
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{
		BaseURL:  srv.URL,
		Realm:    "prod",
		ClientID: "client-1",
		KeyID:    "key-1",
	})
	ctx := context.Background()

	env, err := client.Initialize(ctx, testEnvelope(t))
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if !env.Initialized() {
		t.Fatalf("backend envelope not initialized: %+v", env)
	}
	if gotClientID != "client-1" {
		t.Errorf("X-Client-ID=%q want client-1", gotClientID)
	}

	env.EmbeddedPolicy = json.RawMessage(`{"role_id":"TestRole"}`)
	sig, err := client.Execute(ctx, env)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if string(sig) != "signed" {
		t.Errorf("signature=%q want signed", sig)
	}
	if gotPath != "/realms/prod/signing/execute" {
		t.Errorf("path=%q", gotPath)
	}
}

func TestClient_ExecuteWithoutPolicy(t *testing.T) {
	client := NewClient(ClientOptions{BaseURL: "http://localhost:1", Realm: "prod"})
	env := testEnvelope(t)
	env.ID = "some-id"

	// Refused locally, before any network call.
	if _, err := client.Execute(context.Background(), env); !errors.Is(err, ErrPolicyNotEmbedded) {
		t.Errorf("expected ErrPolicyNotEmbedded, got %v", err)
	}
}

func TestClient_BackendUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	client := NewClient(ClientOptions{BaseURL: srv.URL, Realm: "prod"})
	ctx := context.Background()

	_, err := client.Initialize(ctx, testEnvelope(t))
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable for 500, got %v", err)
	}

	// A refused connection maps to the same sentinel.
	srv.Close()
	_, err = client.Initialize(ctx, testEnvelope(t))
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable for dead server, got %v", err)
	}
}

func TestClient_OutcomeCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"outcomes": []any{}})
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{BaseURL: srv.URL, Realm: "prod"})
	env := testEnvelope(t)
	env.ID = "some-id"

	_, err := client.RequestOperatorApproval(context.Background(), []CeremonyItem{{ID: env.ID, Envelope: env}})
	if err == nil {
		t.Fatalf("expected error for outcome count mismatch")
	}
}
