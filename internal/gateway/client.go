package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quorumgate/quorumgate/internal/contract"
)

// ClientOptions configures the HTTP gateway client. Realm, ClientID,
// and KeyID are opaque identifiers passed through to the backend
// untouched.
type ClientOptions struct {
	BaseURL  string
	Realm    string
	ClientID string
	KeyID    string
	Timeout  time.Duration
}

// Client is the HTTP implementation of Gateway.
type Client struct {
	opts ClientOptions
	http *http.Client
}

// NewClient constructs an HTTP gateway client.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		opts: opts,
		http: &http.Client{Timeout: opts.Timeout},
	}
}

// Initialize implements Gateway.
func (c *Client) Initialize(ctx context.Context, env *contract.Envelope) (*contract.Envelope, error) {
	var out contract.Envelope
	if err := c.post(ctx, "initialize", env, &out); err != nil {
		return nil, err
	}
	if !out.Initialized() {
		return nil, fmt.Errorf("backend returned an uninitialized envelope")
	}
	return &out, nil
}

// RequestOperatorApproval implements Gateway.
func (c *Client) RequestOperatorApproval(ctx context.Context, items []CeremonyItem) ([]CeremonyOutcome, error) {
	req := struct {
		Items []CeremonyItem `json:"items"`
	}{Items: items}
	var resp struct {
		Outcomes []CeremonyOutcome `json:"outcomes"`
	}
	if err := c.post(ctx, "approve", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Outcomes) != len(items) {
		return nil, fmt.Errorf("backend returned %d outcomes for %d items", len(resp.Outcomes), len(items))
	}
	return resp.Outcomes, nil
}

// Execute implements Gateway.
func (c *Client) Execute(ctx context.Context, env *contract.Envelope) ([]byte, error) {
	if len(env.EmbeddedPolicy) == 0 {
		return nil, ErrPolicyNotEmbedded
	}
	var resp struct {
		Signature string `json:"signature"`
	}
	if err := c.post(ctx, "execute", env, &resp); err != nil {
		return nil, err
	}
	sig, err := base64.StdEncoding.DecodeString(resp.Signature)
	if err != nil {
		return nil, fmt.Errorf("decoding backend signature: %w", err)
	}
	if len(sig) == 0 {
		return nil, fmt.Errorf("backend returned an empty signature")
	}
	return sig, nil
}

func (c *Client) endpoint(op string) string {
	base := strings.TrimRight(c.opts.BaseURL, "/")
	return fmt.Sprintf("%s/realms/%s/signing/%s", base, c.opts.Realm, op)
}

func (c *Client) post(ctx context.Context, op string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(op), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.ClientID != "" {
		req.Header.Set("X-Client-ID", c.opts.ClientID)
	}
	if c.opts.KeyID != "" {
		req.Header.Set("X-Key-ID", c.opts.KeyID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s returned %d", ErrBackendUnavailable, op, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("backend %s failed with %d: %s", op, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", op, err)
	}
	return nil
}
