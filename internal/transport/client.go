package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/illarion/moodlock/internal/crypto"
	"github.com/illarion/moodlock/internal/recovery"
)

// ErrNotFound is returned when the API has no such resource.
var ErrNotFound = errors.New("not found")

// APIError is a non-success response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
}

// EncryptionState is the public encryption state the API keeps per account.
type EncryptionState struct {
	AccountID string             `json:"accountId,omitempty"`
	Metadata  crypto.KeyMetadata `json:"metadata"`
	Canary    *crypto.Envelope   `json:"canary,omitempty"`
}

// RemoteRecord is a record as exchanged with the API. Data is an envelope, or
// plain JSON for records created before encryption.
type RemoteRecord struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt,omitzero"`
}

// Client talks to the moodlock API. Record bodies are sealed before they are
// sent and opened after they are received.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	adapter   *Adapter
	accountID string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithAccountID sets the account id sent along with the encryption state.
func WithAccountID(id string) ClientOption {
	return func(cl *Client) {
		cl.accountID = id
	}
}

// NewClient returns a client for the API at baseURL. adapter may be nil for a
// client that only reads encryption state.
func NewClient(baseURL string, adapter *Adapter, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid API URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 30 * time.Second},
		adapter: adapter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetMetadata fetches the account's encryption state. ErrNotFound means
// encryption was never set up.
func (c *Client) GetMetadata(ctx context.Context) (*EncryptionState, error) {
	var state EncryptionState
	if err := c.do(ctx, http.MethodGet, "/encryption/metadata", nil, &state); err != nil {
		return nil, err
	}
	if err := state.Metadata.Validate(); err != nil {
		return nil, err
	}
	return &state, nil
}

// PutMetadata replaces the account's encryption state.
func (c *Client) PutMetadata(ctx context.Context, state EncryptionState) error {
	return c.do(ctx, http.MethodPut, "/encryption/metadata", state, nil)
}

// SaveEncryptionState stores metadata and canary through PutMetadata.
func (c *Client) SaveEncryptionState(ctx context.Context, meta crypto.KeyMetadata, canary *crypto.Envelope) error {
	return c.PutMetadata(ctx, EncryptionState{AccountID: c.accountID, Metadata: meta, Canary: canary})
}

// PutRecoveryEnvelope uploads the wrapped recovery key.
func (c *Client) PutRecoveryEnvelope(ctx context.Context, env *recovery.Envelope) error {
	return c.do(ctx, http.MethodPost, "/encryption/recovery-key", env, nil)
}

// SaveRecoveryEnvelope is PutRecoveryEnvelope.
func (c *Client) SaveRecoveryEnvelope(ctx context.Context, env *recovery.Envelope) error {
	return c.PutRecoveryEnvelope(ctx, env)
}

// CreateRecord seals v and stores it under resource with the given id.
func (c *Client) CreateRecord(ctx context.Context, resource, id string, v any) error {
	if c.adapter == nil {
		return crypto.ErrKeyUnavailable
	}
	env, err := c.adapter.Seal(ctx, v, RecordAAD(resource, id))
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/records/"+url.PathEscape(resource), RemoteRecord{ID: id, Data: data}, nil)
}

// ListRecords fetches every record of resource and opens them.
func (c *Client) ListRecords(ctx context.Context, resource string) (*BatchResult, error) {
	if c.adapter == nil {
		return nil, crypto.ErrKeyUnavailable
	}
	var remote []RemoteRecord
	if err := c.do(ctx, http.MethodGet, "/records/"+url.PathEscape(resource), nil, &remote); err != nil {
		return nil, err
	}

	records := make([]Record, len(remote))
	for i, r := range remote {
		records[i] = Record{ID: r.ID, Data: r.Data, AAD: RecordAAD(resource, r.ID)}
	}
	return c.adapter.OpenBatch(ctx, records)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
