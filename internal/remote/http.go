package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/checklisthq/syncd/internal/record"
)

// HTTPConfig configures the HTTP remote client.
type HTTPConfig struct {
	// BaseURL is the server's API root, e.g. "https://sync.example.com/api".
	BaseURL string

	// Timeout bounds each submission attempt. Exceeding it is a
	// transient failure, not a fatal one. Default: 15s.
	Timeout time.Duration

	// AuthToken, if set, is sent as a bearer token.
	AuthToken string
}

// DefaultHTTPConfig returns sensible defaults.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		Timeout: 15 * time.Second,
	}
}

// HTTPClient submits mutations to the checklist server over HTTP.
//
// Create and update map to PUT /{entityType}/{entityID}; delete maps to
// DELETE on the same path. Every request carries an X-Request-ID header
// derived from the mutation's queue id so the server can de-duplicate
// repeated deliveries, and an If-Match header when the submission is
// conditioned on a known server version.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates an HTTP remote client.
func NewHTTPClient(config *HTTPConfig) (*HTTPClient, error) {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &HTTPClient{
		baseURL: config.BaseURL,
		token:   config.AuthToken,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// conflictBody is the server's 409 response payload.
type conflictBody struct {
	Version    string          `json:"version"`
	ModifiedAt time.Time       `json:"modified_at"`
	Payload    json.RawMessage `json:"payload"`
}

// acceptedBody is the server's success response payload.
type acceptedBody struct {
	Version string `json:"version"`
}

// Submit implements Client.
func (c *HTTPClient) Submit(ctx context.Context, m *record.Mutation, baseVersion string) (Outcome, error) {
	method := http.MethodPut
	if m.Kind == record.KindDelete {
		method = http.MethodDelete
	}

	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, m.EntityType, url.PathEscape(m.EntityID))

	var body io.Reader
	if m.Kind != record.KindDelete {
		body = bytes.NewReader(m.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("X-Request-ID", m.RequestID())
	if m.Kind != record.KindDelete {
		req.Header.Set("Content-Type", "application/json")
	}
	if baseVersion != "" {
		req.Header.Set("If-Match", baseVersion)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Transport error or timeout: transient by definition.
		return Outcome{}, fmt.Errorf("submission failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated ||
		resp.StatusCode == http.StatusNoContent:
		var accepted acceptedBody
		// A missing or malformed body still counts as accepted; the
		// version tag is advisory.
		_ = json.NewDecoder(resp.Body).Decode(&accepted)
		if accepted.Version == "" {
			accepted.Version = resp.Header.Get("ETag")
		}
		return Outcome{Status: StatusAccepted, NewVersion: accepted.Version}, nil

	case resp.StatusCode == http.StatusConflict ||
		resp.StatusCode == http.StatusPreconditionFailed:
		var conflict conflictBody
		if err := json.NewDecoder(resp.Body).Decode(&conflict); err != nil {
			return Outcome{}, fmt.Errorf("failed to decode conflict response: %w", err)
		}
		return Outcome{
			Status:           StatusConflict,
			ServerVersion:    conflict.Version,
			ServerPayload:    conflict.Payload,
			ServerModifiedAt: conflict.ModifiedAt,
		}, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout &&
		resp.StatusCode != http.StatusTooManyRequests:
		reason, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Outcome{
			Status: StatusRejected,
			Reason: fmt.Sprintf("server rejected mutation (%d): %s", resp.StatusCode, reason),
		}, nil

	default:
		// 408, 429 and all 5xx are retryable.
		return Outcome{}, fmt.Errorf("server unavailable: status %d", resp.StatusCode)
	}
}
