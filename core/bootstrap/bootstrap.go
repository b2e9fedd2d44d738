// Package bootstrap obtains the one-time ephemeral credential that authorizes
// a realtime connection, so no long-lived secret is ever presented to the
// conversation endpoint directly.
package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TokenIssuer mints an ephemeral session grant from the trusted backend.
type TokenIssuer interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*SessionGrant, error)
}

// CreateSessionRequest is the body of POST /realtime/session.
type CreateSessionRequest struct {
	Voice string `json:"voice"`
	Model string `json:"model"`
}

// SessionGrant is the issued credential. The EphemeralToken is single-use and
// short-lived; SessionDetails is endpoint-specific and passed through opaque.
type SessionGrant struct {
	SessionID      string          `json:"sessionId"`
	EphemeralToken string          `json:"ephemeralToken"`
	SessionDetails json.RawMessage `json:"sessionDetails,omitempty"`
}

// Client is the HTTP token issuer.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient substitutes the HTTP client used for token requests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   15 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*SessionGrant, error) {
	ctx, span := tracer.Start(ctx, "create realtime session")
	defer span.End()
	span.SetAttributes(attribute.String("session.model", req.Model))

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/realtime/session", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		err = fmt.Errorf("session bootstrap request failed: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read session response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err = fmt.Errorf("session bootstrap returned status %d: %s", resp.StatusCode, payload)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var grant SessionGrant
	if err := json.Unmarshal(payload, &grant); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session grant: %w", err)
	}
	if grant.EphemeralToken == "" {
		return nil, fmt.Errorf("session grant is missing an ephemeral token")
	}

	return &grant, nil
}
