package fieldsync

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
)

// Result carries the server's authoritative response to a committed
// mutation. Fields may include values the client could not compute itself
// (generated identifiers, aggregates, computed status); they always win over
// optimistic guesses.
type Result struct {
	Fields map[string]any
}

// Transport sends mutations to the authoritative server. The engine knows
// nothing about the wire beyond success/failure classification and returned
// fields. Implementations return *TransportError for classified failures;
// unclassified errors are treated as network failures (retryable).
type Transport interface {
	Send(ctx context.Context, resourceType string, op Operation, targetID string, payload map[string]any) (Result, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, resourceType string, op Operation, targetID string, payload map[string]any) (Result, error)

// Send implements Transport.
func (f TransportFunc) Send(ctx context.Context, resourceType string, op Operation, targetID string, payload map[string]any) (Result, error) {
	return f(ctx, resourceType, op, targetID, payload)
}

// TokenFunc returns the bearer token for a request, refreshing it if the
// auth collaborator requires.
type TokenFunc func(ctx context.Context) (string, error)

// HTTPTransportConfig configures the ready-made HTTP transport.
type HTTPTransportConfig struct {
	// BaseURL is the API root, e.g. "https://api.example.com/v1".
	BaseURL string

	// Token supplies the bearer token per request. Optional.
	Token TokenFunc

	// Client is the HTTP client; defaults to one with a 30s timeout.
	Client *http.Client
}

// HTTPTransport implements Transport over a JSON REST convention:
//
//	create -> POST   {base}/{resourceType}
//	update -> PATCH  {base}/{resourceType}/{targetID}
//	delete -> DELETE {base}/{resourceType}/{targetID}
//
// Response bodies are decoded as a JSON object of authoritative fields.
// Status codes are classified per the engine's error taxonomy.
type HTTPTransport struct {
	config HTTPTransportConfig
}

// NewHTTPTransport creates an HTTP transport.
func NewHTTPTransport(config HTTPTransportConfig) (*HTTPTransport, error) {
	if config.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if config.Client == nil {
		config.Client = &http.Client{Timeout: 30 * time.Second}
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &HTTPTransport{config: config}, nil
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, resourceType string, op Operation, targetID string, payload map[string]any) (Result, error) {
	method, endpoint, err := t.route(resourceType, op, targetID)
	if err != nil {
		return Result{}, err
	}

	var body io.Reader
	if op != OpDelete && payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return Result{}, NewTransportError(ClassValidation, 0, "encode payload", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return Result{}, NewTransportError(ClassValidation, 0, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if t.config.Token != nil {
		token, err := t.config.Token(ctx)
		if err != nil {
			return Result{}, NewTransportError(ClassAuth, 0, "acquire token", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.config.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, NewTransportError(ClassTimeout, 0, "request timed out", err)
		}
		return Result{}, NewTransportError(ClassNetwork, 0, "request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, NewTransportError(ClassNetwork, resp.StatusCode, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		class := ClassifyStatusCode(resp.StatusCode)
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = resp.Status
		}
		return Result{}, NewTransportError(class, resp.StatusCode, msg, nil)
	}

	fields := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return Result{}, NewTransportError(ClassNetwork, resp.StatusCode, "decode response", err)
		}
	}
	return Result{Fields: fields}, nil
}

func (t *HTTPTransport) route(resourceType string, op Operation, targetID string) (method, endpoint string, err error) {
	base := t.config.BaseURL + "/" + url.PathEscape(resourceType)
	switch op {
	case OpCreate:
		return http.MethodPost, base, nil
	case OpUpdate:
		return http.MethodPatch, base + "/" + url.PathEscape(targetID), nil
	case OpDelete:
		return http.MethodDelete, base + "/" + url.PathEscape(targetID), nil
	default:
		return "", "", fmt.Errorf("%w: operation %q", ErrInvalidMutation, op)
	}
}

// Fetcher retrieves the authoritative contents of a collection from the
// server. Used by the Coordinator for background refetches.
type Fetcher func(ctx context.Context, key CollectionKey) ([]Record, error)
