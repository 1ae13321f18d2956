package fieldsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPTransportRoutesAndDecodes(t *testing.T) {
	var gotMethod, gotPath, gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "t1", "version": 2})
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(HTTPTransportConfig{
		BaseURL: server.URL,
		Token:   func(ctx context.Context) (string, error) { return "tok-123", nil },
	})
	if err != nil {
		t.Fatalf("failed to create transport: %v", err)
	}

	result, err := transport.Send(context.Background(), "tools", OpUpdate, "t1", map[string]any{"status": "active"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Errorf("expected PATCH, got %s", gotMethod)
	}
	if gotPath != "/tools/t1" {
		t.Errorf("expected /tools/t1, got %s", gotPath)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
	if gotBody["status"] != "active" {
		t.Errorf("expected payload to round-trip, got %v", gotBody)
	}
	if result.Fields["id"] != "t1" {
		t.Errorf("expected decoded fields, got %v", result.Fields)
	}
}

func TestHTTPTransportMethodPerOperation(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(HTTPTransportConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("failed to create transport: %v", err)
	}

	cases := []struct {
		op         Operation
		targetID   string
		wantMethod string
		wantPath   string
	}{
		{OpCreate, "", http.MethodPost, "/tools"},
		{OpUpdate, "t1", http.MethodPatch, "/tools/t1"},
		{OpDelete, "t1", http.MethodDelete, "/tools/t1"},
	}
	for _, tc := range cases {
		if _, err := transport.Send(context.Background(), "tools", tc.op, tc.targetID, map[string]any{"x": 1}); err != nil {
			t.Fatalf("%s: send failed: %v", tc.op, err)
		}
		if gotMethod != tc.wantMethod || gotPath != tc.wantPath {
			t.Errorf("%s: expected %s %s, got %s %s", tc.op, tc.wantMethod, tc.wantPath, gotMethod, gotPath)
		}
	}
}

func TestHTTPTransportClassifiesStatusCodes(t *testing.T) {
	var status int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(HTTPTransportConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("failed to create transport: %v", err)
	}

	cases := []struct {
		status int
		want   ErrorClass
	}{
		{401, ClassAuth},
		{403, ClassAuth},
		{408, ClassNetwork},
		{422, ClassValidation},
		{429, ClassNetwork},
		{500, ClassNetwork},
		{503, ClassNetwork},
	}
	for _, tc := range cases {
		status = tc.status
		_, err := transport.Send(context.Background(), "tools", OpUpdate, "t1", map[string]any{"x": 1})
		var te *TransportError
		if !errors.As(err, &te) {
			t.Fatalf("status %d: expected TransportError, got %v", tc.status, err)
		}
		if te.Class != tc.want {
			t.Errorf("status %d: expected class %s, got %s", tc.status, tc.want, te.Class)
		}
		if te.StatusCode != tc.status {
			t.Errorf("status %d: expected code carried, got %d", tc.status, te.StatusCode)
		}
	}
}

func TestHTTPTransportConnectionFailureIsNetworkClass(t *testing.T) {
	transport, err := NewHTTPTransport(HTTPTransportConfig{BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("failed to create transport: %v", err)
	}
	_, err = transport.Send(context.Background(), "tools", OpDelete, "t1", nil)
	if got := ClassifyError(err); got != ClassNetwork {
		t.Errorf("expected network class, got %s (%v)", got, err)
	}
}

func TestHTTPTransportTokenFailureIsAuthClass(t *testing.T) {
	transport, err := NewHTTPTransport(HTTPTransportConfig{
		BaseURL: "http://example.invalid",
		Token:   func(ctx context.Context) (string, error) { return "", errors.New("refresh failed") },
	})
	if err != nil {
		t.Fatalf("failed to create transport: %v", err)
	}
	_, err = transport.Send(context.Background(), "tools", OpUpdate, "t1", map[string]any{"x": 1})
	if got := ClassifyError(err); got != ClassAuth {
		t.Errorf("expected auth class, got %s", got)
	}
}
