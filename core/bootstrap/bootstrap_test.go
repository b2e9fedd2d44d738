package bootstrap

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateSessionReturnsGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/realtime/session" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}

		var req CreateSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.Model != "gpt-4o-realtime-preview" || req.Voice != "alloy" {
			t.Errorf("unexpected request payload %+v", req)
		}

		io.WriteString(w, `{
			"sessionId": "sess_1",
			"ephemeralToken": "ek_abc",
			"sessionDetails": {"expires_at": 1735689600}
		}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithHTTPClient(server.Client()))
	grant, err := client.CreateSession(context.Background(), CreateSessionRequest{
		Voice: "alloy",
		Model: "gpt-4o-realtime-preview",
	})
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if grant.SessionID != "sess_1" || grant.EphemeralToken != "ek_abc" {
		t.Fatalf("unexpected grant %+v", grant)
	}
	if len(grant.SessionDetails) == 0 {
		t.Fatalf("expected the opaque session details passed through")
	}
}

func TestCreateSessionRejectsMissingToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"sessionId": "sess_1"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithHTTPClient(server.Client()))
	if _, err := client.CreateSession(context.Background(), CreateSessionRequest{}); err == nil {
		t.Fatalf("expected an error for a grant without a token")
	}
}

func TestCreateSessionSurfacesErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithHTTPClient(server.Client()))
	if _, err := client.CreateSession(context.Background(), CreateSessionRequest{}); err == nil {
		t.Fatalf("expected an error for a 401 response")
	}
}

func TestCreateSessionRejectsMalformedGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `not json`)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithHTTPClient(server.Client()))
	if _, err := client.CreateSession(context.Background(), CreateSessionRequest{}); err == nil {
		t.Fatalf("expected an error for a malformed grant")
	}
}
