package audit_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shiftward/shiftward/internal/audit"
)

func TestHTTPAuthority_stamp(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: got %s", r.Method)
		}
		var req struct {
			Payload []byte `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Payload) == 0 {
			t.Error("empty payload")
		}
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"token":     "tsa-token-1",
			"issued_at": issued,
		})
	}))
	defer srv.Close()

	tsa := audit.NewHTTPAuthority("test-tsa", srv.URL, time.Second)
	token, err := tsa.Stamp(ctx, []byte("signature-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if token.Authority != "test-tsa" || token.Token != "tsa-token-1" {
		t.Errorf("token: %+v", token)
	}
	if !token.IssuedAt.Equal(issued) {
		t.Errorf("issued_at: got %v, want %v", token.IssuedAt, issued)
	}
}

func TestHTTPAuthority_non200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tsa := audit.NewHTTPAuthority("test-tsa", srv.URL, time.Second)
	if _, err := tsa.Stamp(ctx, []byte("x")); err == nil {
		t.Error("expected error for 503 response")
	}
}

func TestHTTPAuthority_emptyTokenIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"token":""}`)) //nolint:errcheck
	}))
	defer srv.Close()

	tsa := audit.NewHTTPAuthority("test-tsa", srv.URL, time.Second)
	if _, err := tsa.Stamp(ctx, []byte("x")); err == nil {
		t.Error("expected error for empty token")
	}
}
