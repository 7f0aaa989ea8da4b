package handler_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shiftward/shiftward/internal/audit"
	"github.com/shiftward/shiftward/internal/handler"
	"github.com/shiftward/shiftward/internal/ledger"
	"github.com/shiftward/shiftward/internal/signing"
	"github.com/shiftward/shiftward/pkg/manifest"
	"go.uber.org/zap"
)

func newRouter(t *testing.T) (*gin.Engine, *signing.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	led := ledger.NewMemory()
	keys := signing.NewManager(signing.NewMemoryKeyStore(), logger)
	store := audit.NewMemoryManifestStore()
	builder := audit.NewBuilder(store, keys, nil, logger)

	r := gin.New()
	v1 := r.Group("/v1")
	handler.NewLedgerHandler(led, logger).Register(v1)
	handler.NewKeyHandler(keys, logger).Register(v1)
	handler.NewManifestHandler(store, builder, keys, logger).Register(v1)
	return r, keys
}

func do(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestAppendAndVerifyChain(t *testing.T) {
	r, _ := newRouter(t)

	w := do(t, r, http.MethodPost, "/v1/subjects/emp-1/entries", gin.H{
		"kind":      "clock_in",
		"timestamp": time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("append: status %d, body %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodPost, "/v1/subjects/emp-1/entries", gin.H{
		"kind":      "clock_out",
		"timestamp": time.Date(2026, 2, 2, 16, 0, 0, 0, time.UTC),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("append: status %d, body %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodGet, "/v1/subjects/emp-1/chain/verify", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify: status %d", w.Code)
	}
	var report ledger.ChainReport
	decode(t, w, &report)
	if !report.IsValid || report.TotalEntries != 2 || report.ChainHash == "" {
		t.Errorf("report: %+v", report)
	}
}

func TestAppendEntry_badKind(t *testing.T) {
	r, _ := newRouter(t)

	w := do(t, r, http.MethodPost, "/v1/subjects/emp-1/entries", gin.H{
		"kind":      "nap",
		"timestamp": time.Now().UTC(),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestKeyLifecycleOverHTTP(t *testing.T) {
	r, _ := newRouter(t)

	// Rotating before provisioning is a conflict.
	if w := do(t, r, http.MethodPost, "/v1/tenants/acme/keys/rotate", nil); w.Code != http.StatusConflict {
		t.Errorf("rotate unprovisioned: status %d", w.Code)
	}

	if w := do(t, r, http.MethodPost, "/v1/tenants/acme/keys", nil); w.Code != http.StatusCreated {
		t.Fatalf("provision: status %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/v1/tenants/acme/keys/rotate", nil); w.Code != http.StatusCreated {
		t.Fatalf("rotate: status %d", w.Code)
	}

	w := do(t, r, http.MethodGet, "/v1/tenants/acme/keys/public?version=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export v1: status %d", w.Code)
	}
	var export signing.PublicKeyExport
	decode(t, w, &export)
	if export.Version != 1 || export.PublicKeyPEM == "" {
		t.Errorf("export: %+v", export)
	}

	w = do(t, r, http.MethodGet, "/v1/tenants/acme/keys", nil)
	var history struct {
		Keys []signing.Key `json:"keys"`
	}
	decode(t, w, &history)
	if len(history.Keys) != 2 {
		t.Errorf("history: got %d keys, want 2", len(history.Keys))
	}
	// Private material must never appear in API responses.
	if bytes.Contains(w.Body.Bytes(), []byte("private")) {
		t.Fatal("response leaks private key material")
	}
}

func TestManifestBuildAndVerifyOverHTTP(t *testing.T) {
	r, _ := newRouter(t)

	if w := do(t, r, http.MethodPost, "/v1/tenants/acme/keys", nil); w.Code != http.StatusCreated {
		t.Fatal("provision key")
	}

	files := []gin.H{
		{"name": "a.csv", "data": base64.StdEncoding.EncodeToString([]byte("alpha"))},
		{"name": "b.csv", "data": base64.StdEncoding.EncodeToString([]byte("bravo"))},
	}
	w := do(t, r, http.MethodPost, "/v1/manifests/job-7", gin.H{
		"tenant_id": "acme",
		"retention": gin.H{"mode": "governance", "years": 6},
		"files":     files,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("build: status %d, body %s", w.Code, w.Body.String())
	}
	var m manifest.Manifest
	decode(t, w, &m)
	if m.JobID != "job-7" || len(m.Leaves) != 2 {
		t.Errorf("manifest: %+v", m)
	}

	// Building the same job twice is refused.
	w = do(t, r, http.MethodPost, "/v1/manifests/job-7", gin.H{
		"tenant_id": "acme",
		"retention": gin.H{"mode": "governance", "years": 6},
		"files":     files,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("rebuild: status %d, want 409", w.Code)
	}

	// Server-side verification round-trip.
	w = do(t, r, http.MethodPost, "/v1/manifests/job-7/verify", gin.H{"files": files})
	if w.Code != http.StatusOK {
		t.Fatalf("verify: status %d, body %s", w.Code, w.Body.String())
	}
	var res struct {
		Valid  bool              `json:"valid"`
		Issues []json.RawMessage `json:"issues"`
	}
	decode(t, w, &res)
	if !res.Valid {
		t.Errorf("verify: %s", w.Body.String())
	}

	// Tampered file shows up as a structured finding, not an HTTP error.
	files[1]["data"] = base64.StdEncoding.EncodeToString([]byte("bravo?"))
	w = do(t, r, http.MethodPost, "/v1/manifests/job-7/verify", gin.H{"files": files})
	if w.Code != http.StatusOK {
		t.Fatalf("verify tampered: status %d", w.Code)
	}
	decode(t, w, &res)
	if res.Valid || len(res.Issues) == 0 {
		t.Errorf("tampered verify: %s", w.Body.String())
	}
}

func TestManifestBuild_complianceWithoutLock(t *testing.T) {
	r, _ := newRouter(t)
	if w := do(t, r, http.MethodPost, "/v1/tenants/acme/keys", nil); w.Code != http.StatusCreated {
		t.Fatal("provision key")
	}

	w := do(t, r, http.MethodPost, "/v1/manifests/job-1", gin.H{
		"tenant_id": "acme",
		"retention": gin.H{"mode": "compliance", "years": 10},
		"files": []gin.H{
			{"name": "a.csv", "data": base64.StdEncoding.EncodeToString([]byte("alpha"))},
		},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("compliance without lock: status %d, want 422 (%s)", w.Code, w.Body.String())
	}
}

func TestManifestGet_notFound(t *testing.T) {
	r, _ := newRouter(t)
	if w := do(t, r, http.MethodGet, "/v1/manifests/ghost", nil); w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", w.Code)
	}
}

func TestRateLimiter_blocksBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handler.RateLimiter(1, 1))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/ping", nil))
	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if first.Code != http.StatusOK {
		t.Errorf("first request: status %d", first.Code)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second request: status %d, want 429", second.Code)
	}
}
