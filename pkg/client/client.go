package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shiftward/shiftward/pkg/manifest"
)

// ErrNotFound is returned when the requested chain, key, or manifest does
// not exist on the server.
var ErrNotFound = errors.New("not found")

// Entry is one link of a subject's time-clock chain as the service
// serializes it.
type Entry struct {
	ID           string    `json:"id"`
	SubjectID    string    `json:"subject_id"`
	Kind         string    `json:"kind"`
	Timestamp    time.Time `json:"timestamp"`
	SelfHash     string    `json:"self_hash"`
	PrevHash     string    `json:"prev_hash,omitempty"`
	SupersedesID string    `json:"supersedes_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Chain is the response of GET /v1/subjects/:id/chain.
type Chain struct {
	SubjectID string  `json:"subject_id"`
	Entries   []Entry `json:"entries"`
}

// ChainIssue is one integrity finding from a server-side chain verification.
type ChainIssue struct {
	Kind       string `json:"kind"`
	EntryID    string `json:"entry_id"`
	EntryIndex int    `json:"entry_index"`
	Expected   string `json:"expected,omitempty"`
	Actual     string `json:"actual,omitempty"`
}

// ChainReport is the response of GET /v1/subjects/:id/chain/verify.
type ChainReport struct {
	IsValid      bool         `json:"is_valid"`
	TotalEntries int          `json:"total_entries"`
	ValidEntries int          `json:"valid_entries"`
	Issues       []ChainIssue `json:"issues"`
	ChainHash    string       `json:"chain_hash,omitempty"`
}

// PublicKey is the verification material for one signing-key version.
type PublicKey struct {
	PublicKeyPEM string `json:"public_key_pem"`
	Fingerprint  string `json:"fingerprint"`
	Algorithm    string `json:"algorithm"`
	Version      int    `json:"version"`
}

// Client talks to a Shiftward integrity service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	keys       *keyCache
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// WithKeyCacheTTL caches public-key responses for the given TTL. Versioned
// keys are immutable once published, so a generous TTL is safe; the TTL
// mostly bounds how long a stale "active key" answer can live.
func WithKeyCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.keys = newKeyCache(ttl)
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification. Only use
// this in development.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		}
		return nil
	}
}

// New creates a Client for the integrity service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL required")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Chain fetches a subject's full chain in append order.
func (c *Client) Chain(ctx context.Context, subjectID string) (*Chain, error) {
	var out Chain
	if err := c.get(ctx, "/v1/subjects/"+url.PathEscape(subjectID)+"/chain", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyChain asks the service to recompute a subject's chain hashes and
// returns the diagnostic report. A report with findings is not an error.
func (c *Client) VerifyChain(ctx context.Context, subjectID string) (*ChainReport, error) {
	var out ChainReport
	if err := c.get(ctx, "/v1/subjects/"+url.PathEscape(subjectID)+"/chain/verify", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PublicKey fetches a tenant's signing key. version 0 means the currently
// active key; any other value fetches that exact retired or active version.
func (c *Client) PublicKey(ctx context.Context, tenantID string, version int) (*PublicKey, error) {
	cacheKey := tenantID + "#" + strconv.Itoa(version)
	if c.keys != nil {
		if pk, ok := c.keys.get(cacheKey); ok {
			return pk, nil
		}
	}

	path := "/v1/tenants/" + url.PathEscape(tenantID) + "/keys/public"
	if version > 0 {
		path += "?version=" + strconv.Itoa(version)
	}
	var out PublicKey
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}

	if c.keys != nil {
		c.keys.set(cacheKey, &out)
	}
	return &out, nil
}

// Manifest fetches the sealed audit manifest for an export job.
func (c *Client) Manifest(ctx context.Context, jobID string) (*manifest.Manifest, error) {
	var out manifest.Manifest
	if err := c.get(ctx, "/v1/manifests/"+url.PathEscape(jobID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerificationKey fetches the exact public key a manifest was signed with,
// using the tenant and key version recorded inside it.
func (c *Client) VerificationKey(ctx context.Context, m *manifest.Manifest) (*PublicKey, error) {
	pk, err := c.PublicKey(ctx, m.TenantID, m.KeyVersion)
	if err != nil {
		return nil, fmt.Errorf("fetch key v%d for tenant %s: %w", m.KeyVersion, m.TenantID, err)
	}
	if m.KeyFingerprint != "" && pk.Fingerprint != m.KeyFingerprint {
		return nil, fmt.Errorf("key v%d fingerprint %s does not match manifest fingerprint %s",
			pk.Version, pk.Fingerprint, m.KeyFingerprint)
	}
	return pk, nil
}

// get executes a GET request and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// --- public-key cache ---

type keyCacheEntry struct {
	key       *PublicKey
	expiresAt time.Time
}

type keyCache struct {
	mu      sync.RWMutex
	entries map[string]*keyCacheEntry
	ttl     time.Duration
}

func newKeyCache(ttl time.Duration) *keyCache {
	return &keyCache{entries: make(map[string]*keyCacheEntry), ttl: ttl}
}

func (kc *keyCache) get(key string) (*PublicKey, bool) {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	e, ok := kc.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.key, true
}

func (kc *keyCache) set(key string, pk *PublicKey) {
	kc.mu.Lock()
	defer kc.mu.Unlock()
	kc.entries[key] = &keyCacheEntry{key: pk, expiresAt: time.Now().Add(kc.ttl)}
}
