package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shiftward/shiftward/pkg/manifest"
)

// ErrTimestampDisabled is returned by authorities that are configured off.
var ErrTimestampDisabled = errors.New("audit: timestamping disabled")

// TimestampAuthority is the narrow capability for trusted timestamping:
// given bytes, return a timestamp proof or fail. It is injected so the
// builder runs and tests without the external service, and so failures
// degrade gracefully instead of blocking exports.
type TimestampAuthority interface {
	Stamp(ctx context.Context, payload []byte) (*manifest.TimestampToken, error)
}

// HTTPAuthority requests timestamp tokens from an external service over
// HTTP. The service receives the payload and responds with
// {"token": "...", "issued_at": "..."}.
type HTTPAuthority struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPAuthority creates an HTTPAuthority. name identifies the authority
// in manifests; timeout bounds each request.
func NewHTTPAuthority(name, url string, timeout time.Duration) *HTTPAuthority {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPAuthority{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type stampRequest struct {
	Payload []byte `json:"payload"` // base64 per encoding/json
}

type stampResponse struct {
	Token    string    `json:"token"`
	IssuedAt time.Time `json:"issued_at"`
}

// Stamp implements TimestampAuthority.
func (a *HTTPAuthority) Stamp(ctx context.Context, payload []byte) (*manifest.TimestampToken, error) {
	body, err := json.Marshal(stampRequest{Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode stamp request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build stamp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request timestamp from %s: %w", a.name, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("timestamp authority %s: unexpected status %d", a.name, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max
	if err != nil {
		return nil, fmt.Errorf("read stamp response: %w", err)
	}
	var sr stampResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, fmt.Errorf("parse stamp response: %w", err)
	}
	if sr.Token == "" {
		return nil, fmt.Errorf("timestamp authority %s returned an empty token", a.name)
	}
	return &manifest.TimestampToken{
		Authority: a.name,
		Token:     sr.Token,
		IssuedAt:  sr.IssuedAt.UTC(),
	}, nil
}
