package atssync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/roach88/recruitflow/internal/ident"
)

// ErrMalformedResponse marks an ATS reply that could not be understood.
// It is never retried.
var ErrMalformedResponse = errors.New("malformed ATS response")

// Client creates applications in the external ATS.
type Client interface {
	// CreateApplication writes app and returns the ATS application id.
	// key is sent so the ATS can deduplicate repeated writes.
	CreateApplication(ctx context.Context, app Application, key string) (string, error)
}

// MockClient stands in for the ATS in demo mode. It accepts every write
// and returns a fresh application id.
type MockClient struct {
	IDs ident.Generator
}

func (m MockClient) CreateApplication(ctx context.Context, app Application, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ids := m.IDs
	if ids == nil {
		ids = ident.UUIDv7{}
	}
	return ids.Generate(), nil
}

// StatusError is a non-2xx ATS reply.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ats returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("ats returned HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPClient talks to an ATS over HTTP:
//
//	POST {base}/applications {candidateId, jobId, slot} -> {applicationId}
type HTTPClient struct {
	base string
	http *http.Client
}

// NewHTTPClient creates a client for the ATS at base. A nil hc uses
// http.DefaultClient; per-attempt timeouts come from the caller's context.
func NewHTTPClient(base string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPClient{base: strings.TrimRight(base, "/"), http: hc}
}

// applicationReply accepts the current field name and the legacy ones.
type applicationReply struct {
	ApplicationID       string `json:"applicationId"`
	LegacyAppID         string `json:"app_id"`
	LegacyApplicationID string `json:"application_id"`
}

func (r applicationReply) id() string {
	switch {
	case r.ApplicationID != "":
		return r.ApplicationID
	case r.LegacyApplicationID != "":
		return r.LegacyApplicationID
	}
	return r.LegacyAppID
}

func (c *HTTPClient) CreateApplication(ctx context.Context, app Application, key string) (string, error) {
	body, err := json.Marshal(app)
	if err != nil {
		return "", fmt.Errorf("encode application: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/applications", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var reply applicationReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if reply.id() == "" {
		return "", fmt.Errorf("%w: missing applicationId", ErrMalformedResponse)
	}
	return reply.id(), nil
}
