package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/roach88/recruitflow/internal/ident"
)

// Sender delivers a message on a channel and returns the provider's
// message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// MockSender accepts every message without contacting a provider.
type MockSender struct {
	IDs ident.Generator
}

func (m MockSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ids := m.IDs
	if ids == nil {
		ids = ident.UUIDv7{}
	}
	return "mock-" + ids.Generate(), nil
}

// HTTPSender posts messages to a channel connector:
//
//	POST {base}/send {to, body, locale, channel} -> {ok, provider, id}
type HTTPSender struct {
	base string
	http *http.Client
}

// NewHTTPSender creates a sender for the connector at base.
func NewHTTPSender(base string, hc *http.Client) *HTTPSender {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPSender{base: strings.TrimRight(base, "/"), http: hc}
}

type sendReply struct {
	OK       bool   `json:"ok"`
	Provider string `json:"provider"`
	ID       string `json:"id"`
}

func (s *HTTPSender) Send(ctx context.Context, msg Message) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/send", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("channel connector returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var reply sendReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if !reply.OK || reply.ID == "" {
		return "", fmt.Errorf("channel connector rejected message")
	}
	if reply.Provider != "" {
		return reply.Provider + ":" + reply.ID, nil
	}
	return reply.ID, nil
}
