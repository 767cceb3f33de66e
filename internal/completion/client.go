// Package completion talks to the caller-configured completion endpoint: a
// single-turn HTTP service that turns a prompt into generated reply text.
//
// Wire contract: POST <url> with body {"message": "<prompt>"}, optional
// bearer credential, expecting {"response": "<text>"} back. The contract is
// single-turn: the raw user text goes out, not the transcript.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FallbackReply is used when the endpoint answers 2xx but omits the
// "response" field.
const FallbackReply = "I'm sorry, I don't have a response for that."

// ErrUpstream wraps any endpoint failure: transport errors, non-2xx status,
// or an unparsable body.
var ErrUpstream = errors.New("completion endpoint failed")

// maxResponseBytes caps how much of the endpoint body is read.
const maxResponseBytes = 1 << 20

// Client calls one configured completion endpoint.
type Client struct {
	// URL is the endpoint address. Callers must not construct a Client
	// without one; the orchestrator fails fast before reaching this point.
	URL string
	// Credential, when non-empty, is sent as a bearer token.
	Credential string
	// Timeout bounds each call; zero means 30s.
	Timeout time.Duration
	// HTTPClient may be overridden in tests; nil means http.DefaultClient.
	HTTPClient *http.Client
}

type request struct {
	Message string `json:"message"`
}

type response struct {
	Response *string `json:"response"`
}

// Generate sends the prompt and returns the endpoint's reply text. A 2xx
// answer without a "response" field yields FallbackReply; everything else
// yields an error wrapping ErrUpstream.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(request{Message: prompt})
	if err != nil {
		return "", err
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.Credential)
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if out.Response == nil {
		return FallbackReply, nil
	}
	return *out.Response, nil
}
