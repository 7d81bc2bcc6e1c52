package stacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Ataxia123/bonfire-hub/internal/config"
)

// Client issues JSON requests against the delve API. Authenticated calls
// carry the server API key as a bearer token.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewClient creates a Client from the delve configuration.
//
// Precondition: cfg.BaseURL must be non-empty without a trailing slash.
func NewClient(cfg config.DelveConfig) *Client {
	return &Client{
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// PostJSON issues an authenticated POST to path with body and decodes the
// JSON response. Non-2xx statuses are returned with the decoded error body,
// not as a Go error; a Go error means the request never completed.
//
// Postcondition: On a nil error, returns the HTTP status and a non-nil map.
func (c *Client) PostJSON(ctx context.Context, path string, body map[string]any) (int, map[string]any, error) {
	if c.apiKey == "" {
		return 0, nil, fmt.Errorf("delve api key is not configured")
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("encoding request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("delve request failed: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode, decodeJSONBody(resp.Body), nil
}

// decodeJSONBody decodes a response body into a map, tolerating empty and
// non-object payloads the way the upstream API sometimes responds.
func decodeJSONBody(r io.Reader) map[string]any {
	raw, err := io.ReadAll(r)
	if err != nil || len(raw) == 0 {
		return map[string]any{}
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return map[string]any{"error": string(raw)}
	}
	if m, ok := decoded.(map[string]any); ok {
		return m
	}
	return map[string]any{"data": decoded}
}
