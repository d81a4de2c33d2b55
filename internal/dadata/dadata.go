// Package dadata is a client for the DaData address suggestion API.
// Responses are relayed as raw JSON; this app never interprets them.
package dadata

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cleanplanet/cleanplanet-web/internal/xerrors"
)

const (
	suggestPath   = "/suggestions/api/4_1/rs/suggest/address"
	geolocatePath = "/suggestions/api/4_1/rs/geolocate/address"

	suggestCount   = 5
	geolocateCount = 1

	// queries shorter than this return an empty suggestion set without
	// touching the upstream
	minQueryLen = 3

	maxResponseBytes = 1 << 20
)

// emptySuggestions is what short queries get back.
var emptySuggestions = []byte(`{"suggestions":[]}`)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = xerrors.New("dadata is not configured")

// UpstreamError is a non-2xx response from DaData.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return "dadata responded with status " + http.StatusText(e.StatusCode)
}

// Client talks to the DaData suggestion service.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// New creates a Client against baseURL, normally
// https://suggestions.dadata.ru.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// Configured reports whether the client has an API key.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Suggest returns address suggestions for query as raw JSON. Queries under
// three characters short-circuit to an empty suggestion list.
func (c *Client) Suggest(ctx context.Context, query string) ([]byte, error) {
	if len([]rune(query)) < minQueryLen {
		return emptySuggestions, nil
	}
	return c.post(ctx, suggestPath, map[string]any{
		"query": query,
		"count": suggestCount,
	})
}

// Geolocate returns the nearest address for the coordinates as raw JSON.
func (c *Client) Geolocate(ctx context.Context, lat, lon float64) ([]byte, error) {
	return c.post(ctx, geolocatePath, map[string]any{
		"lat":   lat,
		"lon":   lon,
		"count": geolocateCount,
	})
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, xerrors.Wrap(err, "marshal dadata request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(err, "build dadata request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(err, "dadata unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, xerrors.Wrap(err, "read dadata response")
	}
	return data, nil
}
