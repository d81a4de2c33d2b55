// Package espo is a minimal client for the EspoCRM REST API, covering lead
// creation and lookup.
package espo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cleanplanet/cleanplanet-web/internal/xerrors"
)

// Leads created through the website always carry these values.
const (
	leadStatus = "New"
	leadSource = "Website"
)

// maxResponseBytes caps how much of an upstream response body is read.
// EspoCRM responses are small; anything near this size is broken.
const maxResponseBytes = 1 << 20

// ErrNotConfigured is returned when the client has no base URL or API key.
var ErrNotConfigured = xerrors.New("espocrm is not configured")

// ErrUnreachable wraps transport failures (dial, TLS, timeout). The cause
// stays in the chain for logging.
var ErrUnreachable = xerrors.New("espocrm unreachable")

// RejectedError is a non-2xx response from EspoCRM.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("espocrm rejected request: status %d: %s", e.StatusCode, e.Body)
}

// Lead is the subset of an EspoCRM lead record this app reads back.
type Lead struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
}

// CreateLeadInput carries the validated, normalized form fields.
type CreateLeadInput struct {
	Name        string
	PhoneNumber string
	Address     string
	Description string
}

// createLeadBody is the wire shape EspoCRM expects. The form's free-text
// address maps to addressStreet.
type createLeadBody struct {
	Name          string `json:"name"`
	PhoneNumber   string `json:"phoneNumber"`
	AddressStreet string `json:"addressStreet"`
	Description   string `json:"description"`
	Status        string `json:"status"`
	Source        string `json:"source"`
}

// Client talks to one EspoCRM instance.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// New creates a Client. Empty baseURL or apiKey produces a client whose
// calls fail with ErrNotConfigured; the site still serves without a CRM.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// Configured reports whether the client has upstream credentials.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// CreateLead creates a lead record and returns it. The returned lead always
// has a non-empty ID.
func (c *Client) CreateLead(ctx context.Context, in CreateLeadInput) (*Lead, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(createLeadBody{
		Name:          in.Name,
		PhoneNumber:   in.PhoneNumber,
		AddressStreet: in.Address,
		Description:   in.Description,
		Status:        leadStatus,
		Source:        leadSource,
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "marshal lead")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/Lead", bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(err, "build lead request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, xerrors.Wrap(err, "read espocrm response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RejectedError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var lead Lead
	if err := json.Unmarshal(data, &lead); err != nil {
		return nil, xerrors.Wrap(err, "decode espocrm response")
	}
	if lead.ID == "" {
		return nil, xerrors.New("espocrm response missing lead id")
	}
	return &lead, nil
}

// GetLead fetches a lead by id. A 404 returns (nil, nil).
func (c *Client) GetLead(ctx context.Context, id string) (*Lead, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/Lead/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, xerrors.Wrap(err, "build lead request")
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, xerrors.Wrap(err, "read espocrm response")
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RejectedError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var lead Lead
	if err := json.Unmarshal(data, &lead); err != nil {
		return nil, xerrors.Wrap(err, "decode espocrm response")
	}
	return &lead, nil
}
