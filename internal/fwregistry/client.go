package fwregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-ota/internal/firmware"
)

const (
	// DefaultTimeout bounds a single registry request.
	DefaultTimeout = 30 * time.Second

	updatesPath = "/api/v1/updates"

	// maxResponseSize caps the decoded body; release lists are small.
	maxResponseSize = 1 << 20

	// maxErrorBody is how much of an error body is kept in StatusError.
	maxErrorBody = 256

	userAgent = "graylogic-ota"
)

// Query identifies the device a listing is for.
type Query struct {
	DeviceID        string
	FirmwareVersion string
}

// Client queries the firmware registry.
type Client struct {
	baseURL *url.URL
	client  *http.Client
}

// New creates a registry client.
//
// Parameters:
//   - baseURL: Registry root, e.g. "https://firmware.example.com"
//   - timeout: Per-request timeout; DefaultTimeout when zero
//
// Returns:
//   - *Client: Ready to use
//   - error: ErrInvalidBaseURL when baseURL is not http(s)
func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: u,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// ListUpdates returns the releases the registry offers for a device.
// A nil slice with a nil error means nothing is on offer.
func (c *Client) ListUpdates(ctx context.Context, q Query, apiKey string) ([]firmware.Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.updatesURL(q), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching updates: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // best effort detail
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var candidates []firmware.Candidate
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&candidates); err != nil {
		return nil, fmt.Errorf("%w: decoding: %w", ErrBadResponse, err)
	}
	for i, cand := range candidates {
		if err := validateCandidate(cand); err != nil {
			return nil, fmt.Errorf("%w: candidate %d: %w", ErrBadResponse, i, err)
		}
	}
	return candidates, nil
}

func (c *Client) updatesURL(q Query) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + updatesPath
	values := url.Values{}
	values.Set("device_id", q.DeviceID)
	if q.FirmwareVersion != "" {
		values.Set("firmware_version", q.FirmwareVersion)
	}
	u.RawQuery = values.Encode()
	return u.String()
}

func validateCandidate(c firmware.Candidate) error {
	if c.Version == "" {
		return fmt.Errorf("missing version")
	}
	if len(c.Files) == 0 {
		return fmt.Errorf("version %s has no files", c.Version)
	}
	for j, f := range c.Files {
		if f.URL == "" {
			return fmt.Errorf("version %s file %d has no url", c.Version, j)
		}
	}
	return nil
}
