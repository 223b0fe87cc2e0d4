// Package intelapi is the HTTP transport adapter for external
// intelligence APIs. It is the single place where wire-level failures are
// converted into the tagged error union the retry layer classifies on;
// nothing above this package inspects HTTP responses.
package intelapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/intelgate/intelgate/internal/connector/credentials"
	"github.com/intelgate/intelgate/internal/core/domain"
)

const maxErrorBody = 512

// Client talks to one source's REST endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client for the given base endpoint.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type searchResponse struct {
	Findings []struct {
		ID         string         `json:"id"`
		Title      string         `json:"title"`
		Data       map[string]any `json:"data"`
		ObservedAt time.Time      `json:"observed_at"`
	} `json:"findings"`
}

// Search POSTs a query to path and decodes the findings. Failures come
// back as *domain.APIError or *domain.TransportError.
func (c *Client) Search(ctx context.Context, path string, creds *credentials.Credentials, q domain.Query) ([]domain.Finding, error) {
	payload, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	authorize(req, creds)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apiError(resp)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	findings := make([]domain.Finding, 0, len(decoded.Findings))
	for _, f := range decoded.Findings {
		findings = append(findings, domain.Finding{
			ID:         f.ID,
			Title:      f.Title,
			Data:       f.Data,
			ObservedAt: f.ObservedAt,
		})
	}
	return findings, nil
}

// Ping performs the lightweight health probe.
func (c *Client) Ping(ctx context.Context, creds *credentials.Credentials) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/ping", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	authorize(req, creds)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func authorize(req *http.Request, creds *credentials.Credentials) {
	if key := creds.Get("apiKey"); key != "" {
		req.Header.Set("X-Api-Key", key)
	}
	if token := creds.Get("token"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &domain.APIError{
		Status:     resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		Body:       string(bytes.TrimSpace(body)),
	}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// transportError maps network-level failures onto stable codes.
func transportError(err error) error {
	code := "ERR_NETWORK"

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = "ETIMEDOUT"
	case errors.As(err, &netErr) && netErr.Timeout():
		code = "ETIMEDOUT"
	case errors.Is(err, syscall.ECONNRESET):
		code = "ECONNRESET"
	case errors.Is(err, syscall.ECONNREFUSED):
		code = "ECONNREFUSED"
	case errors.Is(err, syscall.EPIPE):
		code = "EPIPE"
	}
	return &domain.TransportError{Code: code, Err: err}
}
