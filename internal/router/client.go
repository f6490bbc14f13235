// Package router is a typed client for the parental-control router's HTTP API.
package router

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

	"github.com/goodtune/homeguard/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxErrorBody = 512

// Config holds router client configuration
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables pacing
	RateBurst int
}

// Client talks to the router backend.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// NewClient creates a router client
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid router base URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		logger:     logger.With().Str("component", "router-client").Logger(),
	}, nil
}

// Status returns the master connectivity state.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.doJSON(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ToggleInternet flips the master connectivity switch.
func (c *Client) ToggleInternet(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.doJSON(ctx, http.MethodPost, "/api/toggle-internet", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Devices returns the device/lease list.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var out []Device
	if err := c.doJSON(ctx, http.MethodGet, "/api/devices", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BlockDevice toggles the block flag of one device and returns the new list.
func (c *Client) BlockDevice(ctx context.Context, id string) ([]Device, error) {
	var out []Device
	path := "/api/device/" + url.PathEscape(id) + "/block"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Blocklist returns app toggles and custom block records.
func (c *Client) Blocklist(ctx context.Context) (*Blocklist, error) {
	var out Blocklist
	if err := c.doJSON(ctx, http.MethodGet, "/api/blocklist", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CustomBlocklist returns the confirmed custom block domains.
func (c *Client) CustomBlocklist(ctx context.Context) ([]string, error) {
	var out struct {
		Blocklist []string `json:"blocklist"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/blocklist/custom", nil, &out); err != nil {
		return nil, err
	}
	if out.Blocklist == nil {
		return nil, fmt.Errorf("%w: /api/blocklist/custom: missing blocklist field", ErrMalformedResponse)
	}
	return out.Blocklist, nil
}

// ToggleApp flips a named app rule and returns the new app map.
func (c *Client) ToggleApp(ctx context.Context, appID string) (map[string]bool, error) {
	body := map[string]string{"id": appID}
	var out map[string]bool
	if err := c.doJSON(ctx, http.MethodPost, "/api/blocklist/app", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyChanges submits a pending-change ledger as one batch. Any 2xx is an
// acknowledgement; the body is not inspected.
func (c *Client) ApplyChanges(ctx context.Context, changes []Change) error {
	return c.doJSON(ctx, http.MethodPost, "/api/blocklist/apply", ApplyRequest{Changes: changes}, nil)
}

// Allowlist returns the confirmed allow records.
func (c *Client) Allowlist(ctx context.Context) ([]RuleRecord, error) {
	var out []RuleRecord
	if err := c.doJSON(ctx, http.MethodGet, "/api/allowlist", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AllowDomain adds an allow entry immediately using the form-encoded endpoint.
func (c *Client) AllowDomain(ctx context.Context, domain string) error {
	form := url.Values{"domain": {domain}}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/allow", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req, "/api/allow", nil)
}

// RemoveAllow deletes an allow entry by backend id.
func (c *Client) RemoveAllow(ctx context.Context, id string) ([]RuleRecord, error) {
	var out []RuleRecord
	path := "/api/allowlist/" + url.PathEscape(id)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ToggleAllow flips an allow entry by backend id.
func (c *Client) ToggleAllow(ctx context.Context, id string) ([]RuleRecord, error) {
	var out []RuleRecord
	path := "/api/allowlist/" + url.PathEscape(id) + "/toggle"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats returns traffic counters, leases and data usage.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.doJSON(ctx, http.MethodGet, "/api/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AdblockStatus returns the background job state.
func (c *Client) AdblockStatus(ctx context.Context) (*AdblockStatus, error) {
	var out AdblockStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/adblock/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AdblockLogs returns the background job log.
func (c *Client) AdblockLogs(ctx context.Context) ([]LogEntry, error) {
	var out []LogEntry
	if err := c.doJSON(ctx, http.MethodGet, "/api/adblock/logs", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return fmt.Errorf("failed to encode request for %s: %w", path, err)
		}
		body = &buf
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, path, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, endpoint string, out interface{}) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		metrics.RouterRequestsTotal.WithLabelValues(endpointLabel(endpoint), "transport").Inc()
		return &TransportError{Endpoint: endpoint, Err: err}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RouterRequestsTotal.WithLabelValues(endpointLabel(endpoint), "transport").Inc()
		c.logger.Debug().Err(err).Str("endpoint", endpoint).Msg("Router request failed")
		return &TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", req.Method).
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Router request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.RouterRequestsTotal.WithLabelValues(endpointLabel(endpoint), "rejected").Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		metrics.RouterRequestsTotal.WithLabelValues(endpointLabel(endpoint), "ok").Inc()
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.RouterRequestsTotal.WithLabelValues(endpointLabel(endpoint), "malformed").Inc()
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, endpoint, err)
	}

	metrics.RouterRequestsTotal.WithLabelValues(endpointLabel(endpoint), "ok").Inc()
	return nil
}

// endpointLabel collapses per-id paths so metric cardinality stays bounded.
func endpointLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/device/"):
		return "/api/device/{id}/block"
	case strings.HasPrefix(path, "/api/allowlist/") && strings.HasSuffix(path, "/toggle"):
		return "/api/allowlist/{id}/toggle"
	case strings.HasPrefix(path, "/api/allowlist/"):
		return "/api/allowlist/{id}"
	default:
		return path
	}
}
