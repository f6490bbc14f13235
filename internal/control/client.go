package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goodtune/homeguard/internal/monitor"
	"github.com/goodtune/homeguard/internal/policy"
	"github.com/gorilla/websocket"
)

// APIError is a non-2xx answer from the control API.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("control API returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("control API returned %d: %s", e.Code, e.Message)
}

// IsStatus reports whether err is an APIError with the given code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client talks to a running daemon's control API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient creates a client for the API at baseURL (e.g. http://127.0.0.1:8089).
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid control URL: %q", baseURL)
	}
	return &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Rules returns every list with the sync state.
func (c *Client) Rules(ctx context.Context) (*RulesResponse, error) {
	var resp RulesResponse
	if err := c.do(ctx, http.MethodGet, "/api/rules", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddRule adds domain to list.
func (c *Client) AddRule(ctx context.Context, list policy.List, domain string) (*RuleResponse, error) {
	var resp RuleResponse
	path := "/api/rules/" + url.PathEscape(string(list))
	if err := c.do(ctx, http.MethodPost, path, AddRuleRequest{Domain: domain}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RemoveRule deletes the rule with id from list.
func (c *Client) RemoveRule(ctx context.Context, list policy.List, id policy.RuleID) error {
	path := "/api/rules/" + url.PathEscape(string(list)) + "/" + url.PathEscape(string(id))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ToggleRule flips the rule with id in list.
func (c *Client) ToggleRule(ctx context.Context, list policy.List, id policy.RuleID) (*RuleResponse, error) {
	var resp RuleResponse
	path := "/api/rules/" + url.PathEscape(string(list)) + "/" + url.PathEscape(string(id)) + "/toggle"
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Changes returns the pending ledger.
func (c *Client) Changes(ctx context.Context) (*ChangesResponse, error) {
	var resp ChangesResponse
	if err := c.do(ctx, http.MethodGet, "/api/changes", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Apply submits the pending ledger to the router.
func (c *Client) Apply(ctx context.Context) (*ApplyResponse, error) {
	var resp ApplyResponse
	if err := c.do(ctx, http.MethodPost, "/api/changes/apply", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Overview returns the dashboard summary.
func (c *Client) Overview(ctx context.Context) (*monitor.Overview, error) {
	var resp monitor.Overview
	if err := c.do(ctx, http.MethodGet, "/api/overview", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Devices returns the projected device list.
func (c *Client) Devices(ctx context.Context) ([]monitor.DeviceView, error) {
	var resp []monitor.DeviceView
	if err := c.do(ctx, http.MethodGet, "/api/devices", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Adblock returns the blocklist job state and log.
func (c *Client) Adblock(ctx context.Context) (*monitor.AdblockView, error) {
	var resp monitor.AdblockView
	if err := c.do(ctx, http.MethodGet, "/api/adblock", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refresh polls everything now and returns the resulting overview.
func (c *Client) Refresh(ctx context.Context) (*monitor.Overview, error) {
	var resp monitor.Overview
	if err := c.do(ctx, http.MethodPost, "/api/refresh", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events streams engine events to fn until ctx is done or the stream ends.
// A nil return means ctx was cancelled.
func (c *Client) Events(ctx context.Context, fn func(policy.Event)) error {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/api/events"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = conn.Close()
	})
	defer stop()

	for {
		var ev policy.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("event stream failed: %w", err)
		}
		fn(ev)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("control API unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&er)
		return &APIError{Code: resp.StatusCode, Message: er.Message}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
