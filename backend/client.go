// Package backend provides a client for the kindred custom sync and parse API
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/camp/kindred/dashboard/ratelimit"
)

const defaultBaseURL = "http://127.0.0.1:8090"

// boolTrueStr is used when encoding boolean query parameters
const boolTrueStr = "true"

// ErrAlreadyRunning is returned when the backend rejects a trigger with 409
var ErrAlreadyRunning = errors.New("sync already in progress")

// Client wraps the kindred custom API routes used by the dashboard
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

// Config holds backend connection configuration
type Config struct {
	BaseURL   string
	AuthToken string
}

// NewClient creates a new backend client
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.AuthToken == "" {
		return nil, fmt.Errorf("missing backend auth token")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authToken:  cfg.AuthToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    ratelimit.New(nil),
	}, nil
}

// NewClientFromEnv creates a client from KINDRED_API_URL and KINDRED_AUTH_TOKEN
func NewClientFromEnv() (*Client, error) {
	token := os.Getenv("KINDRED_AUTH_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("KINDRED_AUTH_TOKEN not set in environment")
	}

	return NewClient(&Config{
		BaseURL:   os.Getenv("KINDRED_API_URL"),
		AuthToken: token,
	})
}

// BaseURL returns the configured backend base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do makes an authenticated request and returns the response body.
// 429 responses are retried with backoff by the limiter; 409 maps to
// ErrAlreadyRunning so callers can test with errors.Is.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var respBody []byte
	err := c.limiter.Execute(ctx, func() error {
		var bodyReader io.Reader = http.NoBody
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("encoding request body: %w", err)
			}
			bodyReader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Authorization", c.authToken)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-ID", uuid.NewString())
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
			respBody = body
			return nil
		case resp.StatusCode == http.StatusConflict:
			return fmt.Errorf("%w: %s", ErrAlreadyRunning, errorMessage(body))
		default:
			// 429 errors carry the status code in the message so the
			// limiter recognizes them as retryable
			return fmt.Errorf("backend error %d: %s", resp.StatusCode, errorMessage(body))
		}
	})
	if err != nil {
		return nil, err
	}

	return respBody, nil
}

// errorMessage extracts the backend's error field, falling back to the raw body
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(body))
}

// SyncStatus fetches the full status snapshot for all known sync types
func (c *Client) SyncStatus(ctx context.Context) (*StatusSnapshot, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/custom/sync/status", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching sync status: %w", err)
	}

	var snapshot StatusSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, fmt.Errorf("parsing sync status: %w", err)
	}

	return &snapshot, nil
}

// RunUnified triggers the unified sync endpoint for a year and service.
// service "all" runs the full phase sequence for that year.
func (c *Client) RunUnified(ctx context.Context, year int, service string, includeCustomValues, debug bool) (*TriggerResult, error) {
	query := url.Values{}
	query.Set("year", strconv.Itoa(year))
	query.Set("service", service)
	if includeCustomValues {
		query.Set("includeCustomValues", boolTrueStr)
	}
	if debug {
		query.Set("debug", boolTrueStr)
	}

	return c.trigger(ctx, "/api/custom/sync/run", query)
}

// RunIndividual triggers a single sync type's own endpoint.
// Route names are the sync type id with underscores hyphenated
// (bunk_plans -> /api/custom/sync/bunk-plans).
func (c *Client) RunIndividual(ctx context.Context, syncType string) (*TriggerResult, error) {
	return c.trigger(ctx, "/api/custom/sync/"+SyncRoute(syncType), nil)
}

// RunOnDemand triggers an on-demand sync (custom field values) with a session filter
func (c *Client) RunOnDemand(ctx context.Context, syncType, session string, debug bool) (*TriggerResult, error) {
	query := url.Values{}
	if session != "" {
		query.Set("session", session)
	}
	if debug {
		query.Set("debug", boolTrueStr)
	}

	return c.trigger(ctx, "/api/custom/sync/"+SyncRoute(syncType), query)
}

// RunProcessRequests triggers the AI intake-processing job
func (c *Client) RunProcessRequests(ctx context.Context, params ProcessRequestParams) (*TriggerResult, error) {
	query := url.Values{}
	if params.Session != "" {
		query.Set("session", params.Session)
	}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Force {
		query.Set("force", boolTrueStr)
	}
	if len(params.SourceFields) > 0 {
		query.Set("source_field", strings.Join(params.SourceFields, ","))
	}
	if params.Debug {
		query.Set("debug", boolTrueStr)
	}
	if params.Trace {
		query.Set("trace", boolTrueStr)
	}

	return c.trigger(ctx, "/api/custom/sync/process-requests", query)
}

// trigger POSTs a trigger endpoint and decodes the acceptance response
func (c *Client) trigger(ctx context.Context, path string, query url.Values) (*TriggerResult, error) {
	body, err := c.do(ctx, http.MethodPost, path, query, nil)
	if err != nil {
		return nil, err
	}

	var result TriggerResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parsing trigger response: %w", err)
	}
	if result.Status == "" {
		result.Status = "started"
	}

	if result.Queued() {
		slog.Info("Sync request queued", "path", path, "queue_id", result.QueueID, "position", result.Position)
	}

	return &result, nil
}

// Reparse triggers reparsing of the named original request fields
func (c *Client) Reparse(ctx context.Context, ids []string, forceReparse bool) error {
	payload := map[string]any{
		"ids":          ids,
		"forceReparse": forceReparse,
	}

	if _, err := c.do(ctx, http.MethodPost, "/api/custom/parse/reparse", nil, payload); err != nil {
		return fmt.Errorf("reparse request: %w", err)
	}
	return nil
}

// ClearParseResults deletes debug parse results in the given scope and
// returns the deleted count
func (c *Client) ClearParseResults(ctx context.Context, scope ClearScope) (int, error) {
	body, err := c.do(ctx, http.MethodDelete, "/api/custom/parse/results", nil, scope)
	if err != nil {
		return 0, fmt.Errorf("clearing parse results: %w", err)
	}

	var result struct {
		Deleted int `json:"deleted"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, fmt.Errorf("parsing clear response: %w", err)
	}
	return result.Deleted, nil
}

// GroupedRequests fetches campers grouped with their request fields,
// filtered server-side by year, session, and source field
func (c *Client) GroupedRequests(ctx context.Context, q GroupedQuery) ([]GroupedCamper, error) {
	query := url.Values{}
	if q.Year > 0 {
		query.Set("year", strconv.Itoa(q.Year))
	}
	if q.Session != "" {
		query.Set("session", q.Session)
	}
	if q.SourceField != "" {
		query.Set("sourceField", q.SourceField)
	}

	body, err := c.do(ctx, http.MethodGet, "/api/custom/parse/grouped", query, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching grouped requests: %w", err)
	}

	var result struct {
		Campers []GroupedCamper `json:"campers"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parsing grouped requests: %w", err)
	}
	return result.Campers, nil
}

// SyncRoute converts a sync type id to its endpoint path segment
func SyncRoute(syncType string) string {
	return strings.ReplaceAll(syncType, "_", "-")
}
