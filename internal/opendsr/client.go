package opendsr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/dsr-baton/internal/config"
	"github.com/example/dsr-baton/internal/upstream"
	"github.com/example/dsr-baton/internal/util"
)

const apiVersion = "3.0"

// HTTPClient abstracts the http.Client Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option customises the behaviour of the OpenDSR client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used to talk upstream.
func WithHTTPClient(client HTTPClient) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL sets the base subject-request API URL. Useful for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithEventsBaseURL sets the base URL of the upstream events API.
func WithEventsBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.eventsBaseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithBodyLimit adjusts how many bytes are retained from error response bodies.
func WithBodyLimit(limit int64) Option {
	return func(c *Client) {
		if limit > 0 {
			c.maxBodyBytes = limit
		}
	}
}

// Client talks to the upstream OpenDSR subject-request API over HTTPS with
// Basic-Authenticated workspace credentials.
type Client struct {
	logger        zerolog.Logger
	baseURL       string
	eventsBaseURL string
	key           string
	secret        string
	httpClient    HTTPClient
	now           func() time.Time
	maxBodyBytes  int64
}

// NewClient constructs an OpenDSR client from workspace configuration.
func NewClient(cfg config.OpenDSRConfig, logger zerolog.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.WorkspaceKey) == "" {
		return nil, errors.New("opendsr client: workspace key is required")
	}
	if strings.TrimSpace(cfg.WorkspaceSecret) == "" {
		return nil, errors.New("opendsr client: workspace secret is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("opendsr client: base URL is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	c := &Client{
		logger:        logger,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		eventsBaseURL: strings.TrimRight(cfg.EventsBaseURL, "/"),
		key:           strings.TrimSpace(cfg.WorkspaceKey),
		secret:        strings.TrimSpace(cfg.WorkspaceSecret),
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		now:           time.Now,
		maxBodyBytes:  16 * 1024,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c, nil
}

// BaseURL returns the trusted base URL results locations must live under.
func (c *Client) BaseURL() string { return c.baseURL }

// Submit files a subject request upstream and returns its acknowledgement.
// The subject request id is generated here; the user id doubles as the group
// id so retried submissions for the same subject can be reconciled later.
func (c *Client) Submit(ctx context.Context, form SubjectRequest) (*Submission, error) {
	if strings.TrimSpace(form.UserID) == "" {
		return nil, errors.New("opendsr client: user id is required")
	}

	requestID := uuid.NewString()
	body := submitBody{
		Regulation:         form.Regulation,
		SubjectRequestID:   requestID,
		SubjectRequestType: form.RequestType,
		SubmittedTime:      form.SubmittedTime.UTC().Format(time.RFC3339),
		SubjectIdentities: map[string]subjectIdentity{
			"controller_customer_id": {Value: form.UserID, Encoding: "raw"},
		},
		APIVersion: apiVersion,
		GroupID:    form.UserID,
	}
	if form.Environment != "" {
		body.Extensions = map[string]map[string]any{
			"opendsr.mparticle.com": {"environment": string(form.Environment)},
		}
	}

	var state requestStateBody
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/requests", body, &state); err != nil {
		return nil, err
	}
	if state.SubjectRequestID == "" {
		state.SubjectRequestID = requestID
	}

	return &Submission{
		RequestID:              state.SubjectRequestID,
		ControllerID:           state.ControllerID,
		ExpectedCompletionTime: parseTimestamp(state.ExpectedCompletionTime),
	}, nil
}

// Status fetches the current state of a subject request. The projection is
// read fresh on every call and never cached.
func (c *Client) Status(ctx context.Context, requestID string) (*SubjectRequestState, error) {
	if strings.TrimSpace(requestID) == "" {
		return nil, errors.New("opendsr client: request id is required")
	}

	var state requestStateBody
	endpoint := c.baseURL + "/requests/" + url.PathEscape(requestID)
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &state); err != nil {
		return nil, err
	}
	return stateFromWire(state), nil
}

// StatusByGroupID looks up existing subject requests by grouping key. It
// returns nil when no request matches. More than one match is a data-quality
// signal, not a hard error: the first match wins and a warning is logged.
func (c *Client) StatusByGroupID(ctx context.Context, groupID string) (*SubjectRequestState, error) {
	if strings.TrimSpace(groupID) == "" {
		return nil, errors.New("opendsr client: group id is required")
	}

	var listing struct {
		Requests []requestStateBody `json:"requests"`
	}
	endpoint := c.baseURL + "/requests?group_id=" + url.QueryEscape(groupID)
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &listing); err != nil {
		if upstream.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	if len(listing.Requests) == 0 {
		return nil, nil
	}
	if len(listing.Requests) > 1 {
		c.logger.Warn().
			Str("group_id", groupID).
			Int("matches", len(listing.Requests)).
			Msg("opendsr client: multiple requests share a group id; using first match")
	}
	return stateFromWire(listing.Requests[0]), nil
}

// ResultStream opens the exported results referenced by a completed access
// request. The results URL must live under the trusted base URL; the base is
// stripped and the relative path re-issued against the configured base so
// workspace credentials can never be sent to an attacker-supplied host.
func (c *Client) ResultStream(ctx context.Context, resultsURL string) (io.ReadCloser, error) {
	trimmed := strings.TrimSpace(resultsURL)
	if _, err := util.ValidateHTTPSURL(trimmed); err != nil {
		return nil, fmt.Errorf("opendsr client: results url: %w", err)
	}
	if !strings.HasPrefix(trimmed, c.baseURL+"/") {
		return nil, fmt.Errorf("opendsr client: results url %q is outside the trusted base", trimmed)
	}

	relative := strings.TrimPrefix(trimmed, c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+relative, nil)
	if err != nil {
		return nil, fmt.Errorf("opendsr client: new request: %w", err)
	}
	req.SetBasicAuth(c.key, c.secret)
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opendsr client: http do: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := upstream.NewHTTPError(resp, c.maxBodyBytes)
		resp.Body.Close()
		return nil, httpErr
	}
	return resp.Body, nil
}

// Discovery fetches the processor's OpenDSR discovery document, which names
// the certificate used to sign status callbacks.
func (c *Client) Discovery(ctx context.Context) (*DiscoveryDocument, error) {
	var doc DiscoveryDocument
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/discovery", nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SendExclusionEvent writes the waiting-period-exclusion marker to the user's
// profile via the upstream events API, so the user is excluded from active
// processing while an erasure request is pending. Callers treat this as best
// effort.
func (c *Client) SendExclusionEvent(ctx context.Context, userID string, env Environment) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("opendsr client: user id is required")
	}
	if c.eventsBaseURL == "" {
		return errors.New("opendsr client: events base URL is not configured")
	}

	body := map[string]any{
		"schema_version": 2,
		"environment":    string(env),
		"user_identities": map[string]string{
			"customer_id": userID,
		},
		"events": []map[string]any{
			{
				"event_type": "custom_event",
				"data": map[string]any{
					"event_name":        "waiting_period_exclusion",
					"custom_event_type": "other",
					"timestamp_unixtime_ms": c.now().UnixMilli(),
				},
			},
		},
	}

	return c.doJSON(ctx, http.MethodPost, c.eventsBaseURL+"/events", body, nil)
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("opendsr client: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("opendsr client: new request: %w", err)
	}
	req.SetBasicAuth(c.key, c.secret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("opendsr client: http do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return upstream.NewHTTPError(resp, c.maxBodyBytes)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBodyBytes))
		return nil
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, c.maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("opendsr client: decode response: %w", err)
	}
	return nil
}

func stateFromWire(state requestStateBody) *SubjectRequestState {
	return &SubjectRequestState{
		RequestID:              state.SubjectRequestID,
		ControllerID:           state.ControllerID,
		ExpectedCompletionTime: parseTimestamp(state.ExpectedCompletionTime),
		RequestStatus:          state.RequestStatus,
		ResultsURL:             state.ResultsURL,
	}
}

func parseTimestamp(value string) time.Time {
	ts, err := util.ParseRFC3339(value)
	if err != nil {
		return time.Time{}
	}
	return ts
}
