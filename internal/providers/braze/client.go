package braze

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/dsr-baton/internal/config"
	"github.com/example/dsr-baton/internal/upstream"
)

// HTTPClient abstracts the http.Client Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option customises the Braze deletion client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used to talk to Braze.
func WithHTTPClient(client HTTPClient) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL sets the base Braze REST URL. Useful for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// Result reports how many user records a deletion call removed. Zero records
// means the user was already absent, which the pipeline treats as success.
type Result struct {
	Deleted int `json:"deleted"`
}

// Client erases users from Braze, the secondary system in the deletion
// pipeline.
type Client struct {
	logger       zerolog.Logger
	baseURL      string
	apiKey       string
	httpClient   HTTPClient
	maxBodyBytes int64
}

// NewClient constructs a Braze deletion client.
func NewClient(cfg config.BrazeConfig, logger zerolog.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("braze client: base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("braze client: api key is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	c := &Client{
		logger:       logger,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		maxBodyBytes: 16 * 1024,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// DeleteUser removes a user by external id. A 404 propagates as an HTTPError;
// the pipeline treats it as success because the user is already absent.
func (c *Client) DeleteUser(ctx context.Context, brazeID string) (*Result, error) {
	if strings.TrimSpace(brazeID) == "" {
		return nil, errors.New("braze client: braze id is required")
	}

	payload, err := json.Marshal(map[string]any{
		"external_ids": []string{brazeID},
	})
	if err != nil {
		return nil, fmt.Errorf("braze client: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/users/delete", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("braze client: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("braze client: http do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, upstream.NewHTTPError(resp, c.maxBodyBytes)
	}

	var result Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, c.maxBodyBytes)).Decode(&result); err != nil {
		return nil, fmt.Errorf("braze client: decode response: %w", err)
	}

	c.logger.Debug().
		Str("braze_id", brazeID).
		Int("deleted", result.Deleted).
		Msg("braze deletion completed")
	return &result, nil
}
