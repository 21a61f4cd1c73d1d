package mparticle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
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

// Option customises the mParticle deletion client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used to talk to mParticle.
func WithHTTPClient(client HTTPClient) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL sets the base deletion API URL. Useful for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// Client erases user profiles from mParticle, the identity-bearing primary
// system in the deletion pipeline.
type Client struct {
	logger       zerolog.Logger
	baseURL      string
	apiKey       string
	apiSecret    string
	httpClient   HTTPClient
	maxBodyBytes int64
}

// NewClient constructs an mParticle deletion client.
func NewClient(cfg config.DeletionAPIConfig, logger zerolog.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("mparticle client: base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("mparticle client: api key is required")
	}
	if strings.TrimSpace(cfg.APISecret) == "" {
		return nil, errors.New("mparticle client: api secret is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	c := &Client{
		logger:       logger,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		apiSecret:    strings.TrimSpace(cfg.APISecret),
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

// DeleteUser removes the user's profile. A 404 propagates as an HTTPError;
// the pipeline treats it as success because the user is already absent.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("mparticle client: user id is required")
	}

	endpoint := c.baseURL + "/profiles/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("mparticle client: new request: %w", err)
	}
	req.SetBasicAuth(c.apiKey, c.apiSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mparticle client: http do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return upstream.NewHTTPError(resp, c.maxBodyBytes)
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBodyBytes))
	c.logger.Debug().Str("user_id", userID).Msg("mparticle profile deleted")
	return nil
}
