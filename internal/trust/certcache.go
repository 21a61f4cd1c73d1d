package trust

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/dsr-baton/internal/util"
)

const maxCertificateBytes = 64 * 1024

// ProcessorCertificate is the processor's parsed signing certificate together
// with the PEM text it was loaded from. Validity is enforced by the cache and
// rechecked by the validator.
type ProcessorCertificate struct {
	Certificate *x509.Certificate
	PEM         string
}

// NotBefore returns the start of the certificate's validity window.
func (p *ProcessorCertificate) NotBefore() time.Time { return p.Certificate.NotBefore }

// NotAfter returns the end of the certificate's validity window.
func (p *ProcessorCertificate) NotAfter() time.Time { return p.Certificate.NotAfter }

// DiscoverFunc resolves the URL of the processor's signing certificate, e.g.
// via the OpenDSR discovery document.
type DiscoverFunc func(ctx context.Context) (string, error)

// HTTPClient abstracts the http.Client Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// CacheOption customises the certificate cache.
type CacheOption func(*Cache)

// WithHTTPClient overrides the HTTP client used to fetch the certificate PEM.
func WithHTTPClient(client HTTPClient) CacheOption {
	return func(c *Cache) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithClock overrides the clock used for validity checks.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Cache holds the processor's signing certificate for the lifetime of the
// process. Population is racy-but-idempotent: concurrent cold-cache callers
// may each fetch the same certificate and the last write wins, which is
// acceptable because every fetch yields the same certificate. The mutex only
// guards the slot itself; it is never held across network I/O.
type Cache struct {
	logger     zerolog.Logger
	discover   DiscoverFunc
	httpClient HTTPClient
	now        func() time.Time

	mu   sync.Mutex
	cert *ProcessorCertificate
}

// NewCache constructs a certificate cache around the supplied discovery
// function.
func NewCache(discover DiscoverFunc, logger zerolog.Logger, opts ...CacheOption) (*Cache, error) {
	if discover == nil {
		return nil, errors.New("trust cache: discover dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	c := &Cache{
		logger:     logger,
		discover:   discover,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// ProcessorCertificate returns the cached certificate, fetching it on a cold
// cache and refreshing it exactly once when the cached copy has expired. It
// returns nil on any failure: callback verification fails closed instead of
// crashing the handler.
func (c *Cache) ProcessorCertificate(ctx context.Context) *ProcessorCertificate {
	return c.certificate(ctx, false)
}

func (c *Cache) certificate(ctx context.Context, expirationRetry bool) *ProcessorCertificate {
	c.mu.Lock()
	cached := c.cert
	c.mu.Unlock()

	if cached == nil {
		fetched, err := c.fetch(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("trust cache: certificate fetch failed")
			return nil
		}
		c.mu.Lock()
		c.cert = fetched
		c.mu.Unlock()
		cached = fetched
	}

	now := c.now()
	if now.Before(cached.NotBefore()) || now.After(cached.NotAfter()) {
		if expirationRetry {
			// Hard boundary: a single refresh per call. A misbehaving
			// discovery endpoint must not turn expiry into a retry loop.
			c.logger.Warn().
				Time("not_after", cached.NotAfter()).
				Msg("trust cache: certificate still outside validity window after refresh")
			return nil
		}
		c.mu.Lock()
		c.cert = nil
		c.mu.Unlock()
		return c.certificate(ctx, true)
	}

	return cached
}

func (c *Cache) fetch(ctx context.Context) (*ProcessorCertificate, error) {
	certURL, err := c.discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover certificate url: %w", err)
	}
	if strings.TrimSpace(certURL) == "" {
		return nil, errors.New("discovery returned an empty certificate url")
	}
	if _, err := util.ValidateHTTPSURL(certURL); err != nil {
		return nil, fmt.Errorf("certificate url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch certificate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch certificate: unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxCertificateBytes))
	if err != nil {
		return nil, fmt.Errorf("read certificate body: %w", err)
	}

	return ParseCertificatePEM(string(raw))
}

// ParseCertificatePEM decodes and parses a PEM-encoded X.509 certificate.
func ParseCertificatePEM(pemText string) (*ProcessorCertificate, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("pem does not contain a certificate block")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	return &ProcessorCertificate{Certificate: cert, PEM: pemText}, nil
}
