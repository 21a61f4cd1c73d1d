package trust_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/dsr-baton/internal/trust"
)

func TestCacheColdFetchThenReuse(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sc := makeSigningCert(t, trustedDomain, now.Add(-time.Hour), now.Add(time.Hour))
	server := &pemServer{pem: sc.pem}

	discoveries := 0
	cache, err := trust.NewCache(func(context.Context) (string, error) {
		discoveries++
		return "https://static.mparticle.com/dsr/opendsr_cert.pem", nil
	}, zerolog.Nop(), trust.WithHTTPClient(server), trust.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	for i := 0; i < 3; i++ {
		cert := cache.ProcessorCertificate(context.Background())
		if cert == nil {
			t.Fatalf("expected certificate on call %d", i)
		}
		if cert.Certificate.Subject.CommonName != trustedDomain {
			t.Fatalf("unexpected CN %s", cert.Certificate.Subject.CommonName)
		}
	}

	if discoveries != 1 {
		t.Fatalf("warm cache must not rediscover, got %d calls", discoveries)
	}
	if server.calls != 1 {
		t.Fatalf("warm cache must not refetch, got %d calls", server.calls)
	}
}

func TestCacheExpiredCertificateRefetchesExactlyOnce(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	// The discovery endpoint keeps serving a certificate that is already
	// expired, so the single refresh cannot succeed.
	expired := makeSigningCert(t, trustedDomain, now.Add(-2*time.Hour), now.Add(-time.Hour))
	server := &pemServer{pem: expired.pem}

	discoveries := 0
	cache, err := trust.NewCache(func(context.Context) (string, error) {
		discoveries++
		return "https://static.mparticle.com/dsr/opendsr_cert.pem", nil
	}, zerolog.Nop(), trust.WithHTTPClient(server), trust.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	if cert := cache.ProcessorCertificate(context.Background()); cert != nil {
		t.Fatalf("expired certificate must not be returned")
	}
	if discoveries != 2 {
		t.Fatalf("expected exactly 2 discovery calls (cold fetch + single refresh), got %d", discoveries)
	}
}

func TestCacheExpiredThenRenewedCertificate(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	old := makeSigningCert(t, trustedDomain, start.Add(-time.Hour), start.Add(time.Hour))
	renewed := makeSigningCert(t, trustedDomain, start.Add(time.Hour), start.Add(48*time.Hour))

	now := start
	server := &pemServer{pem: old.pem}
	cache, err := trust.NewCache(func(context.Context) (string, error) {
		return "https://static.mparticle.com/dsr/opendsr_cert.pem", nil
	}, zerolog.Nop(), trust.WithHTTPClient(server), trust.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	if cert := cache.ProcessorCertificate(context.Background()); cert == nil {
		t.Fatalf("expected certificate while still valid")
	}

	// The cached certificate expires and the endpoint now serves its
	// replacement; the single refresh must pick it up.
	now = start.Add(2 * time.Hour)
	server.pem = renewed.pem

	cert := cache.ProcessorCertificate(context.Background())
	if cert == nil {
		t.Fatalf("expected renewed certificate after refresh")
	}
	if !cert.NotAfter().After(now) {
		t.Fatalf("refreshed certificate is still expired")
	}
	if server.calls != 2 {
		t.Fatalf("expected exactly one refetch, got %d fetches", server.calls)
	}
}

func TestCacheFailsClosedOnDiscoveryError(t *testing.T) {
	cache, err := trust.NewCache(func(context.Context) (string, error) {
		return "", errors.New("discovery unavailable")
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	if cert := cache.ProcessorCertificate(context.Background()); cert != nil {
		t.Fatalf("discovery failure must yield nil, not panic or error")
	}
}

func TestCacheRejectsInsecureCertificateURL(t *testing.T) {
	server := &pemServer{}
	cache, err := trust.NewCache(func(context.Context) (string, error) {
		return "http://static.mparticle.com/dsr/opendsr_cert.pem", nil
	}, zerolog.Nop(), trust.WithHTTPClient(server))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	if cert := cache.ProcessorCertificate(context.Background()); cert != nil {
		t.Fatalf("plain http certificate url must be rejected")
	}
	if server.calls != 0 {
		t.Fatalf("no fetch may happen for an insecure url")
	}
}

func TestParseCertificatePEMRejectsGarbage(t *testing.T) {
	if _, err := trust.ParseCertificatePEM("not a pem"); err == nil {
		t.Fatalf("expected error for non-PEM input")
	}
	if _, err := trust.ParseCertificatePEM("-----BEGIN PUBLIC KEY-----\nYWJj\n-----END PUBLIC KEY-----\n"); err == nil {
		t.Fatalf("expected error for non-certificate block")
	}
}
