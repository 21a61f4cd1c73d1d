package trust

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ValidatorOption customises the callback validator.
type ValidatorOption func(*Validator)

// WithRoots overrides the certificate authorities the processor certificate
// must chain to. The default is the platform trust store.
func WithRoots(roots *x509.CertPool) ValidatorOption {
	return func(v *Validator) {
		v.roots = roots
	}
}

// WithValidatorClock overrides the clock used for validity checks.
func WithValidatorClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// Validator authenticates OpenDSR status callbacks delivered over an unsigned
// channel. Every check fails closed: a false result means the payload must be
// rejected with a 401 and never processed.
type Validator struct {
	logger  zerolog.Logger
	cache   *Cache
	allowed map[string]struct{}
	roots   *x509.CertPool
	now     func() time.Time
}

// NewValidator constructs a validator over the supplied certificate cache and
// processor domain allow-list.
func NewValidator(cache *Cache, allowedDomains []string, logger zerolog.Logger, opts ...ValidatorOption) *Validator {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	allowed := make(map[string]struct{}, len(allowedDomains))
	for _, domain := range allowedDomains {
		domain = strings.TrimSpace(domain)
		if domain != "" {
			allowed[domain] = struct{}{}
		}
	}

	v := &Validator{
		logger:  logger,
		cache:   cache,
		allowed: allowed,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Validate verifies a callback in fixed order, short-circuiting on the first
// failure: domain allow-list, certificate availability, chain of trust,
// subject common name, validity window, then the RSA-SHA256 signature over
// the raw body bytes. The body must be verified exactly as received; any
// re-serialization before this point would invalidate the signature.
func (v *Validator) Validate(ctx context.Context, processorDomain, signature string, rawBody []byte) bool {
	domain := strings.TrimSpace(processorDomain)
	if domain == "" {
		v.reject(domain, "missing processor domain")
		return false
	}
	if _, ok := v.allowed[domain]; !ok {
		v.reject(domain, "processor domain is not in the allow-list")
		return false
	}

	cert := v.cache.ProcessorCertificate(ctx)
	if cert == nil {
		v.reject(domain, "processor certificate unavailable")
		return false
	}

	now := v.now()
	if err := v.verifyChain(cert.Certificate, now); err != nil {
		v.logger.Warn().Err(err).Str("processor_domain", domain).
			Msg("callback rejected: certificate chain verification failed")
		return false
	}

	if cert.Certificate.Subject.CommonName != domain {
		v.reject(domain, "certificate common name does not match processor domain")
		return false
	}

	// The cache already enforces the validity window; recheck here so a
	// stale cache read can never vouch for an expired certificate.
	if now.Before(cert.NotBefore()) || now.After(cert.NotAfter()) {
		v.reject(domain, "certificate is outside its validity window")
		return false
	}

	if strings.TrimSpace(signature) == "" {
		v.reject(domain, "missing signature")
		return false
	}
	if len(rawBody) == 0 {
		v.reject(domain, "missing body")
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		v.reject(domain, "signature is not valid base64")
		return false
	}

	pub, ok := cert.Certificate.PublicKey.(*rsa.PublicKey)
	if !ok {
		v.reject(domain, "certificate does not carry an RSA public key")
		return false
	}

	digest := sha256.Sum256(rawBody)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		v.reject(domain, "signature verification failed")
		return false
	}

	return true
}

func (v *Validator) verifyChain(cert *x509.Certificate, now time.Time) error {
	opts := x509.VerifyOptions{
		Roots:       v.roots,
		CurrentTime: now,
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	_, err := cert.Verify(opts)
	return err
}

func (v *Validator) reject(domain, reason string) {
	v.logger.Warn().
		Str("processor_domain", domain).
		Str("reason", reason).
		Msg("callback rejected")
}
