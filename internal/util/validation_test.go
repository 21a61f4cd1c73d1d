package util_test

import (
	"errors"
	"testing"
	"time"

	"github.com/example/dsr-baton/internal/util"
)

func TestParseUUIDv4(t *testing.T) {
	u, err := util.ParseUUIDv4("  2f9f1c08-32d5-4f3a-9be4-54a2ce2d0bd0  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.String() != "2f9f1c08-32d5-4f3a-9be4-54a2ce2d0bd0" {
		t.Fatalf("unexpected uuid %s", u)
	}
}

func TestParseUUIDv4Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":       "",
		"not_a_uuid":  "abc-123",
		"wrong_ver":   "6fa459ea-ee8a-11d2-90f6-000000000000",
		"extra_chars": "2f9f1c08-32d5-4f3a-9be4-54a2ce2d0bd0x",
	}

	for name, input := range cases {
		input := input
		t.Run(name, func(t *testing.T) {
			if _, err := util.ParseUUIDv4(input); !errors.Is(err, util.ErrInvalidUUID) {
				t.Fatalf("expected ErrInvalidUUID for %q, got %v", input, err)
			}
		})
	}
}

func TestParseRFC3339(t *testing.T) {
	ts, err := util.ParseRFC3339("2024-05-01T10:30:00.123Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 5, 1, 10, 30, 0, 123000000, time.UTC)
	if !ts.Equal(want) {
		t.Fatalf("expected %s, got %s", want, ts)
	}

	if _, err := util.ParseRFC3339("yesterday"); !errors.Is(err, util.ErrInvalidTimestamp) {
		t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
	}
}

func TestNormalizeEmail(t *testing.T) {
	got, err := util.NormalizeEmail(" User@Example.COM ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "user@example.com" {
		t.Fatalf("expected user@example.com, got %s", got)
	}

	for _, bad := range []string{"", "no-at-sign", "Name <user@example.com>"} {
		if _, err := util.NormalizeEmail(bad); !errors.Is(err, util.ErrInvalidEmail) {
			t.Fatalf("expected ErrInvalidEmail for %q, got %v", bad, err)
		}
	}
}

func TestValidateHTTPSURL(t *testing.T) {
	if _, err := util.ValidateHTTPSURL("https://opendsr.us1.mparticle.com/v3/requests"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for name, bad := range map[string]string{
		"empty":   "",
		"plain":   "http://example.com",
		"no_host": "https:///path-only",
	} {
		bad := bad
		t.Run(name, func(t *testing.T) {
			if _, err := util.ValidateHTTPSURL(bad); !errors.Is(err, util.ErrInvalidURL) {
				t.Fatalf("expected ErrInvalidURL for %q, got %v", bad, err)
			}
		})
	}
}
