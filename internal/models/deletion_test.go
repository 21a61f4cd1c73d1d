package models_test

import (
	"testing"

	"github.com/example/dsr-baton/internal/models"
)

func TestMessageAttributesHeaderRoundTrip(t *testing.T) {
	attrs := models.MessageAttributes{
		MParticleDeleted: true,
		BrazeDeleted:     false,
		AttemptCount:     3,
	}

	got := models.AttributesFromHeaders(attrs.ToHeaders())
	if got != attrs {
		t.Fatalf("round trip mismatch: %+v != %+v", got, attrs)
	}
}

func TestAttributesFromHeadersDefaults(t *testing.T) {
	got := models.AttributesFromHeaders(nil)
	if got != (models.MessageAttributes{}) {
		t.Fatalf("expected zero attributes, got %+v", got)
	}

	got = models.AttributesFromHeaders(map[string][]byte{
		models.AttrMParticleDeleted: []byte("not-a-bool"),
		models.AttrAttemptCount:     []byte("-2"),
	})
	if got.MParticleDeleted || got.AttemptCount != 0 {
		t.Fatalf("malformed values must default to zero state, got %+v", got)
	}
}
