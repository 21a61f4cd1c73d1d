package models_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/example/dsr-baton/internal/models"
)

func TestNewInitiationReferenceRoundTrip(t *testing.T) {
	for i := 0; i < 16; i++ {
		value := uuid.NewString()
		ref, err := models.NewInitiationReference(value)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", value, err)
		}
		if ref.String() != value {
			t.Fatalf("round trip changed value: %s != %s", ref, value)
		}
	}
}

func TestNewInitiationReferenceRejects(t *testing.T) {
	cases := map[string]string{
		"empty":     "",
		"garbage":   "not-a-uuid",
		"uuid_v1":   "6fa459ea-ee8a-11d2-90f6-000000000000",
		"truncated": "2f9f1c08-32d5-4f3a-9be4",
	}

	for name, input := range cases {
		input := input
		t.Run(name, func(t *testing.T) {
			if _, err := models.NewInitiationReference(input); err == nil {
				t.Fatalf("expected rejection for %q", input)
			}
		})
	}
}
