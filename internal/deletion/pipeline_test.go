package deletion_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/example/dsr-baton/internal/deletion"
	"github.com/example/dsr-baton/internal/models"
	"github.com/example/dsr-baton/internal/providers/braze"
	"github.com/example/dsr-baton/internal/upstream"
)

type primaryStub struct {
	calls []string
	err   error
}

func (p *primaryStub) DeleteUser(_ context.Context, userID string) error {
	p.calls = append(p.calls, userID)
	return p.err
}

type secondaryStub struct {
	calls  []string
	result *braze.Result
	err    error
}

func (s *secondaryStub) DeleteUser(_ context.Context, brazeID string) (*braze.Result, error) {
	s.calls = append(s.calls, brazeID)
	return s.result, s.err
}

func statusErr(code int) error {
	resp := &http.Response{
		StatusCode: code,
		Status:     http.StatusText(code),
		Body:       io.NopCloser(strings.NewReader("")),
	}
	return upstream.NewHTTPError(resp, 0)
}

func newPipeline(t *testing.T, primary *primaryStub, secondary *secondaryStub) *deletion.Pipeline {
	t.Helper()
	p, err := deletion.NewPipeline(primary, secondary, zerolog.Nop())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func TestProcessDeletesBothSystems(t *testing.T) {
	primary := &primaryStub{}
	secondary := &secondaryStub{result: &braze.Result{Deleted: 1}}
	pipeline := newPipeline(t, primary, secondary)

	attrs, err := pipeline.Process(context.Background(),
		models.DeletionRequestBody{UserID: "user-1", BrazeID: "braze-1"},
		models.MessageAttributes{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !attrs.MParticleDeleted || !attrs.BrazeDeleted {
		t.Fatalf("expected both flags set, got %+v", attrs)
	}
	if len(primary.calls) != 1 || len(secondary.calls) != 1 {
		t.Fatalf("expected one call to each system")
	}
}

func TestProcessNoBrazeIDSkipsSecondary(t *testing.T) {
	primary := &primaryStub{}
	secondary := &secondaryStub{}
	pipeline := newPipeline(t, primary, secondary)
	body := models.DeletionRequestBody{UserID: "user-1"}

	// Two deliveries for the same user: success both times, zero Braze
	// calls in total.
	for i := 0; i < 2; i++ {
		attrs, err := pipeline.Process(context.Background(), body, models.MessageAttributes{})
		if err != nil {
			t.Fatalf("delivery %d: unexpected error: %v", i, err)
		}
		if !attrs.MParticleDeleted || !attrs.BrazeDeleted {
			t.Fatalf("delivery %d: expected success flags, got %+v", i, attrs)
		}
	}
	if len(secondary.calls) != 0 {
		t.Fatalf("secondary must not be called without a braze id, got %d calls", len(secondary.calls))
	}
}

func TestProcessPrimary404IsSuccess(t *testing.T) {
	primary := &primaryStub{err: statusErr(http.StatusNotFound)}
	secondary := &secondaryStub{result: &braze.Result{Deleted: 1}}
	pipeline := newPipeline(t, primary, secondary)

	attrs, err := pipeline.Process(context.Background(),
		models.DeletionRequestBody{UserID: "user-1", BrazeID: "braze-1"},
		models.MessageAttributes{})
	if err != nil {
		t.Fatalf("404 must be success, got %v", err)
	}
	if !attrs.MParticleDeleted {
		t.Fatalf("absent user still counts as deleted")
	}
	if len(secondary.calls) != 1 {
		t.Fatalf("secondary must still run after a primary 404")
	}
}

func TestProcessPrimary500IsRetryable(t *testing.T) {
	primary := &primaryStub{err: statusErr(http.StatusInternalServerError)}
	secondary := &secondaryStub{}
	pipeline := newPipeline(t, primary, secondary)

	attrs, err := pipeline.Process(context.Background(),
		models.DeletionRequestBody{UserID: "user-1", BrazeID: "braze-1"},
		models.MessageAttributes{})
	if !errors.Is(err, upstream.ErrRetryable) {
		t.Fatalf("expected retryable classification, got %v", err)
	}
	if attrs.MParticleDeleted {
		t.Fatalf("failed primary must not be marked deleted")
	}
	if len(secondary.calls) != 0 {
		t.Fatalf("secondary must not run after a primary failure this delivery")
	}
}

func TestProcessPrimary400IsNonRetryableButSurfaced(t *testing.T) {
	primary := &primaryStub{err: statusErr(http.StatusBadRequest)}
	secondary := &secondaryStub{}
	pipeline := newPipeline(t, primary, secondary)

	_, err := pipeline.Process(context.Background(),
		models.DeletionRequestBody{UserID: "user-1"},
		models.MessageAttributes{})
	if err == nil {
		t.Fatalf("non-retryable failures must still surface")
	}
	if !errors.Is(err, upstream.ErrNonRetryable) {
		t.Fatalf("expected non-retryable classification, got %v", err)
	}
}

func TestProcessSecondary404IsSuccess(t *testing.T) {
	primary := &primaryStub{}
	secondary := &secondaryStub{err: statusErr(http.StatusNotFound)}
	pipeline := newPipeline(t, primary, secondary)

	attrs, err := pipeline.Process(context.Background(),
		models.DeletionRequestBody{UserID: "user-1", BrazeID: "braze-1"},
		models.MessageAttributes{})
	if err != nil {
		t.Fatalf("secondary 404 must be success, got %v", err)
	}
	if !attrs.BrazeDeleted {
		t.Fatalf("absent braze user still counts as deleted")
	}
}

func TestProcessSecondaryZeroDeletedIsSuccess(t *testing.T) {
	primary := &primaryStub{}
	secondary := &secondaryStub{result: &braze.Result{Deleted: 0}}
	pipeline := newPipeline(t, primary, secondary)

	attrs, err := pipeline.Process(context.Background(),
		models.DeletionRequestBody{UserID: "user-1", BrazeID: "braze-1"},
		models.MessageAttributes{})
	if err != nil {
		t.Fatalf("zero records affected must be success, got %v", err)
	}
	if !attrs.BrazeDeleted {
		t.Fatalf("expected braze flag set, got %+v", attrs)
	}
}

func TestProcessSecondaryFailureKeepsPrimaryProgress(t *testing.T) {
	primary := &primaryStub{}
	secondary := &secondaryStub{err: statusErr(http.StatusBadGateway)}
	pipeline := newPipeline(t, primary, secondary)

	attrs, err := pipeline.Process(context.Background(),
		models.DeletionRequestBody{UserID: "user-1", BrazeID: "braze-1"},
		models.MessageAttributes{})
	if !errors.Is(err, upstream.ErrRetryable) {
		t.Fatalf("expected retryable classification, got %v", err)
	}
	if !attrs.MParticleDeleted {
		t.Fatalf("primary progress must be recorded for the retry")
	}
	if attrs.BrazeDeleted {
		t.Fatalf("failed secondary must not be marked deleted")
	}
}

func TestProcessReplaysBothCallsOnRedelivery(t *testing.T) {
	primary := &primaryStub{}
	secondary := &secondaryStub{result: &braze.Result{Deleted: 1}}
	pipeline := newPipeline(t, primary, secondary)
	body := models.DeletionRequestBody{UserID: "user-1", BrazeID: "braze-1"}

	// A redelivery carrying prior progress still replays the full
	// sequence; both calls are idempotent and ordering stays fixed.
	attrs := models.MessageAttributes{MParticleDeleted: true, AttemptCount: 1}
	if _, err := pipeline.Process(context.Background(), body, attrs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(primary.calls) != 1 || len(secondary.calls) != 1 {
		t.Fatalf("full replay expected, got primary=%d secondary=%d", len(primary.calls), len(secondary.calls))
	}
}
