package upstream_test

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/example/dsr-baton/internal/upstream"
)

func httpError(code int, body string) *upstream.HTTPError {
	resp := &http.Response{
		StatusCode: code,
		Status:     http.StatusText(code),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
	return upstream.NewHTTPError(resp, 0)
}

func TestNewHTTPErrorCapturesBody(t *testing.T) {
	err := httpError(http.StatusBadRequest, `{"errors":["duplicate"]}`)
	if err.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", err.Code)
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected body in message, got %q", err.Error())
	}
}

func TestIsNotFound(t *testing.T) {
	if !upstream.IsNotFound(httpError(http.StatusNotFound, "")) {
		t.Fatalf("expected 404 to be not-found")
	}
	if upstream.IsNotFound(httpError(http.StatusBadRequest, "")) {
		t.Fatalf("expected 400 to not be not-found")
	}
	if upstream.IsNotFound(errors.New("network down")) {
		t.Fatalf("expected plain error to not be not-found")
	}
}

func TestIsClientRejection(t *testing.T) {
	if !upstream.IsClientRejection(httpError(http.StatusConflict, "")) {
		t.Fatalf("expected 409 to be a client rejection")
	}
	if upstream.IsClientRejection(httpError(http.StatusNotFound, "")) {
		t.Fatalf("404 must not be a client rejection")
	}
	if upstream.IsClientRejection(httpError(http.StatusInternalServerError, "")) {
		t.Fatalf("500 must not be a client rejection")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "server_error", err: httpError(http.StatusInternalServerError, ""), retryable: true},
		{name: "bad_gateway", err: httpError(http.StatusBadGateway, ""), retryable: true},
		{name: "bad_request", err: httpError(http.StatusBadRequest, ""), retryable: false},
		{name: "too_many_requests", err: httpError(http.StatusTooManyRequests, ""), retryable: false},
		{name: "transport", err: errors.New("connection reset"), retryable: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			classified := upstream.Classify(tc.err)
			if got := errors.Is(classified, upstream.ErrRetryable); got != tc.retryable {
				t.Fatalf("retryable = %v, want %v (err: %v)", got, tc.retryable, classified)
			}
			if got := errors.Is(classified, upstream.ErrNonRetryable); got == tc.retryable {
				t.Fatalf("non-retryable = %v contradicts retryable = %v", got, tc.retryable)
			}
		})
	}
}

func TestClassifyNilAndAlreadyClassified(t *testing.T) {
	if upstream.Classify(nil) != nil {
		t.Fatalf("nil must classify to nil")
	}

	wrapped := upstream.WrapNonRetryable(errors.New("rejected"))
	if got := upstream.Classify(wrapped); got != wrapped {
		t.Fatalf("already-classified error must pass through, got %v", got)
	}
}

func TestTruncateRaw(t *testing.T) {
	if got := upstream.TruncateRaw("abcdef", 3); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
	if got := upstream.TruncateRaw("short", 100); got != "short" {
		t.Fatalf("expected short, got %q", got)
	}
	if got := upstream.TruncateRaw("anything", 0); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
