package braze_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/example/dsr-baton/internal/config"
	"github.com/example/dsr-baton/internal/providers/braze"
	"github.com/example/dsr-baton/internal/upstream"
)

type stubHTTPClient struct {
	requests []*http.Request
	bodies   []string
	response *http.Response
	err      error
}

func (s *stubHTTPClient) Do(req *http.Request) (*http.Response, error) {
	s.requests = append(s.requests, req)
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		s.bodies = append(s.bodies, string(raw))
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}

func response(code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Status:     http.StatusText(code),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestClient(t *testing.T, stub *stubHTTPClient) *braze.Client {
	t.Helper()
	client, err := braze.NewClient(config.BrazeConfig{
		BaseURL: "https://rest.iad-01.braze.com",
		APIKey:  "braze-key",
	}, zerolog.Nop(), braze.WithHTTPClient(stub))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestDeleteUserPostsExternalID(t *testing.T) {
	stub := &stubHTTPClient{response: response(http.StatusCreated, `{"deleted": 1}`)}
	client := newTestClient(t, stub)

	result, err := client.DeleteUser(context.Background(), "braze-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", result.Deleted)
	}

	req := stub.requests[0]
	if req.Method != http.MethodPost || !strings.HasSuffix(req.URL.Path, "/users/delete") {
		t.Fatalf("unexpected request %s %s", req.Method, req.URL)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer braze-key" {
		t.Fatalf("unexpected authorization header %q", got)
	}

	var body map[string][]string
	if err := json.Unmarshal([]byte(stub.bodies[0]), &body); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	if len(body["external_ids"]) != 1 || body["external_ids"][0] != "braze-42" {
		t.Fatalf("unexpected external ids %v", body["external_ids"])
	}
}

func TestDeleteUserZeroDeleted(t *testing.T) {
	stub := &stubHTTPClient{response: response(http.StatusCreated, `{"deleted": 0}`)}
	client := newTestClient(t, stub)

	result, err := client.DeleteUser(context.Background(), "braze-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Deleted != 0 {
		t.Fatalf("expected zero deleted, got %d", result.Deleted)
	}
}

func TestDeleteUserPropagatesHTTPError(t *testing.T) {
	stub := &stubHTTPClient{response: response(http.StatusTooManyRequests, "rate limited")}
	client := newTestClient(t, stub)

	_, err := client.DeleteUser(context.Background(), "braze-42")
	if err == nil || upstream.IsNotFound(err) {
		t.Fatalf("expected non-404 HTTPError, got %v", err)
	}
}

func TestDeleteUserRequiresBrazeID(t *testing.T) {
	stub := &stubHTTPClient{response: response(http.StatusOK, "{}")}
	client := newTestClient(t, stub)

	if _, err := client.DeleteUser(context.Background(), ""); err == nil {
		t.Fatalf("expected error for blank braze id")
	}
	if len(stub.requests) != 0 {
		t.Fatalf("no request may be issued for a blank braze id")
	}
}
