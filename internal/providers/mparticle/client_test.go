package mparticle_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/example/dsr-baton/internal/config"
	"github.com/example/dsr-baton/internal/providers/mparticle"
	"github.com/example/dsr-baton/internal/upstream"
)

type stubHTTPClient struct {
	requests []*http.Request
	response *http.Response
	err      error
}

func (s *stubHTTPClient) Do(req *http.Request) (*http.Response, error) {
	s.requests = append(s.requests, req)
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

func newTestClient(t *testing.T, stub *stubHTTPClient) *mparticle.Client {
	t.Helper()
	client, err := mparticle.NewClient(config.DeletionAPIConfig{
		BaseURL:   "https://api.mparticle.com/userprofile/v1",
		APIKey:    "key",
		APISecret: "secret",
	}, zerolog.Nop(), mparticle.WithHTTPClient(stub))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestDeleteUserIssuesAuthenticatedDelete(t *testing.T) {
	stub := &stubHTTPClient{response: response(http.StatusOK, "")}
	client := newTestClient(t, stub)

	if err := client.DeleteUser(context.Background(), "user-42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := stub.requests[0]
	if req.Method != http.MethodDelete {
		t.Fatalf("expected DELETE, got %s", req.Method)
	}
	if !strings.HasSuffix(req.URL.Path, "/profiles/user-42") {
		t.Fatalf("unexpected path %s", req.URL.Path)
	}
	if user, pass, ok := req.BasicAuth(); !ok || user != "key" || pass != "secret" {
		t.Fatalf("expected basic auth credentials")
	}
}

func TestDeleteUserPropagatesHTTPError(t *testing.T) {
	stub := &stubHTTPClient{response: response(http.StatusNotFound, "no such profile")}
	client := newTestClient(t, stub)

	err := client.DeleteUser(context.Background(), "user-42")
	if !upstream.IsNotFound(err) {
		t.Fatalf("expected 404 HTTPError, got %v", err)
	}
}

func TestDeleteUserRequiresUserID(t *testing.T) {
	stub := &stubHTTPClient{response: response(http.StatusOK, "")}
	client := newTestClient(t, stub)

	if err := client.DeleteUser(context.Background(), " "); err == nil {
		t.Fatalf("expected error for blank user id")
	}
	if len(stub.requests) != 0 {
		t.Fatalf("no request may be issued for a blank user id")
	}
}
