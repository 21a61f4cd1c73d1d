package upstream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"
)

// DefaultRawBodyLimit defines the maximum number of characters retained from
// an upstream response body when attaching it to an HTTPError.
const DefaultRawBodyLimit = 1024

// ErrRetryable and ErrNonRetryable are sentinel errors used when classifying
// downstream failures. Retryable failures are surfaced so the queue redelivers
// the message; non-retryable failures are surfaced so they reach the
// dead-letter path instead of being dropped.
var (
	ErrRetryable    = errors.New("retryable error")
	ErrNonRetryable = errors.New("non-retryable error")
)

// WrapRetryable annotates an error so callers can detect retryable failures.
func WrapRetryable(err error) error {
	if err == nil {
		return ErrRetryable
	}
	return fmt.Errorf("%w: %v", ErrRetryable, err)
}

// WrapNonRetryable annotates an error as non-retryable.
func WrapNonRetryable(err error) error {
	if err == nil {
		return ErrNonRetryable
	}
	return fmt.Errorf("%w: %v", ErrNonRetryable, err)
}

// HTTPError captures a non-2xx response from an upstream API along with a
// truncated copy of the response body for diagnostics.
type HTTPError struct {
	Code   int
	Status string
	Body   string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream http %d: %s", e.Code, e.Status)
	}
	return fmt.Sprintf("upstream http %d: %s: %s", e.Code, e.Status, e.Body)
}

// StatusCode returns the HTTP status code of the failed response.
func (e *HTTPError) StatusCode() int { return e.Code }

// NewHTTPError builds an HTTPError from a response, reading at most limit
// bytes of the body. The response body is left for the caller to close.
func NewHTTPError(resp *http.Response, limit int64) *HTTPError {
	if limit <= 0 {
		limit = DefaultRawBodyLimit
	}

	body := ""
	if resp.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(resp.Body, limit))
		if err == nil {
			body = TruncateRaw(string(raw), DefaultRawBodyLimit)
		}
	}

	status := resp.Status
	if status == "" {
		status = http.StatusText(resp.StatusCode)
	}

	return &HTTPError{
		Code:   resp.StatusCode,
		Status: status,
		Body:   body,
	}
}

// IsNotFound reports whether the error is an upstream 404.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Code == http.StatusNotFound
}

// IsClientRejection reports whether the error is a non-404 upstream 4xx.
func IsClientRejection(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return httpErr.Code >= http.StatusBadRequest &&
		httpErr.Code < http.StatusInternalServerError &&
		httpErr.Code != http.StatusNotFound
}

// Classify wraps the error with the retry classification required by the
// deletion pipeline: HTTP 5xx and network-level errors are retryable, HTTP
// 4xx (other than 404, which callers treat as success) is not.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRetryable) || errors.Is(err, ErrNonRetryable) {
		return err
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Code >= http.StatusInternalServerError:
			return WrapRetryable(err)
		case httpErr.Code >= http.StatusBadRequest:
			return WrapNonRetryable(err)
		}
	}

	// Transport-level failures (timeouts, connection resets) have no status
	// code and are always worth another delivery.
	return WrapRetryable(err)
}

// TruncateRaw trims the supplied string to the specified rune limit. If limit
// is zero or negative it returns an empty string.
func TruncateRaw(raw string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(raw) <= limit {
		return raw
	}
	runes := []rune(raw)
	if len(runes) <= limit {
		return raw
	}
	return string(runes[:limit])
}
