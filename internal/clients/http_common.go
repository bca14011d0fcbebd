package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"autopay-backend/internal/metrics"
)

// DefaultHTTPTimeout bounds every call to an external data source
const DefaultHTTPTimeout = 20 * time.Second

// maxResponseBytes caps how much of a response body is read
const maxResponseBytes = 8 << 20

// ErrNotFound is returned when the data source does not know the requested object
var ErrNotFound = errors.New("not found")

// APIError describes a failed call to a data source
type APIError struct {
	Source     string
	Endpoint   string
	StatusCode int    // HTTP status, 0 when the transport failed
	Code       int    // provider error code from the response envelope
	Message    string // provider message or response excerpt
	Err        error  // transport error
}

func (e *APIError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Source, e.Endpoint, e.Err)
	case e.Code != 0:
		return fmt.Sprintf("%s %s: code %d: %s", e.Source, e.Endpoint, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s %s: status %d: %s", e.Source, e.Endpoint, e.StatusCode, e.Message)
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later attempt may succeed: timeouts, rate limits and server errors
func (e *APIError) Retryable() bool {
	if e.Err != nil {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable reports whether err is a transient data source failure
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}

func truncate(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}

// doRequest sends req and returns the body of a 2xx response. A 404 becomes ErrNotFound.
func doRequest(httpClient *http.Client, req *http.Request, source, endpoint string) ([]byte, error) {
	start := time.Now()
	resp, err := httpClient.Do(req)
	metrics.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SourceRequestErrors.WithLabelValues(source, endpoint).Inc()
		return nil, &APIError{Source: source, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.SourceRequestErrors.WithLabelValues(source, endpoint).Inc()
		return nil, &APIError{Source: source, Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s %s: %w", source, endpoint, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.SourceRequestErrors.WithLabelValues(source, endpoint).Inc()
		return nil, &APIError{Source: source, Endpoint: endpoint, StatusCode: resp.StatusCode, Message: truncate(body, 256)}
	}
	return body, nil
}

func decodeJSON(body []byte, out interface{}, source, endpoint string) error {
	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{Source: source, Endpoint: endpoint, StatusCode: http.StatusOK, Message: fmt.Sprintf("failed to parse response: %v", err)}
	}
	return nil
}
