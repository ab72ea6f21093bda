package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ClientOption configures the HTTP based sinks.
type ClientOption func(*httpSink)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(s *httpSink) {
		s.client = client
	}
}

// WithBaseURL points the sink at another endpoint, for tests and mirrors.
func WithBaseURL(baseURL string) ClientOption {
	return func(s *httpSink) {
		s.baseURL = baseURL
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(s *httpSink) {
		s.client.Timeout = timeout
	}
}

type httpSink struct {
	baseURL string
	client  *http.Client
}

func newHTTPSink(baseURL string, opts []ClientOption) httpSink {
	s := httpSink{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// do sends req and returns the body of a reply with the wanted status.
func (s httpSink) do(ctx context.Context, req *http.Request, want func(int) bool) ([]byte, error) {
	res, err := s.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if !want(res.StatusCode) {
		return nil, NewHTTPError(res.StatusCode, string(body))
	}
	return body, nil
}

func is2xx(code int) bool { return code >= 200 && code < 300 }
