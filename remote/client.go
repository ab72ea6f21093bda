package remote

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/anibaldeboni/zero-paper/sensorhub/observability"
)

// DefaultTimeout bounds status and metadata calls.
const DefaultTimeout = 5 * time.Second

// Credentials is the HTTP basic-auth login presented to remote stations.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CredentialsProvider supplies the current process-wide login on every call.
type CredentialsProvider interface {
	Credentials() Credentials
}

// Caller is the subset of Client used by the fan-out and budgeting code.
type Caller interface {
	Call(ctx context.Context, addr Address, command string, timeout time.Duration) Result
	Download(ctx context.Context, addr Address, command string, timeout time.Duration, dst io.Writer) Result
	Send(ctx context.Context, addr Address, command string, form url.Values, timeout time.Duration) Result
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger used for per-call diagnostics.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client talks to remote stations. Every method returns a Result; errors are
// folded into Result.Status and never returned.
type Client struct {
	http   *http.Client
	creds  CredentialsProvider
	logger *zap.Logger
}

// NewClient creates a station client. Stations use self-signed certificates,
// so server verification is disabled on the default transport.
func NewClient(creds CredentialsProvider, opts ...ClientOption) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec

	c := &Client{
		http:   &http.Client{Transport: transport},
		creds:  creds,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Call issues GET /<command> and buffers the body into Result.Payload.
func (c *Client) Call(ctx context.Context, addr Address, command string, timeout time.Duration) Result {
	var buf strings.Builder
	res := c.do(ctx, addr, http.MethodGet, command, nil, timeout, &buf)
	if res.Status == StatusOk {
		res.Payload = []byte(buf.String())
	}
	return res
}

// Download issues GET /<command> and streams the body into dst.
func (c *Client) Download(ctx context.Context, addr Address, command string, timeout time.Duration, dst io.Writer) Result {
	return c.do(ctx, addr, http.MethodGet, command, nil, timeout, dst)
}

// Send issues POST /<command> with a url-encoded form.
func (c *Client) Send(ctx context.Context, addr Address, command string, form url.Values, timeout time.Duration) Result {
	var buf strings.Builder
	res := c.do(ctx, addr, http.MethodPost, command, form, timeout, &buf)
	if res.Status == StatusOk {
		res.Payload = []byte(buf.String())
	}
	return res
}

func (c *Client) do(ctx context.Context, addr Address, method, command string, form url.Values, timeout time.Duration, dst io.Writer) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := Result{Address: addr, Command: command}
	start := time.Now()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, addr.URL(command), body)
	if err != nil {
		return c.finish(res, StatusError, fmt.Errorf("failed to create request: %w", err))
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.creds != nil {
		cred := c.creds.Credentials()
		req.SetBasicAuth(cred.Username, cred.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.finish(res, classify(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return c.finish(res, StatusError, fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	if _, err := io.Copy(dst, resp.Body); err != nil {
		return c.finish(res, classify(err), fmt.Errorf("failed to read response: %w", err))
	}

	res.Elapsed = time.Since(start)
	return c.finish(res, StatusOk, nil)
}

func (c *Client) finish(res Result, status Status, err error) Result {
	res.Status = status
	if err != nil {
		res.Detail = err.Error()
		res.Elapsed = 0
		c.logger.Debug("remote call failed",
			zap.String("address", res.Address.Key()),
			zap.String("command", res.Command),
			zap.String("status", string(status)),
			zap.Error(err))
	} else {
		observability.RemoteCallSeconds.WithLabelValues(res.Command).Observe(res.Elapsed.Seconds())
	}
	observability.RemoteCalls.WithLabelValues(res.Command, string(status)).Inc()
	return res
}

// classify separates "station not reachable" from "station answered badly".
func classify(err error) Status {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return StatusOffline
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusOffline
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return StatusOffline
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return StatusOffline
	}

	return StatusError
}
