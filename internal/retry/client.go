package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// StatusError captures a non-2xx upstream response that is not retried.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("retry: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// TransportError wraps a failure to obtain any response at all.
type TransportError struct {
	URL string
	Err error

	permanent bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("retry: transport error for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client sends HTTP requests, retrying rate-limited (429) responses and
// transport failures under a Policy. Every other response, 404 included, is
// handed back to the caller.
type Client struct {
	httpClient *http.Client
	policy     Policy
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithPolicy sets the retry budget and delay. The predicate is always the
// client's own (429 and transport failures).
func WithPolicy(p Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient returns a Client with the default policy and a 10s request
// timeout unless overridden.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		policy:     DefaultPolicy(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.policy.Retryable = isTransient
	return c
}

// Do sends req and returns the first response that is not a 429. When the
// budget runs out the result is an *ExhaustedError wrapping the last
// *StatusError or *TransportError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	url := req.URL.String()
	attempt := 0
	var res *http.Response
	err := c.policy.Do(req.Context(), func(ctx context.Context) error {
		attempt++
		r, err := replayable(req)
		if err != nil {
			return &TransportError{URL: url, Err: err, permanent: true}
		}
		resp, doErr := c.httpClient.Do(r)
		if doErr != nil {
			if ctx.Err() != nil {
				return &TransportError{URL: url, Err: doErr, permanent: true}
			}
			c.logger.Warn("outbound request failed", "method", req.Method, "url", url, "attempt", attempt, "err", doErr)
			return &TransportError{URL: url, Err: doErr}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			c.logger.Warn("outbound request rate limited", "method", req.Method, "url", url, "attempt", attempt)
			return statusError(resp, url)
		}
		res = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Send is Do with status classification: 2xx and 404 responses are returned
// for the caller to read, anything else is closed and reported as a
// *StatusError.
func (c *Client) Send(req *http.Request) (*http.Response, error) {
	res, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode == http.StatusNotFound || (res.StatusCode >= 200 && res.StatusCode < 300) {
		return res, nil
	}
	return nil, statusError(res, req.URL.String())
}

// StatusCode extracts the HTTP status carried by err, if any.
func StatusCode(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode, true
	}
	return 0, false
}

func isTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests
	}
	var te *TransportError
	if errors.As(err, &te) {
		return !te.permanent
	}
	return false
}

func statusError(res *http.Response, url string) *StatusError {
	defer func() { _ = res.Body.Close() }()
	buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return &StatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
}

func replayable(req *http.Request) (*http.Request, error) {
	r := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return r, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("retry: request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("retry: replay body: %w", err)
	}
	r.Body = body
	return r, nil
}
