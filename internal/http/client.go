// Package http is the timed HTTP transport used by the workload clients.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"time"
)

// DefaultTimeout bounds a request when no timeout option is given.
const DefaultTimeout = 30 * time.Second

// Client sends requests to one service and times every phase of them.
type Client struct {
	hc      *http.Client
	base    *url.URL
	baseErr error
	headers map[string]string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient returns a client for the service at the WithBaseURL address.
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		hc:      &http.Client{Timeout: DefaultTimeout},
		base:    &url.URL{},
		headers: map[string]string{},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// WithBaseURL sets the address request paths are resolved against. A
// malformed address fails every request.
func WithBaseURL(raw string) ClientOption {
	return func(c *Client) {
		c.base, c.baseErr = url.Parse(raw)
		if c.baseErr != nil {
			c.base = &url.URL{}
		}
	}
}

// WithTimeout bounds each request, body included.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.hc.Timeout = d }
}

// WithHeader sets a header sent on every request unless the request sets it.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) { c.headers[key] = value }
}

// WithMaxIdleConnsPerHost sizes the keep-alive pool. Arrival-rate tests run
// hundreds of concurrent VUs against one host; the default of 2 would make
// most requests open a new connection.
func WithMaxIdleConnsPerHost(n int) ClientOption {
	return func(c *Client) {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.MaxIdleConns, t.MaxIdleConnsPerHost = n, n
		c.hc.Transport = t
	}
}

// Do sends req and reads the whole body. A non-nil error means no response
// was received; HTTP error statuses are returned as responses.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if c.baseErr != nil {
		return nil, fmt.Errorf("%s: base URL: %w", req, c.baseErr)
	}
	p := startPhases(time.Now())
	hreq, err := req.httpRequest(httptrace.WithClientTrace(ctx, p.trace()), c.base, c.headers)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req, err)
	}

	hresp, err := c.hc.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req, err)
	}
	defer hresp.Body.Close()

	readStart := time.Now()
	body, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: reading body: %w", req, err)
	}
	timing := p.finish(time.Since(readStart))

	return &Response{
		StatusCode: hresp.StatusCode,
		Status:     hresp.Status,
		Headers:    hresp.Header,
		Body:       body,
		Timing:     timing,
	}, nil
}
