// Package transport is the HTTP layer under remote record stores: it
// authenticates requests, paces them through a token-bucket limiter and
// decodes error bodies into TransportError values.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentstation/mirrorsync/pkg/errors"
)

// DefaultHTTPTimeout is the default timeout for HTTP requests.
var DefaultHTTPTimeout = 30 * time.Second

// Client provides HTTP client functionality with authentication and pacing.
type Client struct {
	http    *http.Client
	auth    Authenticator
	token   string
	baseURL string
	headers http.Header
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithAuthenticator replaces the default bearer authenticator.
func WithAuthenticator(auth Authenticator) Option {
	return func(c *Client) {
		c.auth = auth
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithHeader sets a header sent on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithRateLimit paces requests to rps per second with the given burst.
// A non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// New creates a new transport client for baseURL authenticated with token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: DefaultHTTPTimeout},
		auth:    &BearerAuth{},
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request describes one API call. Operation and Target only label errors.
type Request struct {
	Operation string
	Target    string
	Method    string
	Path      string
	Query     url.Values
	Body      any
}

// Do performs an HTTP request with pacing and authentication applied.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	c.auth.Apply(req, c.token)
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	// Set common headers
	req.Header.Set("Accept", "application/json")
	if req.Method == http.MethodPost || req.Method == http.MethodPut || req.Method == http.MethodPatch {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.http.Do(req.WithContext(ctx))
}

// Call sends r and decodes a successful JSON response into out, which may be nil.
func (c *Client) Call(ctx context.Context, r Request, out any) error {
	var body *bytes.Reader
	if r.Body != nil {
		data, err := json.Marshal(r.Body)
		if err != nil {
			return errors.NewTransportError(r.Operation, r.Target, err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	u := c.baseURL + r.Path
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, u, body)
	if err != nil {
		return errors.NewTransportError(r.Operation, r.Target, err)
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return errors.NewTransportError(r.Operation, r.Target, err)
	}
	if err := DecodeResponse(resp, out); err != nil {
		var te *errors.TransportError
		if errors.As(err, &te) {
			te.Operation = r.Operation
			te.Target = r.Target
		}
		return err
	}
	return nil
}
