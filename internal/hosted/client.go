// Package hosted talks to the hosted backend-as-a-service through its
// client libraries: gotrue-go for auth (/auth/v1), postgrest-go for the
// REST data API (/rest/v1) and storage-go for object storage
// (/storage/v1).
//
// Requests carry the project's API key and, when the context holds a
// resolved session, the caller's access token so that the backend's row
// policies see the real user. Nothing is retried.
package hosted

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sakif/course-portal/internal/auth"
)

const defaultTimeout = 15 * time.Second

// Client holds what every hosted call needs. The library clients are
// built per call, since each one fixes its bearer token at construction
// and none of them accepts a context.
type Client struct {
	baseURL   string
	apiKey    string
	transport http.RoundTripper
	timeout   time.Duration
	logger    *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the round tripper used for auth and data calls.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

// WithTimeout bounds each auth and data call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func New(baseURL, apiKey string, logger *zap.Logger, opts ...Option) (*Client, error) {
	if baseURL == "" || apiKey == "" {
		return nil, errors.New("hosted: base URL and API key are required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("hosted: invalid base URL: %w", err)
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		transport: http.DefaultTransport,
		timeout:   defaultTimeout,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL is the project URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// bearer picks the token a call runs as: an explicit one, then the session
// in ctx, then the API key.
func (c *Client) bearer(ctx context.Context, token string) string {
	if token != "" {
		return token
	}
	if sess, ok := auth.SessionFromContext(ctx); ok && sess.AccessToken != "" {
		return sess.AccessToken
	}
	return c.apiKey
}

// callTransport binds one library call to the caller's context and
// remembers the status of the last response, which the libraries only
// report inside their error strings, if at all.
type callTransport struct {
	ctx     context.Context
	next    http.RoundTripper
	timeout time.Duration
	logger  *zap.Logger

	// query is merged into every request URL, for parameters a library
	// request type has no field for.
	query url.Values

	status int
}

func (c *Client) newTransport(ctx context.Context) *callTransport {
	return &callTransport{ctx: ctx, next: c.transport, timeout: c.timeout, logger: c.logger}
}

func (t *callTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
	req = req.WithContext(ctx)

	if len(t.query) > 0 {
		u := *req.URL
		q := u.Query()
		for k, vs := range t.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		req.URL = &u
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		cancel()
		return nil, err
	}
	t.status = resp.StatusCode

	t.logger.Debug("hosted call",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases the call's timeout once the library is done with
// the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// APIError is a non-2xx answer from any of the hosted APIs. The APIs
// disagree on field names, so Code and Message collect whichever are set.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("hosted: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("hosted: %d: %s", e.Status, e.Message)
}

// StatusOf returns the HTTP status of an *APIError in err's chain, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// CodeOf returns the API error code in err's chain, or "".
func CodeOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// errorBody covers the error shapes of the REST, auth and storage APIs.
type errorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Message          string          `json:"message"`
	Msg              string          `json:"msg"`
}

// parseError builds an *APIError from a status and whatever error body the
// library passed along, JSON or not.
func parseError(status int, raw string) *APIError {
	apiErr := &APIError{Status: status}
	raw = strings.TrimSpace(raw)

	var body errorBody
	if json.Unmarshal([]byte(raw), &body) != nil {
		apiErr.Message = raw
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
		return apiErr
	}

	// The REST API's code is a string, the auth API's is the HTTP status.
	var code string
	if json.Unmarshal(body.Code, &code) == nil {
		apiErr.Code = code
	}
	if body.ErrorCode != "" {
		apiErr.Code = body.ErrorCode
	}
	if apiErr.Code == "" && body.Error != "" && body.Message != "" {
		apiErr.Code = body.Error
	}

	for _, m := range []string{body.Message, body.Msg, body.ErrorDescription, body.Error} {
		if m != "" {
			apiErr.Message = m
			break
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
