package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"recipe-client/internal/config"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// TokenHeader carries the anti-forgery token on state-mutating requests.
const TokenHeader = "X-CSRFToken"

// Request describes one exchange with the REST backend.
type Request struct {
	Method string
	// Path is either relative to the backend URL ("/api/...") or absolute,
	// as pagination cursors are.
	Path string
	// Body is sent as JSON. Form, when set instead, is sent url-encoded, as
	// the legacy non-API endpoints expect.
	Body  any
	Form  url.Values
	Token string
}

// Response is a fully read backend answer.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client is an interface for the recipe service REST API.
type Client interface {
	Do(ctx context.Context, req Request) (*Response, error)
	Resolve(path string) string
}

// httpClient is the concrete implementation of Client.
type httpClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// NewClient creates a new backend client. Session cookies are kept in a jar
// because the server binds the anti-forgery token to them.
func NewClient(cfg *config.Config) (Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.RequestBurst, 1))
	}

	return &httpClient{
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: cfg.RequestTimeout,
		},
		baseURL: strings.TrimRight(cfg.BackendURL, "/"),
		limiter: limiter,
	}, nil
}

// Resolve prepends the backend URL to relative paths.
func (c *httpClient) Resolve(path string) string {
	if strings.HasPrefix(path, "/") {
		return c.baseURL + path
	}
	return path
}

// Do performs the request. Any non-2xx answer is returned as *APIError.
func (c *httpClient) Do(ctx context.Context, r Request) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case r.Body != nil:
		payload, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	case r.Form != nil:
		body = strings.NewReader(r.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Resolve(r.Path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if r.Token != "" {
		req.Header.Set(TokenHeader, r.Token)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &APIError{Kind: KindTransport, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: KindTransport, Status: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	log.Debug().
		Str("method", method).
		Str("path", r.Path).
		Int("status", resp.StatusCode).
		Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classify(resp.StatusCode, data)
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// DecodeJSON unmarshals a response body. Empty bodies (204) leave out untouched.
func DecodeJSON(resp *Response, out any) error {
	if resp == nil || len(bytes.TrimSpace(resp.Body)) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &APIError{Kind: KindTransport, Status: resp.Status, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// GetJSON fetches path and decodes the JSON answer into out.
func GetJSON(ctx context.Context, c Client, path string, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return err
	}
	return DecodeJSON(resp, out)
}
