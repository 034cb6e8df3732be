package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	jsoniter "github.com/json-iterator/go"

	"github.com/yndnr/rowcache/internal/infra/buildinfo"
)

// Client defaults.
const (
	DefaultTimeout  = 30 * time.Second
	DefaultRetryMax = 2
)

// decodeJSON keeps record numbers as json.Number so exported values are
// written exactly as the server sent them.
var decodeJSON = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// Envelope is the server's response wrapper.
type Envelope struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Details   json.RawMessage `json:"details"`
}

// APIError is an error response from the server.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
	Details   json.RawMessage
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Details) > 0 && string(e.Details) != "null" {
		msg += " " + string(e.Details)
	}
	return msg
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithTimeout bounds each request attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		c.client.HTTPClient.Timeout = d
	}
}

// WithRetry sets the retry count and backoff bounds.
func WithRetry(max int, waitMin, waitMax time.Duration) Option {
	return func(c *HTTPClient) {
		c.client.RetryMax = max
		c.client.RetryWaitMin = waitMin
		c.client.RetryWaitMax = waitMax
	}
}

// HTTPClient provides HTTP communication with the server.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *retryablehttp.Client
}

// NewHTTPClient creates a client for server. A server without a scheme is
// assumed to be plain HTTP.
func NewHTTPClient(server, apiKey string, opts ...Option) *HTTPClient {
	baseURL := strings.TrimRight(server, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}

	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.HTTPClient.Timeout = DefaultTimeout
	rc.RetryMax = DefaultRetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &HTTPClient{baseURL: baseURL, apiKey: apiKey, client: rc}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// checkRetry retries transport failures and gateway errors, but not an
// error the server returned deliberately.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if resp != nil && resp.Header.Get("X-Error-Code") != "" {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// BaseURL returns the base URL of the client.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Get performs a GET request and decodes the envelope's data into out.
func (c *HTTPClient) Get(ctx context.Context, path string, out any) (http.Header, error) {
	return c.do(ctx, http.MethodGet, path, out)
}

// Post performs a bodiless POST request and decodes the envelope's data
// into out.
func (c *HTTPClient) Post(ctx context.Context, path string, out any) (http.Header, error) {
	return c.do(ctx, http.MethodPost, path, out)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, out any) (http.Header, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.addHeaders(req.Request)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp.Header, ParseResponse(resp, out)
}

// addHeaders adds authentication and common headers.
func (c *HTTPClient) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "rowcache-cli/"+buildinfo.Version)
}

// ParseResponse decodes resp and closes its body. Error statuses become an
// *APIError; success decodes the envelope's data into target.
func ParseResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var env Envelope
		if decodeJSON.Unmarshal(body, &env) == nil {
			apiErr.Code = env.Code
			apiErr.Message = env.Message
			apiErr.RequestID = env.RequestID
			apiErr.Details = env.Details
		}
		return apiErr
	}

	if target == nil {
		return nil
	}
	var env Envelope
	if err := decodeJSON.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if err := decodeJSON.Unmarshal(env.Data, target); err != nil {
		return fmt.Errorf("parse response data: %w", err)
	}
	return nil
}
