// Package httpsource fetches a CSV or JSON export over HTTP(S).
package httpsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/yndnr/rowcache/internal/infra/tlsroots"
	"github.com/yndnr/rowcache/internal/source"
)

// Defaults for the retrying client.
const (
	DefaultRetryMax     = 3
	DefaultRetryWaitMin = time.Second
	DefaultRetryWaitMax = 30 * time.Second
)

// Config describes the export endpoint.
type Config struct {
	// URL is fetched with GET.
	URL string

	// Format forces a decoder. FormatAuto uses the response Content-Type,
	// then the URL path extension.
	Format source.Format

	// Headers are added to every request.
	Headers map[string]string

	// Username and Password enable basic auth when Username is set.
	Username string
	Password string

	// CAFile adds a PEM bundle to the system roots.
	CAFile             string
	InsecureSkipVerify bool

	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// MaxBodyBytes caps the response size. Zero means no limit.
	MaxBodyBytes int64
}

// Source is a FetchSource backed by an HTTP endpoint.
type Source struct {
	cfg    Config
	url    *url.URL
	client *retryablehttp.Client
	logger *slog.Logger
}

var _ source.FetchSource = (*Source)(nil)

// New validates cfg and builds the retrying client.
func New(cfg Config, logger *slog.Logger) (*Source, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("httpsource: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("httpsource: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("httpsource: url has no host")
	}

	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	} else if cfg.RetryMax == 0 {
		cfg.RetryMax = DefaultRetryMax
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = DefaultRetryWaitMin
	}
	if cfg.RetryWaitMax < cfg.RetryWaitMin {
		cfg.RetryWaitMax = max(DefaultRetryWaitMax, cfg.RetryWaitMin)
	}
	if logger == nil {
		logger = slog.Default()
	}

	tlsCfg, err := tlsroots.ClientConfig(cfg.CAFile, cfg.InsecureSkipVerify)
	if err != nil {
		return nil, fmt.Errorf("httpsource: %w", err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsCfg != nil {
		transport.TLSClientConfig = tlsCfg
	}

	logger = logger.With("component", "httpsource", "host", u.Host)
	client := &retryablehttp.Client{
		HTTPClient:   &http.Client{Transport: transport},
		Logger:       logger,
		RetryWaitMin: cfg.RetryWaitMin,
		RetryWaitMax: cfg.RetryWaitMax,
		RetryMax:     cfg.RetryMax,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}

	return &Source{cfg: cfg, url: u, client: client, logger: logger}, nil
}

// Name identifies the endpoint without its path or credentials.
func (s *Source) Name() string {
	return "http:" + s.url.Host
}

// Fetch downloads and decodes the export. Server errors and transport
// failures are retried with backoff within ctx; any other non-2xx status
// fails at once.
func (s *Source) Fetch(ctx context.Context) (*source.Result, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.url.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("httpsource: build request: %w", err)
	}
	req.Header.Set("Accept", "text/csv, application/json;q=0.9, */*;q=0.1")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}
	if s.cfg.Username != "" {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpsource: GET %s: %w", s.url.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("httpsource: GET %s: status %d: %s", s.url.Redacted(), resp.StatusCode, snippet)
	}

	format, err := source.DetectFormat(s.cfg.Format, resp.Header.Get("Content-Type"), s.url.Path)
	if err != nil {
		return nil, fmt.Errorf("httpsource: %w (content type %q)", err, resp.Header.Get("Content-Type"))
	}

	var body io.Reader = resp.Body
	if s.cfg.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(nil, resp.Body, s.cfg.MaxBodyBytes)
	}

	res, err := source.Decode(body, format)
	if err != nil {
		return nil, fmt.Errorf("httpsource: decode %s: %w", format, err)
	}

	s.logger.Debug("export downloaded",
		"format", format,
		"records", len(res.Records),
		"elapsed", time.Since(start))
	return res, nil
}
