// Package upstream talks to the MLIT Data Platform REST API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/apperr"
)

// DefaultBaseURL is the public endpoint of the platform.
const DefaultBaseURL = "https://www.mlit-data.jp/api/v1/"

// maxBodyBytes bounds a single decoded response.
const maxBodyBytes = 64 << 20

// Fetcher performs one upstream GET and returns the decoded JSON document.
type Fetcher interface {
	Fetch(ctx context.Context, path string, params url.Values) (any, error)
}

// Config holds upstream connection settings.
type Config struct {
	BaseURL      string        `yaml:"base_url" env:"MLIT_BASE_URL" validate:"required,url"`
	APIKey       string        `yaml:"api_key" env:"MLIT_API_KEY" validate:"required"`
	APIKeyHeader string        `yaml:"api_key_header" validate:"required"`
	Timeout      time.Duration `yaml:"timeout" env:"MLIT_TIMEOUT" validate:"gt=0"`

	// RequestsPerSecond throttles outgoing calls; zero disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"MLIT_REQUESTS_PER_SECOND" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

// DefaultConfig returns the production endpoint with default limits.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		APIKeyHeader:      "apikey",
		Timeout:           30 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
	}
}

// Client is the HTTP implementation of Fetcher.
type Client struct {
	baseURL   *url.URL
	apiKey    string
	keyHeader string
	timeout   time.Duration
	http      *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewClient creates a client for cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "apikey"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &Client{
		baseURL:   base,
		apiKey:    cfg.APIKey,
		keyHeader: cfg.APIKeyHeader,
		timeout:   cfg.Timeout,
		http:      &http.Client{},
		logger:    slog.Default(),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

// SetHTTPClient replaces the underlying transport client.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.http = hc
}

// SetLogger replaces the client's logger.
func (c *Client) SetLogger(l *slog.Logger) {
	c.logger = l
}

// Fetch performs a single GET of path with params.
func (c *Client) Fetch(ctx context.Context, path string, params url.Values) (any, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, apperr.Transient("throttle wait", err)
		}
	}

	endpoint := c.baseURL.ResolveReference(&url.URL{Path: strings.TrimPrefix(path, "/")})
	endpoint.RawQuery = params.Encode()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("User-Agent", "mlit-dpf-mcp/1.0")
	if c.apiKey != "" {
		req.Header.Set(c.keyHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Transient("upstream request failed", err).WithOp(path)
	}
	defer resp.Body.Close()

	c.logger.Debug("upstream response",
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if err := statusError(resp); err != nil {
		if err.Kind == apperr.KindProtocol {
			c.logger.Error("upstream protocol error", "path", path, "error", err)
		}
		return nil, err.WithOp(path)
	}

	body, err := readBody(resp)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Transient("read response", err).WithOp(path)
		}
		return nil, c.protocolError(path, "read response body", err)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, c.protocolError(path, "decode JSON response", err)
	}
	if dec.More() {
		return nil, c.protocolError(path, "decode JSON response", errors.New("trailing data after JSON value"))
	}
	return doc, nil
}

func (c *Client) protocolError(path, msg string, err error) error {
	c.logger.Error("upstream protocol error", "path", path, "error", err)
	return apperr.Protocol(msg, err).WithOp(path)
}

// statusError maps non-200 responses to the error taxonomy.
func statusError(resp *http.Response) *apperr.Error {
	code := resp.StatusCode
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return apperr.Auth("upstream rejected the API key (HTTP %d)", code)
	case code == http.StatusNotFound:
		return apperr.NotFound("resource not found")
	case code == http.StatusTooManyRequests:
		return apperr.RateLimited(parseRetryAfter(resp.Header.Get("Retry-After")))
	case code >= 500:
		return apperr.Transient(fmt.Sprintf("upstream returned HTTP %d", code), nil)
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperr.Protocol(fmt.Sprintf("unexpected HTTP %d", code), errors.New(strings.TrimSpace(string(snippet))))
	}
}

func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip body: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	return io.ReadAll(io.LimitReader(r, maxBodyBytes))
}

// parseRetryAfter understands both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
