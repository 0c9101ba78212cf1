// Package fetch performs the remote GETs that discovery and ingestion depend
// on.
//
// Every request carries the configured user agent and an absolute timeout, is
// paced by a per-host token bucket, and runs under the shared retry policy.
// Timeouts, 429, and 5xx responses are retried; other 4xx responses fail
// immediately. Bodies compressed with gzip or zstd are decoded transparently.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"

	"archivist/internal/config"
	"archivist/internal/logging"
	"archivist/internal/retry"
	"archivist/internal/services"
)

// DefaultMaxBodyBytes bounds a single response body.
const DefaultMaxBodyBytes = 64 << 20

// Options configures a Client.
type Options struct {
	UserAgent         string
	Timeout           time.Duration
	Retry             retry.Policy
	RequestsPerSecond float64
	MaxBodyBytes      int64
	Transport         http.RoundTripper
	Logger            *slog.Logger
}

// Client issues retried, rate limited GET requests.
type Client struct {
	http      *http.Client
	userAgent string
	timeout   time.Duration
	policy    retry.Policy
	rps       float64
	maxBody   int64
	logger    *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New constructs a Client from opts.
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Client{
		http:      &http.Client{Transport: transport},
		userAgent: strings.TrimSpace(opts.UserAgent),
		timeout:   opts.Timeout,
		policy:    opts.Retry,
		rps:       opts.RequestsPerSecond,
		maxBody:   maxBody,
		logger:    logger.With(logging.String(logging.FieldComponent, "fetch")),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// NewFromConfig builds a Client from the [fetch] section.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Client {
	return New(Options{
		UserAgent:         cfg.Fetch.UserAgent,
		Timeout:           cfg.FetchTimeout(),
		Retry:             PolicyFromConfig(cfg),
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		Logger:            logger,
	})
}

// PolicyFromConfig returns the retry policy for remote fetches.
func PolicyFromConfig(cfg *config.Config) retry.Policy {
	return retry.Policy{
		Attempts:  cfg.Fetch.Attempts,
		BaseDelay: time.Duration(cfg.Fetch.BaseDelayMS) * time.Millisecond,
		MaxDelay:  time.Duration(cfg.Fetch.MaxDelay) * time.Second,
	}
}

// Get fetches rawURL and returns the decoded body.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return c.GetWithHeaders(ctx, rawURL, nil)
}

// GetWithHeaders fetches rawURL with extra request headers.
func (c *Client) GetWithHeaders(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, services.Wrap(services.ErrValidation, "fetch", "parse url", fmt.Sprintf("invalid url %q", rawURL), err)
	}
	return retry.Value(ctx, c.policy, c.logger, "fetch "+parsed.Host, func(ctx context.Context, _ int) ([]byte, error) {
		return c.once(ctx, parsed, headers)
	})
}

// GetJSON fetches rawURL and decodes the body into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any) error {
	body, err := c.GetWithHeaders(ctx, rawURL, map[string]string{"Accept": "application/json"})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return services.Wrap(services.ErrValidation, "fetch", "decode json", rawURL, err)
	}
	return nil
}

func (c *Client) once(ctx context.Context, target *url.URL, headers map[string]string) ([]byte, error) {
	if err := c.wait(ctx, target.Host); err != nil {
		return nil, retry.Permanent(err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, retry.Permanent(services.Wrap(services.ErrValidation, "fetch", "build request", target.String(), err))
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept-Encoding", "gzip, zstd")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(target.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, classifyStatus(target.String(), resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	body, err := decodeBody(resp, c.maxBody)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "fetch", "read body", target.String(), err)
	}
	return body, nil
}

func (c *Client) wait(ctx context.Context, host string) error {
	if c.rps <= 0 {
		return nil
	}
	c.mu.Lock()
	limiter, ok := c.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(c.rps), 1)
		c.limiters[host] = limiter
	}
	c.mu.Unlock()
	return limiter.Wait(ctx)
}

func decodeBody(resp *http.Response, limit int64) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip body: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "zstd":
		dec, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open zstd body: %w", err)
		}
		defer dec.Close()
		reader = dec
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
	body, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return body, nil
}

func classifyTransportError(target string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return services.Wrap(services.ErrTimeout, "fetch", "request", target, err)
	}
	if errors.Is(err, context.Canceled) {
		return retry.Permanent(err)
	}
	return services.Wrap(services.ErrTransient, "fetch", "request", target, err)
}

// StatusError carries the HTTP status of a failed response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

func classifyStatus(target string, code int, snippet string) error {
	statusErr := &StatusError{URL: target, StatusCode: code, Body: snippet}
	switch {
	case code == http.StatusTooManyRequests || code >= 500:
		return services.Wrap(services.ErrTransient, "fetch", "status", "", statusErr)
	case code == http.StatusNotFound || code == http.StatusGone:
		return retry.Permanent(services.Wrap(services.ErrNotFound, "fetch", "status", "", statusErr))
	default:
		return retry.Permanent(services.Wrap(services.ErrValidation, "fetch", "status", "", statusErr))
	}
}
