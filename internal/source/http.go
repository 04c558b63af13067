package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultUserAgent  = "Mozilla/5.0 (compatible; threadline/1.0; +https://github.com/ppiankov/threadline)"
	defaultMaxRetries = 3
	defaultMaxPages   = 50
)

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", e.URL, e.Code)
}

// Option configures an adapter.
type Option func(*options)

type options struct {
	client    *http.Client
	baseURL   string
	interval  time.Duration
	userAgent string
	maxPages  int
	pageSize  int
	logger    *slog.Logger
}

// WithHTTPClient replaces the HTTP client used for every request.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithBaseURL points the adapter at a different API root.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = strings.TrimRight(u, "/") }
}

// WithRateLimit spaces requests at least d apart. Zero disables limiting.
func WithRateLimit(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithMaxPages bounds the number of pages one timeline stream may request.
func WithMaxPages(n int) Option {
	return func(o *options) { o.maxPages = n }
}

// WithPageSize sets the number of items requested per page.
func WithPageSize(n int) Option {
	return func(o *options) { o.pageSize = n }
}

// WithLogger sets the logger used for retries and skipped items.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(baseURL string, pageSize int, opts []Option) options {
	o := options{
		baseURL:   baseURL,
		userAgent: defaultUserAgent,
		maxPages:  defaultMaxPages,
		pageSize:  pageSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = &http.Client{Timeout: defaultTimeout}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// uaTransport injects a User-Agent header into every request.
type uaTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

// sleepFunc waits for d or until ctx is done. Tests override it.
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// httpClient is the rate limited, retrying client shared by the JSON adapters.
type httpClient struct {
	client     *http.Client
	limiter    *rate.Limiter
	token      string
	maxRetries int
	logger     *slog.Logger
}

func newHTTPClient(o options, token string) *httpClient {
	base := o.client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client := *o.client
	client.Transport = &uaTransport{base: base, userAgent: o.userAgent}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if o.interval > 0 {
		limiter = rate.NewLimiter(rate.Every(o.interval), 1)
	}
	return &httpClient{
		client:     &client,
		limiter:    limiter,
		token:      token,
		maxRetries: defaultMaxRetries,
		logger:     o.logger,
	}
}

// getJSON decodes the JSON body of a GET request into v.
func (c *httpClient) getJSON(ctx context.Context, url string, v any) error {
	return c.doJSON(ctx, http.MethodGet, url, v)
}

// doJSON sends a body-less request. v may be nil.
func (c *httpClient) doJSON(ctx context.Context, method, url string, v any) error {
	return c.retry(ctx, url, func() error {
		return c.once(ctx, method, url, v)
	})
}

// retry runs fn until it succeeds, fails permanently or runs out of
// attempts, backing off 1s, 2s, 4s between transient failures.
func (c *httpClient) retry(ctx context.Context, target string, fn func() error) error {
	var lastErr error
	for attempt := range c.maxRetries {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !isRetryableError(err) {
			return err
		}
		lastErr = err
		if attempt < c.maxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			c.logger.Debug("http_retry",
				slog.String("url", target),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()))
			if err := sleepFunc(ctx, backoff); err != nil {
				return err
			}
		}
	}
	return lastErr
}

func (c *httpClient) once(ctx context.Context, method, url string, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{URL: url, Code: resp.StatusCode}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	s := err.Error()
	if strings.Contains(s, "timeout") || strings.Contains(s, "Timeout") {
		return true
	}
	if strings.Contains(s, "connection refused") || strings.Contains(s, "no such host") ||
		strings.Contains(s, "connection reset") {
		return true
	}
	// gofeed reports HTTP failures as plain strings.
	return strings.Contains(s, "429") || strings.Contains(s, "500") ||
		strings.Contains(s, "502") || strings.Contains(s, "503") || strings.Contains(s, "504")
}
