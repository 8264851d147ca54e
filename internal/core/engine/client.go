package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/sourcetap/sourcetap/internal/core"
	"github.com/sourcetap/sourcetap/internal/core/cache"
)

const (
	// DefaultTimeout bounds a single network attempt.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries is the retry count used when none is configured.
	DefaultMaxRetries = 3
	// DefaultRetryAfter applies when a 429 carries no usable Retry-After.
	DefaultRetryAfter = 5 * time.Second
	// MaxRetryAfter caps any server-requested wait.
	MaxRetryAfter = time.Hour
	// DefaultUserAgentPrefix precedes the source name in the User-Agent header.
	DefaultUserAgentPrefix = "sourcetap"
)

// Options configures a Client. Zero values fall back to package defaults.
type Options struct {
	Source          string
	BaseURL         string
	RateLimit       int
	CacheTTL        time.Duration
	Cache           cache.Cache
	HTTPClient      *http.Client
	Timeout         time.Duration
	MaxRetries      *int
	MaxElapsed      time.Duration
	UserAgentPrefix string
	Logger          *logging.Logger
}

// Client issues GET requests on behalf of one source. It owns the source's
// token bucket, response cache, and telemetry.
type Client struct {
	Clock  func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func() float64

	source     string
	baseURL    string
	http       *http.Client
	limiter    *TokenBucket
	cache      cache.Cache
	telemetry  *Recorder
	timeout    time.Duration
	maxRetries int
	maxElapsed time.Duration
	userAgent  string
	logger     *logging.Logger
}

// NewClient builds a client from opts.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	maxRetries := DefaultMaxRetries
	if opts.MaxRetries != nil && *opts.MaxRetries >= 0 {
		maxRetries = *opts.MaxRetries
	}

	ttl := opts.CacheTTL
	if ttl == 0 {
		ttl = cache.DefaultTTL
	}
	store := opts.Cache
	if store == nil {
		store = cache.NewMemoryCache(ttl)
	}

	prefix := strings.TrimSpace(opts.UserAgentPrefix)
	if prefix == "" {
		prefix = DefaultUserAgentPrefix
	}

	return &Client{
		source:     opts.Source,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		http:       httpClient,
		limiter:    NewTokenBucket(opts.RateLimit),
		cache:      store,
		telemetry:  &Recorder{},
		timeout:    timeout,
		maxRetries: maxRetries,
		maxElapsed: opts.MaxElapsed,
		userAgent:  prefix + "/" + opts.Source,
		logger:     opts.Logger,
	}
}

// RequestOption adjusts a single Get call.
type RequestOption func(*requestConfig)

type requestConfig struct {
	maxRetries int
	useCache   bool
}

// WithRetries overrides the retry count for one call.
func WithRetries(n int) RequestOption {
	return func(cfg *requestConfig) {
		if n >= 0 {
			cfg.maxRetries = n
		}
	}
}

// WithoutCache bypasses the response cache for one call.
func WithoutCache() RequestOption {
	return func(cfg *requestConfig) {
		cfg.useCache = false
	}
}

// Source returns the source identifier.
func (c *Client) Source() string { return c.source }

// BaseURL returns the base endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

// Limiter returns the client's token bucket.
func (c *Client) Limiter() *TokenBucket { return c.limiter }

// Telemetry returns a snapshot of the client's counters.
func (c *Client) Telemetry() core.TelemetrySnapshot {
	return c.telemetry.Snapshot(c.source)
}

// ResetTelemetry clears the client's counters.
func (c *Client) ResetTelemetry() {
	c.telemetry.Reset()
}

// Get fetches path with params and decodes the JSON body into out.
func (c *Client) Get(ctx context.Context, path string, params map[string]any, out any, opts ...RequestOption) error {
	body, err := c.GetRaw(ctx, path, params, opts...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &RequestError{Kind: KindDecode, URL: c.resolve(path), Err: err}
	}
	return nil
}

// GetRaw fetches path with params and returns the raw JSON body. Cached
// bodies are returned without a network call or rate-limit token.
func (c *Client) GetRaw(ctx context.Context, path string, params map[string]any, opts ...RequestOption) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := requestConfig{maxRetries: c.maxRetries, useCache: c.cache != nil}
	for _, opt := range opts {
		opt(&cfg)
	}

	fullURL := c.resolve(path)

	var key string
	if cfg.useCache {
		key = cache.Key(fullURL, params)
		body, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.warn("Cache lookup failed", zap.Error(err))
		} else if ok {
			c.telemetry.CacheHit()
			c.debug("Cache hit", zap.String("key", key[:8]))
			return body, nil
		}
	}

	started := c.now()
	var lastErr error
attempts:
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("wait for rate limit: %w", err)
		}

		c.telemetry.Request()
		begin := c.now()
		resp, err := c.send(ctx, fullURL, params)
		c.telemetry.Latency(c.now().Sub(begin))

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.telemetry.Error()
			lastErr = &RequestError{Kind: KindConnection, URL: fullURL, Err: err}
			if !c.backoff(ctx, attempt, cfg.maxRetries, started, "Connection error", zap.Error(err)) {
				break attempts
			}
			continue
		}

		switch {
		case resp.status == http.StatusTooManyRequests:
			wait := c.retryAfter(resp.header)
			lastErr = &RequestError{Kind: KindThrottled, StatusCode: resp.status, URL: fullURL}
			c.warn("Rate limited", zap.Duration("retry_after", wait), zap.Int("attempt", attempt+1))
			if attempt >= cfg.maxRetries {
				break attempts
			}
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		case resp.status >= 500:
			lastErr = &RequestError{Kind: KindServer, StatusCode: resp.status, URL: fullURL}
			if !c.backoff(ctx, attempt, cfg.maxRetries, started, "Server error", zap.Int("status", resp.status)) {
				break attempts
			}
			continue
		case resp.status < 200 || resp.status >= 300:
			c.telemetry.Error()
			return nil, &RequestError{Kind: KindClient, StatusCode: resp.status, URL: fullURL, Err: bodySnippet(resp.body)}
		}

		if !json.Valid(resp.body) {
			return nil, &RequestError{Kind: KindDecode, StatusCode: resp.status, URL: fullURL, Err: fmt.Errorf("response is not valid JSON")}
		}
		if cfg.useCache {
			if err := c.cache.Set(ctx, key, resp.body); err != nil {
				c.warn("Cache store failed", zap.Error(err))
			}
		}
		return resp.body, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	c.telemetry.Error()
	return nil, lastErr
}

// backoff sleeps 2^attempt seconds plus jitter before the next attempt. It
// reports false when no attempt remains or the elapsed budget is spent.
func (c *Client) backoff(ctx context.Context, attempt, maxRetries int, started time.Time, msg string, fields ...zap.Field) bool {
	if attempt >= maxRetries {
		return false
	}

	wait := time.Duration((math.Pow(2, float64(attempt)) + c.jitter()) * float64(time.Second))
	if c.maxElapsed > 0 && c.now().Sub(started)+wait > c.maxElapsed {
		c.warn(msg+", retry budget spent", append(fields, zap.Duration("max_elapsed", c.maxElapsed))...)
		return false
	}

	c.warn(msg+", retrying", append(fields,
		zap.Int("attempt", attempt+1),
		zap.Int("max_retries", maxRetries),
		zap.Duration("wait", wait),
	)...)
	return c.sleep(ctx, wait) == nil
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (c *Client) send(ctx context.Context, fullURL string, params map[string]any) (*response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = encodeQuery(req.URL.Query(), params)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if path == "" {
		return c.baseURL
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// retryAfter parses Retry-After as seconds or an HTTP date.
func (c *Client) retryAfter(header http.Header) time.Duration {
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return DefaultRetryAfter
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil && seconds >= 0 {
		if seconds >= int64(MaxRetryAfter/time.Second) {
			return MaxRetryAfter
		}
		return time.Duration(seconds) * time.Second
	}
	if parsed, err := http.ParseTime(value); err == nil {
		wait := parsed.Sub(c.now())
		if wait < 0 {
			return 0
		}
		return min(wait, MaxRetryAfter)
	}
	return DefaultRetryAfter
}

func encodeQuery(query url.Values, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := params[k].(type) {
		case nil:
			continue
		case []string:
			for _, item := range v {
				query.Add(k, item)
			}
		case []any:
			for _, item := range v {
				query.Add(k, formatParam(item))
			}
		default:
			query.Set(k, formatParam(v))
		}
	}
	return query.Encode()
}

func formatParam(v any) string {
	switch typed := v.(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	default:
		return fmt.Sprint(typed)
	}
}

func bodySnippet(body []byte) error {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return nil
	}
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return fmt.Errorf("%s", text)
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func (c *Client) jitter() float64 {
	if c.Jitter != nil {
		return c.Jitter()
	}
	return rand.Float64()
}

func (c *Client) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}

func (c *Client) warn(msg string, fields ...zap.Field) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(msg, append([]zap.Field{zap.String("source", c.source)}, fields...)...)
}

func (c *Client) debug(msg string, fields ...zap.Field) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(msg, append([]zap.Field{zap.String("source", c.source)}, fields...)...)
}
