// Package stats proxies download statistics from the upstream cranlogs
// service with retry, circuit breaking and caching.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/dnscache"
	circuit "github.com/rubyist/circuitbreaker"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("statistics not found")
	ErrRateLimited  = errors.New("rate limited by upstream")
	ErrUpstreamDown = errors.New("statistics service unavailable")
	ErrCircuitOpen  = errors.New("circuit breaker open")
)

// maxBodySize bounds the upstream response read into memory
const maxBodySize = 1 << 20

// Config configures the statistics client
type Config struct {
	BaseURL  string        `mapstructure:"base_url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:  "https://cranlogs.r-pkg.org",
		CacheTTL: 10 * time.Minute,
		Timeout:  10 * time.Second,
	}
}

// Client fetches download statistics
type Client struct {
	cfg        Config
	client     *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	breakers   *breakers
	cache      *gocache.Cache
	logger     *zap.Logger
	stop       chan struct{}
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.client = c
	}
}

// WithMaxRetries sets the maximum retry attempts
func WithMaxRetries(n int) Option {
	return func(cl *Client) {
		cl.maxRetries = n
	}
}

// WithBaseDelay sets the base delay for exponential backoff
func WithBaseDelay(d time.Duration) Option {
	return func(cl *Client) {
		cl.baseDelay = d
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// WithBreakerSettings sets the consecutive failures that trip a breaker and
// the initial open interval
func WithBreakerSettings(threshold int64, interval time.Duration) Option {
	return func(cl *Client) {
		cl.breakers = newBreakers(threshold, interval)
	}
}

// NewClient creates a client. Close releases its DNS refresher.
func NewClient(cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	c := &Client{
		cfg:        cfg,
		userAgent:  "pkgindex-registry/1.0",
		maxRetries: 2,
		baseDelay:  200 * time.Millisecond,
		breakers:   newBreakers(5, 30*time.Second),
		cache:      gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		logger:     zap.NewNop(),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = c.newHTTPClient()
	}
	c.logger = c.logger.Named("stats")
	return c
}

func (c *Client) newHTTPClient() *http.Client {
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				resolver.Refresh(true)
			case <-c.stop:
				return
			}
		}
	}()

	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Client{
		Timeout: c.cfg.Timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}
				ips, err := resolver.LookupHost(ctx, host)
				if err != nil {
					return nil, err
				}
				for _, ip := range ips {
					conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
					if err == nil {
						return conn, nil
					}
				}
				return nil, fmt.Errorf("failed to dial any resolved IP for %s", host)
			},
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
		},
	}
}

// LastMonthDownloads returns the upstream JSON document of last month's
// download count for a package, unmodified
func (c *Client) LastMonthDownloads(ctx context.Context, name string) (json.RawMessage, error) {
	if name == "" {
		return nil, fmt.Errorf("package name is required: %w", ErrNotFound)
	}
	endpoint := c.cfg.BaseURL + "/downloads/total/last-month/" + url.PathEscape(name)

	if cached, ok := c.cache.Get(endpoint); ok {
		return cached.(json.RawMessage), nil
	}

	body, err := c.fetch(ctx, endpoint)
	if err != nil {
		c.logger.Warn("failed to fetch download statistics", zap.String("package", name), zap.Error(err))
		return nil, err
	}

	c.cache.SetDefault(endpoint, body)
	return body, nil
}

// fetch runs the retry loop under the host's circuit breaker
func (c *Client) fetch(ctx context.Context, endpoint string) (json.RawMessage, error) {
	host := hostOf(endpoint)
	breaker := c.breakers.get(host)

	var body json.RawMessage
	var notFound error
	err := breaker.Call(func() error {
		var fetchErr error
		body, fetchErr = c.fetchWithRetry(ctx, endpoint)
		if errors.Is(fetchErr, ErrNotFound) {
			// A missing package is an answer, not an upstream failure
			notFound = fetchErr
			return nil
		}
		return fetchErr
	}, 0)
	if notFound != nil {
		return nil, notFound
	}
	if errors.Is(err, circuit.ErrBreakerOpen) {
		return nil, fmt.Errorf("%w for %s", ErrCircuitOpen, host)
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) fetchWithRetry(ctx context.Context, endpoint string) (json.RawMessage, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff with 10% jitter
			delay := c.baseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			delay += time.Duration(float64(delay) * (rand.Float64() * 0.1))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.do(ctx, endpoint)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamDown) {
			continue
		}
		return nil, err
	}

	return nil, lastErr
}

func (c *Client) do(ctx context.Context, endpoint string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamDown, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, fmt.Errorf("%w: reading body: %v", ErrUpstreamDown, err)
		}
		if !json.Valid(body) {
			return nil, fmt.Errorf("upstream returned invalid JSON")
		}
		return json.RawMessage(body), nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamDown, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// BreakerStates returns the state of every upstream breaker, for health checks
func (c *Client) BreakerStates() map[string]string {
	return c.breakers.states()
}

// Close stops background work
func (c *Client) Close() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}
