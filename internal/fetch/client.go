package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"ingestd/internal/apperr"
	"ingestd/internal/telemetry"
)

const maxBodyBytes = 8 << 20

type Config struct {
	Timeout             time.Duration
	ConnectTimeout      time.Duration
	MaxRetries          int
	MinRetryInterval    time.Duration
	MaxRetryInterval    time.Duration
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	UserAgent           string
}

func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Second,
		ConnectTimeout:      10 * time.Second,
		MaxRetries:          3,
		MinRetryInterval:    100 * time.Millisecond,
		MaxRetryInterval:    30 * time.Second,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		UserAgent:           "ingestd",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.MinRetryInterval <= 0 {
		c.MinRetryInterval = d.MinRetryInterval
	}
	if c.MaxRetryInterval < c.MinRetryInterval {
		c.MaxRetryInterval = c.MinRetryInterval
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = d.MaxIdleConnsPerHost
	}
	if c.IdleConnTimeout <= 0 {
		c.IdleConnTimeout = d.IdleConnTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	return c
}

// Client performs JSON GETs against one data source. The default path retries through the
// backoff middleware; GetJSONRetry runs its own bounded loop on a client without it.
type Client struct {
	source    string
	userAgent string
	http      *http.Client
	raw       *http.Client
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

func New(source string, cfg Config, logger *slog.Logger, metrics *telemetry.Metrics) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("source", source)

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	pooled := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
	mw := &retryTransport{
		next:        pooled,
		maxRetries:  cfg.MaxRetries,
		minInterval: cfg.MinRetryInterval,
		maxInterval: cfg.MaxRetryInterval,
		logger:      logger,
		onRetry:     func() { metrics.FetchRetry(source, "middleware") },
	}
	return &Client{
		source:    source,
		userAgent: cfg.UserAgent,
		http:      &http.Client{Transport: mw, Timeout: cfg.Timeout},
		raw:       &http.Client{Transport: pooled, Timeout: cfg.Timeout},
		logger:    logger,
		metrics:   metrics,
	}
}

// GetJSON issues a GET through the retry middleware and decodes a 2xx body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	req, err := c.newRequest(ctx, url)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.New(apperr.KindTransient, fmt.Sprintf("request %s", redactQuery(url)), err)
	}
	return decodeResponse(resp, out)
}

func (c *Client) newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, "build request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func decodeResponse(resp *http.Response, out any) error {
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return Classify(resp.StatusCode, body)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return apperr.New(apperr.KindUnexpected, "decode response body", err)
	}
	return nil
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
