package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"ingestd/internal/apperr"
)

// RetryPolicy drives the call-site retry loop.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseDelay: 500 * time.Millisecond}
}

// GetJSONRetry bypasses the middleware and retries 408, 429, 500-504 and timeouts itself,
// sleeping BaseDelay*attempt between tries.
func (c *Client) GetJSONRetry(ctx context.Context, url string, out any, policy RetryPolicy) error {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	for attempt := 1; ; attempt++ {
		req, err := c.newRequest(ctx, url)
		if err != nil {
			return err
		}
		resp, err := c.raw.Do(req)
		if err != nil {
			if ctx.Err() == nil && isTimeout(err) && attempt <= policy.MaxRetries {
				c.backoff(ctx, policy, attempt, "timeout")
				continue
			}
			return apperr.New(apperr.KindTransient, fmt.Sprintf("request %s", redactQuery(url)), err)
		}
		if callSiteRetryable(resp.StatusCode) && attempt <= policy.MaxRetries {
			drainAndClose(resp.Body)
			c.backoff(ctx, policy, attempt, http.StatusText(resp.StatusCode))
			if ctx.Err() != nil {
				return apperr.New(apperr.KindTransient, "retry interrupted", ctx.Err())
			}
			continue
		}
		return decodeResponse(resp, out)
	}
}

func (c *Client) backoff(ctx context.Context, policy RetryPolicy, attempt int, reason string) {
	wait := policy.BaseDelay * time.Duration(attempt)
	c.logger.Debug("call-site retry", "attempt", attempt, "reason", reason, "retry_in", wait)
	c.metrics.FetchRetry(c.source, "call_site")
	sleepWithContext(ctx, wait)
}

func callSiteRetryable(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusNotImplemented, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
