package fetch

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var errBodyNotReplayable = errors.New("request body cannot be replayed")

type retryableStatusError struct {
	status int
}

func (e *retryableStatusError) Error() string {
	return fmt.Sprintf("retryable status %d", e.status)
}

// retryTransport retries transport errors and transient statuses with exponential backoff.
// When retries run out on a status, the final response is handed back for classification.
type retryTransport struct {
	next        http.RoundTripper
	maxRetries  int
	minInterval time.Duration
	maxInterval time.Duration
	logger      *slog.Logger
	onRetry     func()
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.minInterval
	b.MaxInterval = t.maxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(t.maxRetries)), req.Context())

	attempt := 0
	var pending *http.Response
	op := func() (*http.Response, error) {
		if pending != nil {
			drainAndClose(pending.Body)
			pending = nil
		}
		attempt++
		r, err := rewind(req, attempt)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := t.next.RoundTrip(r)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if middlewareRetryable(resp.StatusCode) {
			pending = resp
			return resp, &retryableStatusError{status: resp.StatusCode}
		}
		return resp, nil
	}
	notify := func(err error, wait time.Duration) {
		t.logger.Debug("retrying request", "url", redactQuery(req.URL.String()), "attempt", attempt, "error", err, "retry_in", wait)
		if t.onRetry != nil {
			t.onRetry()
		}
	}

	resp, err := backoff.RetryNotifyWithData(op, policy, notify)
	if err != nil {
		var rs *retryableStatusError
		if errors.As(err, &rs) && resp != nil {
			return resp, nil
		}
		if resp != nil {
			drainAndClose(resp.Body)
		}
		return nil, err
	}
	return resp, nil
}

func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 1 || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, errBodyNotReplayable
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind request body: %w", err)
	}
	r := req.Clone(req.Context())
	r.Body = body
	return r, nil
}

func middlewareRetryable(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}
