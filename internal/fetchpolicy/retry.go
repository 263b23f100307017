package fetchpolicy

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cenkalti/backoff/v4"
)

var errWentOffline = errors.New("fetchpolicy: connectivity lost mid-retry")

// fetchWithRetry runs fetchFn with exponential backoff. Retries stop
// early when the error cannot be cured by waiting: context cancellation,
// client-side errors other than throttling, or the monitor reporting the
// connection gone.
func (p *Policy) fetchWithRetry(ctx context.Context, fetchFn FetchFn) (json.RawMessage, error) {
	attempts := p.retryMaxAttempts()
	if attempts < 1 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.retryInitialBackoff()

	var data json.RawMessage
	op := func() error {
		if !p.online() {
			return backoff.Permanent(errWentOffline)
		}

		d, err := fetchFn(ctx)
		if err != nil {
			if !shouldRetry(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		data = d
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx))
	if err != nil {
		return nil, err
	}
	return data, nil
}

func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var nonRetryable *NonRetryableError
	if errors.As(err, &nonRetryable) {
		return false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return retryableStatus(statusErr.StatusCode)
	}

	// Transport-level failures (timeout, refused connection) are the
	// retryable default.
	return true
}
