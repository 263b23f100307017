package fetchpolicy

import (
	"errors"
	"fmt"
)

// HTTPStatusError indicates the server responded, but with an unexpected
// status code.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// NonRetryableError indicates the fetch failed before any transport
// attempt (bad request construction, serialization) and retrying cannot
// help.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// ErrNoData is returned when the network is unreachable (or the fetch
// failed) and no cached value exists for the key. Callers render an
// empty state; the policy never invents data.
var ErrNoData = errors.New("fetchpolicy: no fresh or cached data available")

// retryableStatus reports whether an HTTP status is worth retrying.
// Server-side trouble and throttling are; other client errors are not.
func retryableStatus(code int) bool {
	return code >= 500 || code == 429
}
