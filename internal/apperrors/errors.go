package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for pipeline preconditions. Handlers map these to HTTP
// status codes; services never touch the HTTP layer.
var (
	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = errors.New("not found")
)

// RateLimitedError is returned when a channel's slowmode interval rejects a
// post. RetryAfter reports how long the author must still wait.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// TransportError wraps a failed write to a single push-stream handle. It is
// logged and never propagated past the publish operation.
type TransportError struct {
	UserID uint
	ConnID uint64
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream write failed (user=%d conn=%d): %v", e.UserID, e.ConnID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BestEffortError wraps a post-commit fan-out failure. The message is already
// committed, so callers log it and move on.
type BestEffortError struct {
	Op  string
	Err error
}

func (e *BestEffortError) Error() string {
	return fmt.Sprintf("best-effort %s failed: %v", e.Op, e.Err)
}

func (e *BestEffortError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a slowmode rejection and returns the
// remaining wait if so.
func IsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
