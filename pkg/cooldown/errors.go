package cooldown

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrFetchRefused means the cooldown window has not elapsed.
	ErrFetchRefused = errors.New("fetch refused: cooldown active")
	// ErrSuperseded means a newer request cancelled this one; its result was discarded.
	ErrSuperseded = errors.New("fetch superseded by a newer request")
)

// RefusedError carries the remaining cooldown of a refused fetch.
type RefusedError struct {
	Remaining time.Duration
}

func (e *RefusedError) Error() string {
	return fmt.Sprintf("%v (retry in %s)", ErrFetchRefused, e.Remaining.Round(time.Second))
}

// Is makes errors.Is(err, ErrFetchRefused) match.
func (e *RefusedError) Is(target error) bool {
	return target == ErrFetchRefused
}

// RateLimitError is an HTTP 429 from the data source or the API server.
// It is handled exactly like a refused fetch.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return "rate limited: " + e.Message
	}
	return "rate limited"
}

// Is makes errors.Is(err, ErrFetchRefused) match.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrFetchRefused
}

// RemainingFrom extracts the wait carried by a refusal or rate-limit error.
func RemainingFrom(err error) (time.Duration, bool) {
	var refused *RefusedError
	if errors.As(err, &refused) {
		return refused.Remaining, true
	}
	var limited *RateLimitError
	if errors.As(err, &limited) {
		return limited.RetryAfter, true
	}
	return 0, false
}

// WaitMessage renders the remaining wait for users, rounding seconds up.
func WaitMessage(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("あと %d分%d秒 お待ちください", secs/60, secs%60)
}

// ParseRetryAfter reads a Retry-After header value given as delta seconds
// or an HTTP date. It returns 0 when the value is absent or already past.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
