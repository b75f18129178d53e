// Package ratelimit implements fixed-window attempt counters keyed by source
// identity.
package ratelimit

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrLimitExceeded is returned by callers that turn a denied Result into an
// error.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// Result is the outcome of a single Check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts attempts per key inside a fixed window. The first attempt
// opens the window with a count of one; once max attempts were accepted,
// further attempts are denied until the window elapses.
type Limiter interface {
	Check(ctx context.Context, key string, max int, window time.Duration) (Result, error)
}

// Policy is a max/window pair.
type Policy struct {
	Max    int           `default:"50" usage:"Maximum attempts per window"`
	Window time.Duration `default:"60s" usage:"Window length"`
}

// Enforce runs Check and converts a denial into ErrLimitExceeded.
func Enforce(ctx context.Context, l Limiter, key string, p Policy) (Result, error) {
	res, err := l.Check(ctx, key, p.Max, p.Window)
	if err != nil {
		return res, errors.Wrap(err, "check rate limit")
	}
	if !res.Allowed {
		return res, ErrLimitExceeded
	}
	return res, nil
}
