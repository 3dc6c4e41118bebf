// Package ratelimit counts attempts per key in fixed windows. It guards the
// login endpoint but knows nothing about authentication.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultWindow      = 15 * time.Minute
	DefaultMaxAttempts = 5
)

var ErrCounterUnavailable = errors.New("ratelimit: counter unavailable")

// AttemptCounter atomically records one attempt for key. The window for key
// starts at its first attempt; count is the number of attempts recorded in
// the current window, including this one.
type AttemptCounter interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

// Decision is the result of a single attempt.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter admits at most maxAttempts attempts per key per window.
type Limiter struct {
	counter     AttemptCounter
	window      time.Duration
	maxAttempts int
	prefix      string
	now         func() time.Time
}

// Option configures Limiter.
type Option func(*Limiter)

// WithClock overrides the time source used to compute RetryAfter.
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithKeyPrefix namespaces keys so one counter can back several limiters.
func WithKeyPrefix(prefix string) Option {
	return func(l *Limiter) {
		l.prefix = prefix
	}
}

// New builds a limiter over counter.
func New(counter AttemptCounter, maxAttempts int, window time.Duration, opts ...Option) (*Limiter, error) {
	if counter == nil {
		return nil, errors.New("ratelimit: counter is required")
	}
	if maxAttempts < 1 {
		return nil, errors.New("ratelimit: max attempts must be at least 1")
	}
	if window <= 0 {
		return nil, errors.New("ratelimit: window must be positive")
	}
	l := &Limiter{
		counter:     counter,
		window:      window,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Window reports the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// MaxAttempts reports the configured threshold.
func (l *Limiter) MaxAttempts() int { return l.maxAttempts }

// Attempt records an attempt for key and reports whether it is admitted.
// Once the threshold is crossed every further attempt is refused until the
// window that started with the first attempt has elapsed.
func (l *Limiter) Attempt(ctx context.Context, key string) (Decision, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	count, resetAt, err := l.counter.Increment(ctx, l.prefix+key, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}

	d := Decision{
		Allowed: count <= int64(l.maxAttempts),
		Limit:   l.maxAttempts,
		ResetAt: resetAt,
	}
	if remaining := int64(l.maxAttempts) - count; remaining > 0 {
		d.Remaining = int(remaining)
	}
	if !d.Allowed {
		d.RetryAfter = resetAt.Sub(l.now())
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
	}
	return d, nil
}
