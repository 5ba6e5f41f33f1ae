// Package ratelimit paces dashboard requests against the backend API
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces outgoing requests and backs off when the backend throttles us
type Limiter struct {
	limiter           *rate.Limiter
	mu                sync.Mutex
	consecutiveErrors int
	currentDelay      time.Duration
	config            *Config
}

// Config holds limiter configuration
type Config struct {
	RequestDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	MaxAttempts       int
}

// DefaultConfig returns the configuration used for trigger and poll traffic.
// The backend is local-network PocketBase, so the base delay is short; the
// backoff only matters when a poll storm trips its rate limit middleware.
func DefaultConfig() *Config {
	return &Config{
		RequestDelay:      100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
		MaxAttempts:       5,
	}
}

// New creates a limiter; a nil config selects DefaultConfig
func New(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	rps := float64(time.Second) / float64(cfg.RequestDelay)

	return &Limiter{
		limiter:      rate.NewLimiter(rate.Limit(rps), 1),
		currentDelay: cfg.RequestDelay,
		config:       cfg,
	}
}

// Wait blocks until the limiter allows the next request
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// HandleError inspects an error and reports whether to retry and after how long.
// Only throttling errors are retryable; everything else propagates to the caller.
func (l *Limiter) HandleError(err error) (shouldRetry bool, waitTime time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	errStr := strings.ToLower(err.Error())
	if !strings.Contains(errStr, "429") && !strings.Contains(errStr, "rate limit") {
		return false, 0
	}

	l.consecutiveErrors++

	waitTime = time.Duration(math.Min(
		float64(l.currentDelay)*math.Pow(l.config.BackoffMultiplier, float64(l.consecutiveErrors-1)),
		float64(l.config.MaxDelay),
	))

	// Slow the steady-state pace as well until a request succeeds
	if waitTime > l.currentDelay {
		l.currentDelay = waitTime
		l.limiter.SetLimit(rate.Limit(float64(time.Second) / float64(waitTime)))
	}

	return l.consecutiveErrors < l.config.MaxAttempts, waitTime
}

// Success resets the backoff state after a request goes through
func (l *Limiter) Success() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.consecutiveErrors > 0 {
		l.consecutiveErrors = 0
		l.currentDelay = l.config.RequestDelay
		l.limiter.SetLimit(rate.Limit(float64(time.Second) / float64(l.config.RequestDelay)))
	}
}

// Execute runs fn under the limiter, retrying throttled calls with backoff
func (l *Limiter) Execute(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt < l.config.MaxAttempts; attempt++ {
		if err := l.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}

		err := fn()
		if err == nil {
			l.Success()
			return nil
		}

		shouldRetry, waitTime := l.HandleError(err)
		if !shouldRetry {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded", l.config.MaxAttempts)
}
