// Package retry holds the exponential backoff policy used for identity backend
// page fetches and outcome report publishes.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy is a pure function of the attempt count and error classification.
// It carries no mutable state and is safe to share between goroutines.
type Policy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	MaxAttempts    int
}

func DefaultPolicy() Policy {
	return Policy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
		MaxAttempts:    3,
	}
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialBackoff < 0 {
		return fmt.Errorf("initial_backoff must be non-negative, got %v", p.InitialBackoff)
	}
	if p.MaxBackoff < p.InitialBackoff {
		return fmt.Errorf("max_backoff (%v) must be >= initial_backoff (%v)", p.MaxBackoff, p.InitialBackoff)
	}
	if p.Multiplier < 1.0 {
		return fmt.Errorf("multiplier must be >= 1.0, got %f", p.Multiplier)
	}
	return nil
}

// NextDelay returns the wait after the given failed attempt (1-based):
// InitialBackoff * Multiplier^(attempt-1), clamped to MaxBackoff.
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	d := float64(p.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// ShouldRetry reports whether another attempt follows the given failed attempt.
func (p Policy) ShouldRetry(attempt int, err error) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	return IsTransient(err)
}

// Transient is implemented by errors that know whether a retry can help.
type Transient interface {
	Transient() bool
}

// IsTransient classifies err: network failures and per-request timeouts are
// transient, cancellation is not, typed errors decide for themselves.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var t Transient
	if errors.As(err, &t) {
		return t.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// policyBackOff adapts Policy to backoff.BackOff. One instance per Do call.
type policyBackOff struct {
	policy  Policy
	attempt int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.policy.NextDelay(b.attempt)
}

func (b *policyBackOff) Reset() {
	b.attempt = 0
}

// Do runs op until it succeeds, fails with an error the policy will not retry,
// or ctx ends. onRetry, when set, runs before each backoff sleep.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), onRetry func(attempt int, err error, delay time.Duration)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil && !p.ShouldRetry(attempt, err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(&policyBackOff{policy: p}),
		backoff.WithMaxElapsedTime(0),
	}
	if onRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, d time.Duration) {
			onRetry(attempt, err, d)
		}))
	}

	v, err := backoff.Retry(ctx, operation, opts...)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return v, err
}
