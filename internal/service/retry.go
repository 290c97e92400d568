package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how often and how fast the coordinator retries after
// an indeterminate store answer.  Jitter and Sleep are hooks: the stress
// harness replaces them to replay worst-case timing deterministically.
type RetryPolicy struct {
	MaxAttempts int           // total conditional mutations per operation, >= 1
	BaseDelay   time.Duration // backoff cap before the second attempt
	MaxDelay    time.Duration // upper bound of any single backoff
	Multiplier  float64       // growth of the cap per attempt, >= 1

	// Jitter maps a backoff cap onto the delay actually slept, in [0, cap].
	// Nil means FullJitter.
	Jitter func(limit time.Duration) time.Duration
	// Sleep waits for d or until ctx is done.  Nil means a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy is three attempts starting at 50ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
}

// FullJitter picks a uniform delay in [0, cap].
func FullJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit) + 1))
}

// NoJitter always sleeps the full cap.
func NoJitter(limit time.Duration) time.Duration { return limit }

// Validate rejects policies that would loop forever or never run.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return errors.New("retry policy: MaxAttempts must be at least 1")
	case p.BaseDelay < 0 || p.MaxDelay < p.BaseDelay:
		return errors.New("retry policy: need 0 <= BaseDelay <= MaxDelay")
	case p.Multiplier < 1:
		return errors.New("retry policy: Multiplier must be >= 1")
	}
	return nil
}

// Backoff returns the cap of the wait that follows the given failed
// attempt (1-based): BaseDelay * Multiplier^(attempt-1), bounded by
// MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// MaxLatency is the hard upper bound of one coordinator operation: every
// attempt may spend callTimeout on the mutation and again on the
// reconciliation read, plus the sum of every backoff cap in between.
func (p RetryPolicy) MaxLatency(callTimeout time.Duration) time.Duration {
	total := time.Duration(p.MaxAttempts) * 2 * callTimeout
	for a := 1; a < p.MaxAttempts; a++ {
		total += p.Backoff(a)
	}
	return total
}

// wait sleeps the jittered backoff after the given failed attempt.
func (p RetryPolicy) wait(ctx context.Context, attempt int) error {
	jitter := p.Jitter
	if jitter == nil {
		jitter = FullJitter
	}
	limit := p.Backoff(attempt)
	d := jitter(limit)
	if d > limit {
		d = limit
	}
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
