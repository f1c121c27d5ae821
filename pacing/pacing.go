// Package pacing holds the one delay-and-retry policy shared by page
// acquisition, the scrape session and the job runner.
package pacing

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/use-agent/shopscrape/models"
)

// Policy paces page loads with a uniform random pause and retries failed
// operations with capped exponential backoff.
type Policy struct {
	// MinDelay and MaxDelay bound the pause taken by Pause.
	MinDelay time.Duration
	MaxDelay time.Duration

	// MaxAttempts counts the first try; values below 1 mean a single try.
	MaxAttempts int

	// Backoff is the wait before the first retry; it doubles up to BackoffMax.
	Backoff    time.Duration
	BackoffMax time.Duration

	// IsRetryable decides whether an error deserves another attempt.
	// Nil means DefaultRetryable.
	IsRetryable func(error) bool

	// Sleeper waits for d or until ctx ends. Nil means Sleep.
	Sleeper func(ctx context.Context, d time.Duration) error
}

// Delay samples a pause uniformly from [MinDelay, MaxDelay].
func (p *Policy) Delay() time.Duration {
	lo, hi := p.MinDelay, p.MaxDelay
	if hi < lo {
		lo, hi = hi, lo
	}
	if hi <= 0 {
		return 0
	}
	if hi == lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// Pause sleeps for one sampled delay.
func (p *Policy) Pause(ctx context.Context) error {
	d := p.Delay()
	if d <= 0 {
		return nil
	}
	slog.Debug("pacing pause", "delay", d)
	return p.sleep(ctx, d)
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleeper != nil {
		return p.Sleeper(ctx, d)
	}
	return Sleep(ctx, d)
}

// Retry runs fn until it succeeds, returns a non-retryable error or runs
// out of attempts, and returns the last error unchanged. When ctx ends
// while waiting, ctx.Err() is returned.
func (p *Policy) Retry(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.IsRetryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Backoff
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = time.Millisecond
	}
	eb.MaxInterval = p.BackoffMax
	if eb.MaxInterval < eb.InitialInterval {
		eb.MaxInterval = eb.InitialInterval
	}
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.2
	eb.MaxElapsedTime = 0
	eb.Reset()

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	var timer backoff.Timer
	if p.Sleeper != nil {
		timer = &sleeperTimer{sleep: p.Sleeper, ctx: ctx}
	}

	attempt := 0
	return backoff.RetryNotifyWithTimer(func() error {
		attempt++
		err := fn()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		slog.Warn("attempt failed, retrying",
			"attempt", attempt,
			"max", attempts,
			"wait", wait,
			"error", err,
		)
	}, timer)
}

// DefaultRetryable retries transport failures and blocked pages. Missing
// configuration and caller cancellation are final.
func DefaultRetryable(err error) bool {
	switch models.CodeOf(err) {
	case models.ErrCodeNavigation, models.ErrCodeTimeout, models.ErrCodeBlocked:
		return true
	default:
		return false
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sleeperTimer adapts a Sleeper to backoff.Timer.
type sleeperTimer struct {
	sleep func(ctx context.Context, d time.Duration) error
	ctx   context.Context
	c     chan time.Time
}

func (t *sleeperTimer) Start(d time.Duration) {
	t.c = make(chan time.Time, 1)
	go func() {
		_ = t.sleep(t.ctx, d)
		t.c <- time.Now()
	}()
}

func (t *sleeperTimer) Stop() {}

func (t *sleeperTimer) C() <-chan time.Time { return t.c }
