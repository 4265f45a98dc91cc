// Package retry provides the fixed-delay retry policy used when querying
// external tools whose output is occasionally malformed or missing.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is returned by Policy.Do when MaxAttempts is reached.
var ErrExhausted = errors.New("retry attempts exhausted")

// Timer is the clock used by Policy and Sleep. Tests substitute a FakeTimer.
type Timer = backoff.Timer

// Notify is called before every retry with the error of the failed attempt,
// its 1-based number and the delay until the next attempt.
type Notify func(err error, attempt int, next time.Duration)

// Policy retries an operation with a constant delay between attempts.
type Policy struct {
	// Delay between two attempts.
	Delay time.Duration
	// MaxAttempts caps the number of attempts. Zero retries forever.
	MaxAttempts uint64
	// Timer overrides the wall clock when set.
	Timer Timer
	// Notify is invoked before each retry.
	Notify Notify
}

// Permanent wraps err so that Policy.Do returns it without retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a Permanent error, the context is
// done or MaxAttempts is reached.
func (p Policy) Do(ctx context.Context, op func() error) error {
	var b backoff.BackOff = backoff.NewConstantBackOff(p.Delay)
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, p.MaxAttempts-1)
	}

	attempt := 0
	permanent := false
	operation := func() error {
		attempt++
		err := op()
		var perr *backoff.PermanentError
		permanent = errors.As(err, &perr)
		return err
	}
	notify := func(err error, next time.Duration) {
		if p.Notify != nil {
			p.Notify(err, attempt, next)
		}
	}

	err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(b, ctx), notify, p.Timer)
	if err == nil || permanent || ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
}

// Sleep blocks for d on t, or on the wall clock when t is nil. It returns
// early with the context error when ctx is done.
func Sleep(ctx context.Context, t Timer, d time.Duration) error {
	if err := ctx.Err(); err != nil || d <= 0 {
		return err
	}
	if t == nil {
		t = &clockTimer{}
	}

	t.Start(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

// clockTimer is a Timer backed by time.Timer.
type clockTimer struct {
	timer *time.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = time.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}
