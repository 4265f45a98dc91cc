package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestPolicy_Do_RetriesUntilSuccess(t *testing.T) {
	timer := &FakeTimer{}
	var notified []int
	p := Policy{
		Delay: 30 * time.Second,
		Timer: timer,
		Notify: func(err error, attempt int, next time.Duration) {
			require.ErrorIs(t, err, errFlaky)
			require.Equal(t, 30*time.Second, next)
			notified = append(notified, attempt)
		},
	}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 4 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 4, calls)
	require.Equal(t, []int{1, 2, 3}, notified)
	require.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second, 30 * time.Second}, timer.Durations)
}

func TestPolicy_Do_Unbounded(t *testing.T) {
	timer := &FakeTimer{}
	p := Policy{Delay: time.Second, Timer: timer}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 500 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 500, calls)
	require.Equal(t, 499*time.Second, timer.Total())
}

func TestPolicy_Do_MaxAttempts(t *testing.T) {
	p := Policy{Delay: time.Second, MaxAttempts: 3, Timer: &FakeTimer{}}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return errFlaky
	})

	require.ErrorIs(t, err, ErrExhausted)
	require.ErrorIs(t, err, errFlaky)
	require.Equal(t, 3, calls)
}

func TestPolicy_Do_Permanent(t *testing.T) {
	errFatal := errors.New("fatal")
	timer := &FakeTimer{}
	p := Policy{Delay: time.Second, Timer: timer}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return Permanent(errFatal)
	})

	require.ErrorIs(t, err, errFatal)
	require.NotErrorIs(t, err, ErrExhausted)
	require.Equal(t, 1, calls)
	require.Empty(t, timer.Durations)
}

func TestPolicy_Do_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	timer := &FakeTimer{OnStart: func(time.Duration) { cancel() }}
	p := Policy{Delay: time.Second, Timer: timer}

	calls := 0
	err := p.Do(ctx, func() error {
		calls++
		return errFlaky
	})

	require.ErrorIs(t, err, context.Canceled)
	require.LessOrEqual(t, calls, 2)
}

func TestSleep(t *testing.T) {
	timer := &FakeTimer{}
	require.NoError(t, Sleep(context.Background(), timer, 10*time.Second))
	require.NoError(t, Sleep(context.Background(), timer, 0))
	require.Equal(t, []time.Duration{10 * time.Second}, timer.Durations)
}

func TestSleep_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Sleep(ctx, nil, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSleep_WallClock(t *testing.T) {
	start := time.Now()
	require.NoError(t, Sleep(context.Background(), nil, 5*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}
