package retry

import "time"

// FakeTimer fires immediately and records every requested duration, so
// that code sleeping for minutes can be tested instantly.
type FakeTimer struct {
	Durations []time.Duration
	// OnStart runs before the timer fires. Tests use it to change the state
	// of a fake device while the code under test is waiting.
	OnStart func(d time.Duration)

	c chan time.Time
}

// Start records d and fires the timer.
func (f *FakeTimer) Start(d time.Duration) {
	f.Durations = append(f.Durations, d)
	if f.OnStart != nil {
		f.OnStart(d)
	}
	select {
	case f.channel() <- time.Time{}:
	default:
	}
}

// Stop is a no-op.
func (f *FakeTimer) Stop() {}

// C returns the channel the timer fires on.
func (f *FakeTimer) C() <-chan time.Time {
	return f.channel()
}

// Total returns the sum of all recorded durations.
func (f *FakeTimer) Total() time.Duration {
	var total time.Duration
	for _, d := range f.Durations {
		total += d
	}
	return total
}

func (f *FakeTimer) channel() chan time.Time {
	if f.c == nil {
		f.c = make(chan time.Time, 1)
	}
	return f.c
}
