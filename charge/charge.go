// Package charge keeps the DUT battery inside the charge band between test
// runs. When the battery is below the lower bound, the DUT is powered off
// and charged from the servo until it reaches the upper bound.
package charge

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pwrtest/pwrtest/retry"
)

// DefaultPollInterval is the pause between two battery readings while
// charging.
const DefaultPollInterval = 10 * time.Second

// Telemetry reads the battery charge.
type Telemetry interface {
	BatteryPercent(ctx context.Context) (int, error)
}

// Power switches the DUT and its external power source.
type Power interface {
	PowerOff(ctx context.Context) error
	PowerOn(ctx context.Context) error
	SetExternalPower(ctx context.Context, enabled bool) error
}

// Cycle describes one charge check.
type Cycle struct {
	StartPercent int
	EndPercent   int
	Charged      bool
	Duration     time.Duration
}

// Manager runs charge checks.
type Manager struct {
	logger       zerolog.Logger
	telemetry    Telemetry
	power        Power
	observer     Observer
	pollInterval time.Duration
	timer        retry.Timer
}

// Option configures a Manager.
type Option func(*Manager)

// WithObserver sets the observer notified about charge cycles.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.pollInterval = d
	}
}

// WithTimer replaces the wall clock used between battery readings.
func WithTimer(t retry.Timer) Option {
	return func(m *Manager) {
		m.timer = t
	}
}

// NewManager returns a Manager reading the battery from t and switching
// power through p.
func NewManager(logger zerolog.Logger, t Telemetry, p Power, opts ...Option) *Manager {
	m := &Manager{
		logger:       logger,
		telemetry:    t,
		power:        p,
		observer:     Observers{},
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureCharged makes sure the battery holds at least from percent. If it
// does not, the DUT is powered off and charged until it reaches to percent,
// then powered on again. External power is switched off at the end of
// every successful check. Any error aborts the check on the spot and no
// further command is sent.
func (m *Manager) EnsureCharged(ctx context.Context, from, to int) (Cycle, error) {
	started := time.Now()

	percent, err := m.telemetry.BatteryPercent(ctx)
	if err != nil {
		return Cycle{}, err
	}
	cycle := Cycle{StartPercent: percent, EndPercent: percent}

	if percent >= from {
		m.logger.Debug().
			Int("percent", percent).
			Int("from", from).
			Msg("Battery charge within band")
		if err := m.power.SetExternalPower(ctx, false); err != nil {
			return cycle, err
		}
		cycle.Duration = time.Since(started)
		return cycle, nil
	}

	m.logger.Info().
		Int("percent", percent).
		Int("from", from).
		Int("to", to).
		Msg("Battery charge below band, charging")

	if err := m.power.SetExternalPower(ctx, true); err != nil {
		return cycle, err
	}
	if err := m.power.PowerOff(ctx); err != nil {
		return cycle, err
	}

	m.observer.ChargeStarted(percent, from, to)

	for {
		if err := retry.Sleep(ctx, m.timer, m.pollInterval); err != nil {
			return cycle, err
		}
		percent, err = m.telemetry.BatteryPercent(ctx)
		if err != nil {
			return cycle, err
		}
		m.observer.ChargeProgress(percent, to)
		if percent >= to {
			break
		}
	}

	m.observer.ChargeFinished(percent, to)

	if err := m.power.PowerOn(ctx); err != nil {
		return cycle, err
	}
	if err := m.power.SetExternalPower(ctx, false); err != nil {
		return cycle, err
	}

	cycle.EndPercent = percent
	cycle.Charged = true
	cycle.Duration = time.Since(started)

	m.logger.Info().
		Int("percent", percent).
		Dur("took", cycle.Duration).
		Msg("Charging finished")

	return cycle, nil
}
