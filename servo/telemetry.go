package servo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pwrtest/pwrtest/retry"
)

const (
	batteryChargePercent = "battery_charge_percent"
	ecSystemPowerState   = "ec_system_powerstate"
)

const (
	// DefaultBatteryRetryDelay is the pause between two battery queries.
	DefaultBatteryRetryDelay = 30 * time.Second
	// DefaultStateRetryDelay is the pause between two power state queries.
	DefaultStateRetryDelay = 10 * time.Second
)

var (
	// ErrProtocolViolation reports a power state code the control tool is
	// not supposed to produce. It is never retried.
	ErrProtocolViolation = errors.New("control tool protocol violation")

	errMalformed = errors.New("malformed control tool response")
)

// PowerState is the DUT power state as reported by the EC.
type PowerState int

const (
	StateOff PowerState = iota
	StateOn
)

func (s PowerState) String() string {
	if s == StateOn {
		return "on"
	}
	return "off"
}

// Telemetry reads battery and power state through the control tool.
// Every call queries the device; nothing is cached.
type Telemetry struct {
	logger       zerolog.Logger
	querier      Querier
	batteryRetry retry.Policy
	stateRetry   retry.Policy
}

// TelemetryOption configures a Telemetry.
type TelemetryOption func(*Telemetry)

// WithRetryTimer replaces the wall clock used between retries.
func WithRetryTimer(t retry.Timer) TelemetryOption {
	return func(tm *Telemetry) {
		tm.batteryRetry.Timer = t
		tm.stateRetry.Timer = t
	}
}

// WithMaxAttempts caps the number of attempts of every query. The default
// of zero retries forever.
func WithMaxAttempts(n uint64) TelemetryOption {
	return func(tm *Telemetry) {
		tm.batteryRetry.MaxAttempts = n
		tm.stateRetry.MaxAttempts = n
	}
}

// WithRetryDelays overrides the battery and power state retry delays.
func WithRetryDelays(battery, state time.Duration) TelemetryOption {
	return func(tm *Telemetry) {
		tm.batteryRetry.Delay = battery
		tm.stateRetry.Delay = state
	}
}

// NewTelemetry returns a Telemetry reading through q.
func NewTelemetry(logger zerolog.Logger, q Querier, opts ...TelemetryOption) *Telemetry {
	t := &Telemetry{
		logger:       logger,
		querier:      q,
		batteryRetry: retry.Policy{Delay: DefaultBatteryRetryDelay},
		stateRetry:   retry.Policy{Delay: DefaultStateRetryDelay},
	}
	t.batteryRetry.Notify = t.retryNotice(batteryChargePercent)
	t.stateRetry.Notify = t.retryNotice(ecSystemPowerState)

	for _, opt := range opts {
		opt(t)
	}
	return t
}

// BatteryPercent returns the current battery charge in percent.
func (t *Telemetry) BatteryPercent(ctx context.Context) (int, error) {
	var percent int
	err := t.batteryRetry.Do(ctx, func() error {
		out, err := t.querier.Query(ctx, batteryChargePercent)
		if err != nil {
			return classify(ctx, err)
		}
		percent, err = ParseBatteryPercent(out)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read battery charge: %w", err)
	}

	t.logger.Debug().Int("percent", percent).Msg("Battery charge")
	return percent, nil
}

// PowerState returns the current power state of the DUT.
func (t *Telemetry) PowerState(ctx context.Context) (PowerState, error) {
	var state PowerState
	err := t.stateRetry.Do(ctx, func() error {
		out, err := t.querier.Query(ctx, ecSystemPowerState)
		if err != nil {
			return classify(ctx, err)
		}
		state, err = ParsePowerState(out)
		if errors.Is(err, ErrProtocolViolation) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return StateOff, fmt.Errorf("failed to read power state: %w", err)
	}

	t.logger.Debug().Stringer("state", state).Msg("Power state")
	return state, nil
}

func (t *Telemetry) retryNotice(query string) retry.Notify {
	return func(err error, attempt int, next time.Duration) {
		t.logger.Warn().
			Err(err).
			Str("query", query).
			Int("attempt", attempt).
			Dur("retry_in", next).
			Msg("Unusable control tool response, retrying")
	}
}

// classify makes launch failures and cancellation permanent; every other
// query error is worth another attempt.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, ErrLaunch) || ctx.Err() != nil {
		return retry.Permanent(err)
	}
	return err
}

// ParseBatteryPercent decodes a "battery_charge_percent:<n>" response.
func ParseBatteryPercent(out string) (int, error) {
	value, err := payload(out)
	if err != nil {
		return 0, err
	}
	percent, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", errMalformed, value)
	}
	if percent < 0 || percent > 100 {
		return 0, fmt.Errorf("%w: battery charge %d out of range", errMalformed, percent)
	}
	return percent, nil
}

// ParsePowerState decodes an "ec_system_powerstate:<state>" response.
// S-states are on, G-states are off.
func ParsePowerState(out string) (PowerState, error) {
	value, err := payload(out)
	if err != nil {
		return StateOff, err
	}
	switch value[0] {
	case 'S':
		return StateOn, nil
	case 'G':
		return StateOff, nil
	default:
		return StateOff, fmt.Errorf("%w: unknown power state %q", ErrProtocolViolation, value)
	}
}

// payload returns the value after the first colon of a key:value response,
// without the trailing line terminator.
func payload(out string) (string, error) {
	_, value, ok := strings.Cut(out, ":")
	if !ok {
		return "", fmt.Errorf("%w: %q has no key:value form", errMalformed, out)
	}
	value = strings.TrimRight(value, "\r\n")
	if value == "" {
		return "", fmt.Errorf("%w: empty value in %q", errMalformed, out)
	}
	return value, nil
}
