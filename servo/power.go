package servo

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pwrtest/pwrtest/retry"
)

const (
	pwrButtonPress   = "pwr_button:press"
	pwrButtonRelease = "pwr_button:release"
	servoRoleSource  = "servo_v4_role:src"
	servoRoleSink    = "servo_v4_role:snk"
)

// Timings holds how long the power button is held and how long the DUT
// is given to settle afterwards.
type Timings struct {
	PowerOffHold time.Duration
	PowerOnHold  time.Duration
	Settle       time.Duration
}

// DefaultTimings returns the hold and settle durations used on real boards.
func DefaultTimings() Timings {
	return Timings{
		PowerOffHold: 3 * time.Second,
		PowerOnHold:  1 * time.Second,
		Settle:       10 * time.Second,
	}
}

// StateReader reports the power state of the DUT.
type StateReader interface {
	PowerState(ctx context.Context) (PowerState, error)
}

// PowerController presses the DUT power button and switches the servo_v4
// power role. PowerOn and PowerOff only press the button when the observed
// state differs from the requested one.
type PowerController struct {
	logger   zerolog.Logger
	launcher Launcher
	state    StateReader
	timings  Timings
	timer    retry.Timer
}

// PowerOption configures a PowerController.
type PowerOption func(*PowerController)

// WithTimings overrides DefaultTimings.
func WithTimings(t Timings) PowerOption {
	return func(p *PowerController) {
		p.timings = t
	}
}

// WithPowerTimer replaces the wall clock used for holds and settling.
func WithPowerTimer(t retry.Timer) PowerOption {
	return func(p *PowerController) {
		p.timer = t
	}
}

// NewPowerController returns a PowerController launching commands through l
// and reading the power state from s.
func NewPowerController(logger zerolog.Logger, l Launcher, s StateReader, opts ...PowerOption) *PowerController {
	p := &PowerController{
		logger:   logger,
		launcher: l,
		state:    s,
		timings:  DefaultTimings(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PressPowerButton presses the power button. With a positive hold it waits
// that long and releases the button again; otherwise it stays pressed.
func (p *PowerController) PressPowerButton(ctx context.Context, hold time.Duration) error {
	if err := p.launcher.Launch(ctx, pwrButtonPress); err != nil {
		return fmt.Errorf("failed to press power button: %w", err)
	}
	if hold <= 0 {
		return nil
	}

	if err := retry.Sleep(ctx, p.timer, hold); err != nil {
		return err
	}
	if err := p.launcher.Launch(ctx, pwrButtonRelease); err != nil {
		return fmt.Errorf("failed to release power button: %w", err)
	}
	return nil
}

// PowerOff turns the DUT off unless it is already off.
func (p *PowerController) PowerOff(ctx context.Context) error {
	return p.transition(ctx, StateOff, p.timings.PowerOffHold)
}

// PowerOn turns the DUT on unless it is already on.
func (p *PowerController) PowerOn(ctx context.Context) error {
	return p.transition(ctx, StateOn, p.timings.PowerOnHold)
}

func (p *PowerController) transition(ctx context.Context, want PowerState, hold time.Duration) error {
	current, err := p.state.PowerState(ctx)
	if err != nil {
		return err
	}
	if current == want {
		p.logger.Debug().Stringer("state", current).Msg("DUT already in requested power state")
		return nil
	}

	p.logger.Info().
		Stringer("from", current).
		Stringer("to", want).
		Dur("hold", hold).
		Msg("Pressing power button")

	if err := p.PressPowerButton(ctx, hold); err != nil {
		return err
	}
	return retry.Sleep(ctx, p.timer, p.timings.Settle)
}

// SetExternalPower makes the servo_v4 source power to the DUT when enabled
// and sink it otherwise. The command is always sent.
func (p *PowerController) SetExternalPower(ctx context.Context, enabled bool) error {
	role := servoRoleSink
	if enabled {
		role = servoRoleSource
	}

	p.logger.Debug().Bool("enabled", enabled).Msg("Setting external power")

	if err := p.launcher.Launch(ctx, role); err != nil {
		return fmt.Errorf("failed to set external power: %w", err)
	}
	return nil
}
