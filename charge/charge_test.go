package charge

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pwrtest/pwrtest/retry"
	"github.com/pwrtest/pwrtest/servo"
)

const (
	qBattery = "battery_charge_percent"
	qState   = "ec_system_powerstate"
	press    = "pwr_button:press"
	release  = "pwr_button:release"
	source   = "servo_v4_role:src"
	sink     = "servo_v4_role:snk"
)

type recordingObserver struct {
	events []string
}

func (r *recordingObserver) ChargeStarted(current, from, to int) {
	r.events = append(r.events, fmt.Sprintf("started %d %d %d", current, from, to))
}

func (r *recordingObserver) ChargeProgress(current, to int) {
	r.events = append(r.events, fmt.Sprintf("progress %d %d", current, to))
}

func (r *recordingObserver) ChargeFinished(current, to int) {
	r.events = append(r.events, fmt.Sprintf("finished %d %d", current, to))
}

func newTestManager(dut *servo.FakeDUT, obs Observer) (*Manager, *retry.FakeTimer) {
	timer := &retry.FakeTimer{}
	logger := zerolog.Nop()
	tm := servo.NewTelemetry(logger, dut, servo.WithRetryTimer(timer))
	pc := servo.NewPowerController(logger, dut, tm, servo.WithPowerTimer(timer))
	return NewManager(logger, tm, pc, WithObserver(obs), WithTimer(timer)), timer
}

func TestEnsureCharged_WithinBand(t *testing.T) {
	tests := []struct {
		name    string
		battery int
		from    int
		to      int
	}{
		{name: "above lower bound", battery: 50, from: 30, to: 80},
		{name: "at lower bound", battery: 30, from: 30, to: 80},
		{name: "collapsed band", battery: 60, from: 60, to: 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dut := &servo.FakeDUT{Battery: tt.battery, On: true, ExternalPower: true}
			obs := &recordingObserver{}
			m, timer := newTestManager(dut, obs)

			cycle, err := m.EnsureCharged(context.Background(), tt.from, tt.to)
			require.NoError(t, err)

			require.Equal(t, []string{qBattery, sink}, dut.Calls)
			require.False(t, dut.ExternalPower)
			require.True(t, dut.On)
			require.False(t, cycle.Charged)
			require.Equal(t, tt.battery, cycle.StartPercent)
			require.Empty(t, obs.events)
			require.Empty(t, timer.Durations)
		})
	}
}

func TestEnsureCharged_ChargesWhenBelowBand(t *testing.T) {
	dut := &servo.FakeDUT{Battery: 20, On: true, ChargeRate: 10}
	obs := &recordingObserver{}
	m, timer := newTestManager(dut, obs)

	cycle, err := m.EnsureCharged(context.Background(), 30, 50)
	require.NoError(t, err)

	require.Equal(t, []string{
		qBattery,
		source,
		qState, press, release,
		qBattery, qBattery, qBattery, qBattery,
		qState, press, release,
		sink,
	}, dut.Calls)
	require.Equal(t, []time.Duration{
		3 * time.Second, 10 * time.Second,
		10 * time.Second, 10 * time.Second, 10 * time.Second, 10 * time.Second,
		1 * time.Second, 10 * time.Second,
	}, timer.Durations)
	require.Equal(t, []string{
		"started 20 30 50",
		"progress 20 50",
		"progress 30 50",
		"progress 40 50",
		"progress 50 50",
		"finished 50 50",
	}, obs.events)

	require.True(t, dut.On)
	require.False(t, dut.ExternalPower)
	require.Equal(t, Cycle{StartPercent: 20, EndPercent: 50, Charged: true, Duration: cycle.Duration}, cycle)
}

func TestEnsureCharged_CustomPollInterval(t *testing.T) {
	dut := &servo.FakeDUT{Battery: 20, On: true, ChargeRate: 30}
	timer := &retry.FakeTimer{}
	logger := zerolog.Nop()
	tm := servo.NewTelemetry(logger, dut, servo.WithRetryTimer(timer))
	pc := servo.NewPowerController(logger, dut, tm, servo.WithPowerTimer(timer), servo.WithTimings(servo.Timings{
		PowerOffHold: 2 * time.Second,
		PowerOnHold:  time.Second,
		Settle:       4 * time.Second,
	}))
	m := NewManager(logger, tm, pc, WithTimer(timer), WithPollInterval(time.Minute))

	cycle, err := m.EnsureCharged(context.Background(), 30, 50)
	require.NoError(t, err)
	require.True(t, cycle.Charged)
	require.Equal(t, 50, cycle.EndPercent)
	require.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second,
		time.Minute, time.Minute,
		time.Second, 4 * time.Second,
	}, timer.Durations)
}

func TestEnsureCharged_DUTAlreadyOff(t *testing.T) {
	dut := &servo.FakeDUT{Battery: 10, On: false, ChargeRate: 50}
	m, _ := newTestManager(dut, nil)

	_, err := m.EnsureCharged(context.Background(), 20, 60)
	require.NoError(t, err)

	// Only the power-on press: powering off an already-off DUT is a no-op.
	require.Equal(t, 1, dut.Count(press))
	require.True(t, dut.On)
	require.False(t, dut.ExternalPower)

	firstPress := slices.Index(dut.Calls, press)
	lastBattery := len(dut.Calls) - 1 - slices.Index(reversed(dut.Calls), qBattery)
	require.Greater(t, firstPress, lastBattery)
}

func TestEnsureCharged_PowerOffBeforeChargeLoop(t *testing.T) {
	dut := &servo.FakeDUT{Battery: 5, On: true, ChargeRate: 40}
	m, _ := newTestManager(dut, nil)

	_, err := m.EnsureCharged(context.Background(), 10, 90)
	require.NoError(t, err)

	firstRelease := slices.Index(dut.Calls, release)
	require.Equal(t, []string{qBattery, source, qState, press, release}, dut.Calls[:firstRelease+1])
	require.Equal(t, qBattery, dut.Calls[firstRelease+1])
}

func TestEnsureCharged_ProtocolViolationStopsEverything(t *testing.T) {
	dut := &servo.FakeDUT{Battery: 10, On: true, StateCode: "X", ChargeRate: 10}
	m, _ := newTestManager(dut, nil)

	_, err := m.EnsureCharged(context.Background(), 30, 80)
	require.ErrorIs(t, err, servo.ErrProtocolViolation)

	require.Equal(t, []string{qBattery, source, qState}, dut.Calls)
}

func TestEnsureCharged_Canceled(t *testing.T) {
	dut := &servo.FakeDUT{Battery: 10, On: false, ChargeRate: 1}
	ctx, cancel := context.WithCancel(context.Background())
	m, timer := newTestManager(dut, nil)
	timer.OnStart = func(time.Duration) { cancel() }

	_, err := m.EnsureCharged(ctx, 30, 80)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, dut.Count(sink))
}

func TestProgressBar_OnlyMovesForward(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	bar := NewProgressBar(&out)

	bar.ChargeStarted(20, 30, 60)
	require.Equal(t, 20, bar.pos)

	bar.ChargeProgress(35, 60)
	require.Equal(t, 35, bar.pos)

	bar.ChargeProgress(33, 60)
	require.Equal(t, 35, bar.pos)

	bar.ChargeProgress(70, 60)
	require.Equal(t, 60, bar.pos)

	bar.ChargeFinished(70, 60)
	require.Contains(t, out.String(), "below 30%! charging from 20 to 60…")
	require.Contains(t, out.String(), "[########################################]  60% / 60%")
}

func reversed(s []string) []string {
	r := slices.Clone(s)
	slices.Reverse(r)
	return r
}
