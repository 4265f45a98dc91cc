package servo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pwrtest/pwrtest/retry"
)

func TestParseBatteryPercent(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{name: "regular", in: "battery_charge_percent:37\n", want: 37},
		{name: "empty battery", in: "battery_charge_percent:0\n", want: 0},
		{name: "full battery", in: "battery_charge_percent:100\n", want: 100},
		{name: "crlf", in: "battery_charge_percent:55\r\n", want: 55},
		{name: "no newline", in: "battery_charge_percent:12", want: 12},
		{name: "no colon", in: "timeout\n", wantErr: true},
		{name: "leading space", in: "battery_charge_percent: 37\n", wantErr: true},
		{name: "trailing space", in: "battery_charge_percent:37 \n", wantErr: true},
		{name: "empty output", in: "", wantErr: true},
		{name: "empty value", in: "battery_charge_percent:\n", wantErr: true},
		{name: "not a number", in: "battery_charge_percent:abc\n", wantErr: true},
		{name: "above range", in: "battery_charge_percent:101\n", wantErr: true},
		{name: "below range", in: "battery_charge_percent:-1\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBatteryPercent(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, errMalformed)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParsePowerState(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		want      PowerState
		violation bool
		malformed bool
	}{
		{name: "S0", in: "ec_system_powerstate:S0\n", want: StateOn},
		{name: "S3", in: "ec_system_powerstate:S3\n", want: StateOn},
		{name: "G3", in: "ec_system_powerstate:G3\n", want: StateOff},
		{name: "unknown code", in: "ec_system_powerstate:X\n", violation: true},
		{name: "lowercase code", in: "ec_system_powerstate:s0\n", violation: true},
		{name: "leading space", in: "ec_system_powerstate: S0\n", violation: true},
		{name: "missing value", in: "ec_system_powerstate:\n", malformed: true},
		{name: "garbage", in: "connection refused", malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePowerState(tt.in)
			switch {
			case tt.violation:
				require.ErrorIs(t, err, ErrProtocolViolation)
			case tt.malformed:
				require.ErrorIs(t, err, errMalformed)
				require.NotErrorIs(t, err, ErrProtocolViolation)
			default:
				require.NoError(t, err)
				require.Equal(t, tt.want, got)
			}
		})
	}
}

func TestTelemetry_BatteryPercent_RetriesMalformed(t *testing.T) {
	fake := &FakeControl{}
	fake.Script(batteryChargePercent, "", "battery_charge_percent:abc\n", "battery_charge_percent:37\n")
	timer := &retry.FakeTimer{}

	tm := NewTelemetry(zerolog.Nop(), fake, WithRetryTimer(timer))
	got, err := tm.BatteryPercent(context.Background())

	require.NoError(t, err)
	require.Equal(t, 37, got)
	require.Len(t, fake.Calls, 3)
	require.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, timer.Durations)
}

func TestTelemetry_BatteryPercent_LogsRetryNotice(t *testing.T) {
	fake := &FakeControl{}
	fake.Script(batteryChargePercent, "battery_charge_percent:\n", "battery_charge_percent: 37\n", "battery_charge_percent:37\n")

	var buf bytes.Buffer
	tm := NewTelemetry(zerolog.New(&buf), fake, WithRetryTimer(&retry.FakeTimer{}))
	got, err := tm.BatteryPercent(context.Background())
	require.NoError(t, err)
	require.Equal(t, 37, got)

	var notices []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["message"] == "Unusable control tool response, retrying" {
			notices = append(notices, entry)
		}
	}

	require.Len(t, notices, 2)
	for i, n := range notices {
		require.Equal(t, "warn", n["level"])
		require.Equal(t, batteryChargePercent, n["query"])
		require.Equal(t, float64(i+1), n["attempt"])
		require.Equal(t, float64(30000), n["retry_in"])
		require.Contains(t, n["error"], "malformed control tool response")
	}
}

func TestTelemetry_RetryDelays(t *testing.T) {
	fake := &FakeControl{}
	fake.Script(batteryChargePercent, "garbage", "battery_charge_percent:80\n")
	fake.Script(ecSystemPowerState, "garbage", "ec_system_powerstate:G3\n")
	timer := &retry.FakeTimer{}

	tm := NewTelemetry(zerolog.Nop(), fake, WithRetryTimer(timer), WithRetryDelays(5*time.Second, time.Second))
	_, err := tm.BatteryPercent(context.Background())
	require.NoError(t, err)
	_, err = tm.PowerState(context.Background())
	require.NoError(t, err)

	require.Equal(t, []time.Duration{5 * time.Second, time.Second}, timer.Durations)
}

func TestTelemetry_BatteryPercent_QueryFailureIsTransient(t *testing.T) {
	fake := &FakeControl{QueryErr: errors.New("dut-control battery_charge_percent failed: exit status 1")}

	tm := NewTelemetry(zerolog.Nop(), fake, WithRetryTimer(&retry.FakeTimer{}), WithMaxAttempts(5))
	_, err := tm.BatteryPercent(context.Background())

	require.ErrorIs(t, err, retry.ErrExhausted)
	require.Len(t, fake.Calls, 5)
}

func TestTelemetry_BatteryPercent_LaunchFailureIsFatal(t *testing.T) {
	fake := &FakeControl{QueryErr: fmt.Errorf("%w dut-control: not found", ErrLaunch)}
	timer := &retry.FakeTimer{}

	tm := NewTelemetry(zerolog.Nop(), fake, WithRetryTimer(timer))
	_, err := tm.BatteryPercent(context.Background())

	require.ErrorIs(t, err, ErrLaunch)
	require.Len(t, fake.Calls, 1)
	require.Empty(t, timer.Durations)
}

func TestTelemetry_PowerState_RetriesMalformed(t *testing.T) {
	fake := &FakeControl{}
	fake.Script(ecSystemPowerState, "\n", "ec_system_powerstate:G3\n")
	timer := &retry.FakeTimer{}

	tm := NewTelemetry(zerolog.Nop(), fake, WithRetryTimer(timer))
	got, err := tm.PowerState(context.Background())

	require.NoError(t, err)
	require.Equal(t, StateOff, got)
	require.Equal(t, []time.Duration{10 * time.Second}, timer.Durations)
}

func TestTelemetry_PowerState_ProtocolViolation(t *testing.T) {
	fake := &FakeControl{}
	fake.Script(ecSystemPowerState, "ec_system_powerstate:X\n")
	timer := &retry.FakeTimer{}

	tm := NewTelemetry(zerolog.Nop(), fake, WithRetryTimer(timer))
	_, err := tm.PowerState(context.Background())

	require.ErrorIs(t, err, ErrProtocolViolation)
	require.Equal(t, []string{ecSystemPowerState}, fake.Calls)
	require.Empty(t, timer.Durations)
}

func TestTelemetry_ReadsAreNotCached(t *testing.T) {
	dut := &FakeDUT{Battery: 40, ExternalPower: true, ChargeRate: 5}
	tm := NewTelemetry(zerolog.Nop(), dut)

	first, err := tm.BatteryPercent(context.Background())
	require.NoError(t, err)
	second, err := tm.BatteryPercent(context.Background())
	require.NoError(t, err)

	require.Equal(t, 40, first)
	require.Equal(t, 45, second)
	require.Equal(t, 2, dut.Count(batteryChargePercent))
}
