package servo

import (
	"context"
	"fmt"
)

// FakeControl answers queries from scripted per-argument responses and
// records every query and launch in call order. The last scripted response
// for an argument repeats.
type FakeControl struct {
	Responses map[string][]string
	Calls     []string
	QueryErr  error
	LaunchErr error
}

// Script appends responses for arg.
func (f *FakeControl) Script(arg string, responses ...string) {
	if f.Responses == nil {
		f.Responses = make(map[string][]string)
	}
	f.Responses[arg] = append(f.Responses[arg], responses...)
}

// Query returns the next scripted response for arg.
func (f *FakeControl) Query(_ context.Context, arg string) (string, error) {
	f.Calls = append(f.Calls, arg)
	if f.QueryErr != nil {
		return "", f.QueryErr
	}
	queue := f.Responses[arg]
	if len(queue) == 0 {
		return "", fmt.Errorf("no scripted response for %q", arg)
	}
	if len(queue) > 1 {
		f.Responses[arg] = queue[1:]
	}
	return queue[0], nil
}

// Launch records arg.
func (f *FakeControl) Launch(_ context.Context, arg string) error {
	f.Calls = append(f.Calls, arg)
	return f.LaunchErr
}

// FakeDUT emulates a DUT behind the control tool. Releasing the power
// button toggles the power state. While the servo sources power, every
// battery query adds ChargeRate percent, capped at 100.
type FakeDUT struct {
	Battery       int
	On            bool
	ExternalPower bool
	ChargeRate    int
	// StateCode overrides the reported power state code when set.
	StateCode string
	Calls     []string

	pressed bool
}

// Query answers battery and power state queries.
func (d *FakeDUT) Query(_ context.Context, arg string) (string, error) {
	d.Calls = append(d.Calls, arg)
	switch arg {
	case batteryChargePercent:
		out := fmt.Sprintf("%s:%d\n", batteryChargePercent, d.Battery)
		if d.ExternalPower {
			d.Battery = min(d.Battery+d.ChargeRate, 100)
		}
		return out, nil
	case ecSystemPowerState:
		code := "G3"
		if d.On {
			code = "S0"
		}
		if d.StateCode != "" {
			code = d.StateCode
		}
		return fmt.Sprintf("%s:%s\n", ecSystemPowerState, code), nil
	default:
		return "", fmt.Errorf("unknown query %q", arg)
	}
}

// Launch applies a control command to the emulated device.
func (d *FakeDUT) Launch(_ context.Context, arg string) error {
	d.Calls = append(d.Calls, arg)
	switch arg {
	case pwrButtonPress:
		d.pressed = true
	case pwrButtonRelease:
		if d.pressed {
			d.On = !d.On
		}
		d.pressed = false
	case servoRoleSource:
		d.ExternalPower = true
	case servoRoleSink:
		d.ExternalPower = false
	default:
		return fmt.Errorf("unknown command %q", arg)
	}
	return nil
}

// Count returns how many times arg was queried or launched.
func (d *FakeDUT) Count(arg string) int {
	n := 0
	for _, c := range d.Calls {
		if c == arg {
			n++
		}
	}
	return n
}
