// Package session drives a power test session: a charge check before
// every test, the test itself, then its output archived to disk.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/pwrtest/pwrtest/charge"
	"github.com/pwrtest/pwrtest/model"
	"github.com/pwrtest/pwrtest/testrun"
)

// Charger keeps the battery inside the charge band.
type Charger interface {
	EnsureCharged(ctx context.Context, from, to int) (charge.Cycle, error)
}

// TestRunner runs a single test.
type TestRunner interface {
	Run(ctx context.Context, name string) (testrun.Output, error)
}

// BatteryReader reads the battery charge after a test.
type BatteryReader interface {
	BatteryPercent(ctx context.Context) (int, error)
}

type Driver struct {
	logger   zerolog.Logger
	cfg      model.Config
	charger  Charger
	runner   TestRunner
	reporter Reporter
	battery  BatteryReader
	now      func() time.Time
}

type Option func(*Driver)

// WithReporter sets the reporter receiving session progress.
func WithReporter(r Reporter) Option {
	return func(d *Driver) {
		if r != nil {
			d.reporter = r
		}
	}
}

// WithBatteryReport reads the battery level after every test and
// reports it along with the result.
func WithBatteryReport(b BatteryReader) Option {
	return func(d *Driver) {
		d.battery = b
	}
}

// WithClock replaces time.Now for elapsed time measurement.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		d.now = now
	}
}

// NewDriver returns a Driver for the session described by cfg. cfg must
// have been validated.
func NewDriver(logger zerolog.Logger, cfg model.Config, c Charger, r TestRunner, opts ...Option) *Driver {
	d := &Driver{
		logger:   logger,
		cfg:      cfg,
		charger:  c,
		runner:   r,
		reporter: Reporters{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes every configured test in order. The first error aborts
// the session; output of tests that already finished stays on disk.
func (d *Driver) Run(ctx context.Context) error {
	started := d.now()
	err := d.run(ctx)
	d.reporter.SessionFinished(d.now().Sub(started), err)
	return err
}

func (d *Driver) run(ctx context.Context) error {
	for i, name := range d.cfg.Tests {
		if err := d.runTest(ctx, i+1, name); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) runTest(ctx context.Context, index int, name string) error {
	logger := d.logger.With().Int("index", index).Str("test", name).Logger()

	cycle, err := d.charger.EnsureCharged(ctx, d.cfg.ChargeFrom, d.cfg.ChargeTo)
	if err != nil {
		return fmt.Errorf("charge check before test %s: %w", name, err)
	}

	d.reporter.TestStarted(index, len(d.cfg.Tests), name)

	started := d.now()
	out, err := d.runner.Run(ctx, name)
	elapsed := d.now().Sub(started)
	if err != nil {
		return fmt.Errorf("failed to run test %s: %w", name, err)
	}

	path := ResultPath(d.cfg.OutDir, index, name, d.cfg.DUTAddress)
	if err := os.WriteFile(path, []byte(out.Text), 0644); err != nil {
		return fmt.Errorf("failed to save result of test %s to %s: %w", name, path, err)
	}
	logger.Debug().Str("file", path).Int("bytes", len(out.Text)).Msg("Saved test output")

	result := model.TestResult{
		Name:     name,
		Index:    index,
		Output:   out.Text,
		Elapsed:  elapsed,
		ExitCode: out.ExitCode,
		File:     path,
		Charge: &model.ChargeRecord{
			StartPercent: cycle.StartPercent,
			EndPercent:   cycle.EndPercent,
			Charged:      cycle.Charged,
			Duration:     cycle.Duration,
		},
	}

	if d.battery != nil {
		percent, err := d.battery.BatteryPercent(ctx)
		if err != nil {
			return fmt.Errorf("battery report after test %s: %w", name, err)
		}
		result.BatteryAfter = &percent
	}

	d.reporter.TestFinished(result)
	return nil
}

// ResultPath returns where the output of the index-th test is stored.
func ResultPath(outDir string, index int, name, dutAddress string) string {
	return filepath.Join(outDir, model.OutputFileName(index, name, dutAddress))
}

// FormatElapsed renders d in seconds below a minute, in minutes below an
// hour and in hours above, with two decimals.
func FormatElapsed(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.2fm", d.Minutes())
	default:
		return fmt.Sprintf("%.2fh", d.Hours())
	}
}
