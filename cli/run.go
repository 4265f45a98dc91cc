package cli

// This file contains the run command: it validates the flags, wires the
// servo, charge, test and reporting components and drives the session.

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pwrtest/pwrtest/charge"
	"github.com/pwrtest/pwrtest/cli/ssh"
	"github.com/pwrtest/pwrtest/history"
	"github.com/pwrtest/pwrtest/model"
	"github.com/pwrtest/pwrtest/publisher"
	"github.com/pwrtest/pwrtest/servo"
	"github.com/pwrtest/pwrtest/session"
	"github.com/pwrtest/pwrtest/testrun"
)

func (a *App) runSession(ctx *cli.Context) error {
	startTime := time.Now()

	cfg := configFromFlags(ctx)
	mqttCfg, mqttErr := mqttConfigFromFlags(ctx, cfg.Board)
	if err := errors.Join(cfg.Validate(), mqttErr); err != nil {
		return fmt.Errorf("invalid arguments:\n%w", err)
	}

	a.logger.Info().
		Strs("tests", cfg.Tests).
		Str("board", cfg.Board).
		Str("ip", cfg.DUTAddress).
		Int("charge_from", cfg.ChargeFrom).
		Int("charge_to", cfg.ChargeTo).
		Msg("Starting session")

	control, closeControl, err := a.newControl(ctx)
	if err != nil {
		return err
	}
	defer closeControl()

	telemetry := servo.NewTelemetry(a.logger, control)
	power := servo.NewPowerController(a.logger, control, telemetry)

	observers := charge.Observers{charge.NewProgressBar(a.stdout)}
	reporters := session.Reporters{session.NewConsole(a.stdout)}

	if mqttCfg.Broker != "" {
		status, closeStatus, err := a.newStatusReporter(mqttCfg, cfg.Board, ctx.String("mqtt-topic-prefix"))
		if err != nil {
			return err
		}
		defer closeStatus()
		observers = append(observers, status)
		reporters = append(reporters, status)
	}

	if ctx.Bool("record-history") {
		recorder, err := a.newRecorder(cfg, ctx.String("servo-host"), startTime)
		if err != nil {
			return err
		}
		reporters = append(reporters, recorder)
	}

	var runnerOpts []testrun.Option
	if ctx.Bool("echo") {
		runnerOpts = append(runnerOpts, testrun.WithEcho(a.stdout, os.Stderr))
	}
	runner := testrun.NewRunner(a.logger, ctx.String("test-that"), cfg.Board, cfg.AutotestDir, cfg.DUTAddress, runnerOpts...)

	manager := charge.NewManager(a.logger, telemetry, power, charge.WithObserver(observers))

	driverOpts := []session.Option{session.WithReporter(reporters)}
	if ctx.Bool("report-battery") {
		driverOpts = append(driverOpts, session.WithBatteryReport(telemetry))
	}
	driver := session.NewDriver(a.logger, cfg, manager, runner, driverOpts...)

	if err := driver.Run(ctx.Context); err != nil {
		a.logger.Error().Err(err).Msg("Session aborted")
		return err
	}

	a.logger.Info().Dur("took", time.Since(startTime)).Msg("Session finished")
	return nil
}

// newControl returns the servo control transport, local or over SSH when
// --servo-host is set, and a function releasing it.
func (a *App) newControl(ctx *cli.Context) (servo.Control, func(), error) {
	binary := ctx.String("dut-control")

	host := ctx.String("servo-host")
	if host == "" {
		return servo.NewCommand(a.logger, binary), func() {}, nil
	}

	a.logger.Info().Str("host", host).Msg("Connecting to servo host")
	client, err := ssh.New(a.logger, host, sshOptionsFromFlags(ctx)...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to servo host %s: %w", host, err)
	}
	return servo.NewRemoteCommand(a.logger, client, binary), client.Close, nil
}

func (a *App) newStatusReporter(cfg publisher.Config, board, prefix string) (*publisher.StatusReporter, func(), error) {
	topics := publisher.Topics{Prefix: prefix, Board: board}

	pub, err := publisher.NewMQTTPublisher(cfg, topics.Status(), publisher.FormatOffline(time.Now()))
	if err != nil {
		return nil, nil, err
	}
	a.logger.Info().Str("broker", cfg.Broker).Str("topic", topics.Status()).Msg("Publishing status over MQTT")

	status := publisher.NewStatusReporter(a.logger, pub, topics)
	status.Online()
	return status, func() {
		status.Offline()
		if err := pub.Close(); err != nil {
			a.logger.Debug().Err(err).Msg("Failed to close MQTT connection")
		}
	}, nil
}

func (a *App) newRecorder(cfg model.Config, servoHost string, startTime time.Time) (*history.Recorder, error) {
	id, err := history.NewID()
	if err != nil {
		return nil, err
	}

	s := &model.Session{
		ID:         id,
		Timestamp:  startTime,
		Args:       os.Args,
		Board:      cfg.Board,
		DUTAddress: cfg.DUTAddress,
		ServoHost:  servoHost,
		ChargeFrom: cfg.ChargeFrom,
		ChargeTo:   cfg.ChargeTo,
		Autotest:   &model.Git{Dir: cfg.AutotestDir},
	}

	// Capture git info (non-fatal if it fails)
	if commit, branch, err := a.getGitInfo(cfg.AutotestDir); err == nil {
		s.Autotest.Commit = commit
		s.Autotest.Branch = branch
	} else {
		a.logger.Debug().Err(err).Str("dir", cfg.AutotestDir).Msg("Autotest checkout is not a git repository")
	}

	recorder, err := history.NewRecorder(a.logger, history.Root(cfg.OutDir), cfg.OutDir, s)
	if err != nil {
		return nil, fmt.Errorf("failed to record session: %w", err)
	}
	return recorder, nil
}
