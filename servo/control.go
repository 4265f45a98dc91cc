// Package servo talks to the DUT's servo board through the dut-control
// tool: it reads battery and power telemetry and drives the power button
// and the servo_v4 power role.
package servo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"
)

// DefaultBinary is the control tool invoked when no other is configured.
const DefaultBinary = "dut-control"

// ErrLaunch reports that the control tool could not be started at all.
var ErrLaunch = errors.New("failed to launch control tool")

// Querier runs a control command to completion and returns its stdout.
type Querier interface {
	Query(ctx context.Context, arg string) (string, error)
}

// Launcher starts a control command without waiting for it to finish.
type Launcher interface {
	Launch(ctx context.Context, arg string) error
}

// Control is both capabilities of the control tool.
type Control interface {
	Querier
	Launcher
}

// Command runs the control tool on the local machine.
type Command struct {
	logger zerolog.Logger
	binary string
}

// NewCommand returns a Command that invokes binary.
func NewCommand(logger zerolog.Logger, binary string) *Command {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Command{
		logger: logger,
		binary: binary,
	}
}

// Query runs the control tool with arg and returns its stdout.
func (c *Command) Query(ctx context.Context, arg string) (string, error) {
	cmd := exec.CommandContext(ctx, c.binary, arg)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug().
		Str("command", shellescape.QuoteCommand(cmd.Args)).
		Msg("Querying control tool")

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w %s: %w", ErrLaunch, c.binary, err)
	}
	if err := cmd.Wait(); err != nil {
		return stdout.String(), fmt.Errorf("%s %s failed: %w (stderr: %s)", c.binary, arg, err, stderr.String())
	}

	return stdout.String(), nil
}

// Launch starts the control tool with arg and returns once it is running.
// The process is reaped in the background; its exit status is only logged.
func (c *Command) Launch(_ context.Context, arg string) error {
	cmd := exec.Command(c.binary, arg)

	c.logger.Debug().
		Str("command", shellescape.QuoteCommand(cmd.Args)).
		Msg("Launching control command")

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w %s: %w", ErrLaunch, c.binary, err)
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			c.logger.Debug().Err(err).Str("arg", arg).Msg("Control command exited with error")
		}
	}()

	return nil
}

// Shell runs command lines on a remote servo host.
type Shell interface {
	RunCommand(ctx context.Context, command string) (string, error)
	StartCommand(command string) error
	Host() string
}

// RemoteCommand runs the control tool on a servo host through a Shell.
type RemoteCommand struct {
	logger zerolog.Logger
	shell  Shell
	binary string
}

// NewRemoteCommand returns a RemoteCommand that invokes binary through shell.
func NewRemoteCommand(logger zerolog.Logger, shell Shell, binary string) *RemoteCommand {
	if binary == "" {
		binary = DefaultBinary
	}
	return &RemoteCommand{
		logger: logger,
		shell:  shell,
		binary: binary,
	}
}

// Query runs the control tool on the servo host and returns its stdout.
func (c *RemoteCommand) Query(ctx context.Context, arg string) (string, error) {
	line := shellescape.QuoteCommand([]string{c.binary, arg})

	c.logger.Debug().
		Str("host", c.shell.Host()).
		Str("command", line).
		Msg("Querying remote control tool")

	out, err := c.shell.RunCommand(ctx, line)
	if err != nil {
		if isLaunchFailure(err) {
			return "", fmt.Errorf("%w %s on %s: %w", ErrLaunch, c.binary, c.shell.Host(), err)
		}
		return out, err
	}
	return out, nil
}

// Launch starts the control tool on the servo host without waiting for it.
func (c *RemoteCommand) Launch(_ context.Context, arg string) error {
	line := shellescape.QuoteCommand([]string{c.binary, arg})

	c.logger.Debug().
		Str("host", c.shell.Host()).
		Str("command", line).
		Msg("Launching remote control command")

	if err := c.shell.StartCommand(line); err != nil {
		return fmt.Errorf("%w %s on %s: %w", ErrLaunch, c.binary, c.shell.Host(), err)
	}
	return nil
}

// isLaunchFailure reports whether err means the command never ran: the
// local binary is missing or the remote shell could not find it (127).
func isLaunchFailure(err error) bool {
	var execErr *exec.Error
	if errors.As(err, &execErr) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 127 {
		return true
	}
	return false
}
