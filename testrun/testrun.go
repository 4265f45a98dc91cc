// Package testrun invokes the autotest test tool for a single test and
// captures what it prints.
package testrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"unicode/utf8"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"
)

const DefaultBinary = "test_that"

var (
	// ErrLaunch is returned when the test tool cannot be started.
	ErrLaunch = errors.New("failed to launch test tool")
	// ErrInvalidOutput is returned when the test tool prints non UTF-8 text.
	ErrInvalidOutput = errors.New("test output is not valid UTF-8")
)

// Output is what one invocation of the test tool produced.
type Output struct {
	// Captured standard output
	Text string
	// Exit code of the test tool, 0 on success
	ExitCode int
}

type Runner struct {
	logger      zerolog.Logger
	binary      string
	board       string
	autotestDir string
	dutAddress  string
	stdout      io.Writer
	stderr      io.Writer
}

type Option func(*Runner)

// WithEcho copies the test tool's output streams to stdout and stderr
// while they are captured.
func WithEcho(stdout, stderr io.Writer) Option {
	return func(r *Runner) {
		r.stdout = stdout
		r.stderr = stderr
	}
}

// NewRunner returns a Runner invoking binary (DefaultBinary when empty)
// against the DUT at dutAddress.
func NewRunner(logger zerolog.Logger, binary, board, autotestDir, dutAddress string, opts ...Option) *Runner {
	if binary == "" {
		binary = DefaultBinary
	}
	r := &Runner{
		logger:      logger,
		binary:      binary,
		board:       board,
		autotestDir: autotestDir,
		dutAddress:  dutAddress,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Args returns the arguments passed to the test tool for test name.
func (r *Runner) Args(name string) []string {
	return []string{
		"--board=" + r.board,
		"--autotest_dir=" + r.autotestDir,
		r.dutAddress,
		name,
	}
}

// Run executes test name and waits for it to finish. A non-zero exit
// status is reported in Output.ExitCode, not as an error.
func (r *Runner) Run(ctx context.Context, name string) (Output, error) {
	args := r.Args(name)
	r.logger.Debug().
		Str("command", shellescape.QuoteCommand(append([]string{r.binary}, args...))).
		Msg("Starting test")

	cmd := exec.CommandContext(ctx, r.binary, args...)

	var stdoutBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	if r.stdout != nil {
		cmd.Stdout = io.MultiWriter(r.stdout, &stdoutBuf)
	}
	if r.stderr != nil {
		cmd.Stderr = r.stderr
	}

	if err := cmd.Start(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Output{}, fmt.Errorf("test %s interrupted: %w", name, ctxErr)
		}
		return Output{}, fmt.Errorf("%w %s: %w", ErrLaunch, r.binary, err)
	}

	out := Output{}
	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Output{}, fmt.Errorf("test %s interrupted: %w", name, ctxErr)
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Output{}, fmt.Errorf("failed to run test %s: %w", name, err)
		}
		out.ExitCode = exitErr.ExitCode()
		r.logger.Warn().
			Str("test", name).
			Int("exit_code", out.ExitCode).
			Msg("Test tool exited with failure")
	}

	if !utf8.Valid(stdoutBuf.Bytes()) {
		return Output{}, fmt.Errorf("test %s: %w", name, ErrInvalidOutput)
	}
	out.Text = stdoutBuf.String()
	return out, nil
}
