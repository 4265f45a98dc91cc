package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const AppName = "pwrtest"

type App struct {
	logger zerolog.Logger
	stdout io.Writer
	cli    *cli.App
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		stdout: os.Stdout,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Run power tests on a DUT while keeping its battery charged",
			// ssh options may contain commas
			DisableSliceFlagSeparator: true,
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "verbose",
					Usage: "Enable verbose (debug) logging",
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "run",
		Usage:  "Run tests, charging the DUT between them",
		Action: app.runSession,
		Flags:  runFlags(),
		Description: `Runs every test in --tests in order. Before each test the battery is
checked: below --charge_from the DUT is powered off and charged from the
servo until it reaches --charge_to, then powered on again.

The output of the n-th test is written to
<out_dir>/test_no_<n>__<test>__<ip>.

Examples:
  pwrtest run -f 30 -t 50 -a ~/trunk/src/third_party/autotest/files \
    --board caroline --ip 192.168.1.20 -o /tmp/results \
    --tests power_Idle,power_LoadTest`,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "history",
		Usage:  "List previous sessions recorded with --record-history",
		Action: app.history,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "out_dir",
				Aliases:  []string{"o"},
				Usage:    "Output directory the sessions were recorded in",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of results (default: 20)",
				Value:   20,
			},
		},
	})

	return app
}

// RunContext parses args and runs the selected command. Canceling ctx
// aborts a running session.
func (a *App) RunContext(ctx context.Context, args []string) error {
	return a.cli.RunContext(ctx, args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && len(commit) >= 8 {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}
