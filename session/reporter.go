package session

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/pwrtest/pwrtest/model"
)

// Reporter is told about session progress. Reporters cannot fail the
// session.
type Reporter interface {
	TestStarted(index, total int, name string)
	TestFinished(r model.TestResult)
	SessionFinished(elapsed time.Duration, err error)
}

// Reporters notifies every reporter in order.
type Reporters []Reporter

func (rs Reporters) TestStarted(index, total int, name string) {
	for _, r := range rs {
		r.TestStarted(index, total, name)
	}
}

func (rs Reporters) TestFinished(res model.TestResult) {
	for _, r := range rs {
		r.TestFinished(res)
	}
}

func (rs Reporters) SessionFinished(elapsed time.Duration, err error) {
	for _, r := range rs {
		r.SessionFinished(elapsed, err)
	}
}

// Console prints session progress for a human watching the terminal.
type Console struct {
	out io.Writer
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) TestStarted(index, total int, name string) {
	fmt.Fprintf(c.out, "running test %s… (%d/%d)\n", color.CyanString(name), index, total)
}

func (c *Console) TestFinished(r model.TestResult) {
	status := color.GreenString("ok")
	if r.ExitCode != 0 {
		status = color.RedString("exit %d", r.ExitCode)
	}
	fmt.Fprintf(c.out, "test %s took %s [%s]\n", r.Name, FormatElapsed(r.Elapsed), status)
	if r.BatteryAfter != nil {
		fmt.Fprintf(c.out, "battery: %d%%\n", *r.BatteryAfter)
	}
}

func (c *Console) SessionFinished(elapsed time.Duration, err error) {
	if err != nil {
		fmt.Fprintf(c.out, "%s after %s\n", color.RedString("session aborted"), FormatElapsed(elapsed))
		return
	}
	fmt.Fprintf(c.out, "all tests done in %s\n", FormatElapsed(elapsed))
}
