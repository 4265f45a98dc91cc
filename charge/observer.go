package charge

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Observer is notified while a charge cycle runs. It never influences the
// charge decisions.
type Observer interface {
	ChargeStarted(current, from, to int)
	ChargeProgress(current, to int)
	ChargeFinished(current, to int)
}

// Observers notifies every observer in order.
type Observers []Observer

func (o Observers) ChargeStarted(current, from, to int) {
	for _, obs := range o {
		obs.ChargeStarted(current, from, to)
	}
}

func (o Observers) ChargeProgress(current, to int) {
	for _, obs := range o {
		obs.ChargeProgress(current, to)
	}
}

func (o Observers) ChargeFinished(current, to int) {
	for _, obs := range o {
		obs.ChargeFinished(current, to)
	}
}

const progressWidth = 40

// ProgressBar renders a charge cycle on a terminal. The bar only moves
// forward: a reading lower than the best one seen so far is ignored.
type ProgressBar struct {
	out    io.Writer
	start  int
	target int
	pos    int
}

// NewProgressBar returns a ProgressBar writing to out.
func NewProgressBar(out io.Writer) *ProgressBar {
	return &ProgressBar{out: out}
}

func (b *ProgressBar) ChargeStarted(current, from, to int) {
	color.New(color.FgYellow).Fprintf(b.out, "below %d%%! charging from %d to %d…\n", from, current, to)
	b.start = current
	b.target = to
	b.pos = current
	b.render()
}

func (b *ProgressBar) ChargeProgress(current, _ int) {
	if current > b.pos {
		b.pos = min(current, b.target)
	}
	b.render()
}

func (b *ProgressBar) ChargeFinished(_, _ int) {
	b.pos = b.target
	b.render()
	fmt.Fprintln(b.out)
}

func (b *ProgressBar) render() {
	filled := progressWidth
	if span := b.target - b.start; span > 0 {
		filled = (b.pos - b.start) * progressWidth / span
	}
	bar := strings.Repeat("#", filled) + strings.Repeat("-", progressWidth-filled)
	fmt.Fprintf(b.out, "\r[%s] %3d%% / %d%%", bar, b.pos, b.target)
}
