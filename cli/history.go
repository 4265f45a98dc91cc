package cli

// This file contains the history command for displaying previous sessions.

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/pwrtest/pwrtest/history"
	"github.com/pwrtest/pwrtest/session"
)

func (a *App) history(ctx *cli.Context) error {
	outDir := ctx.String("out_dir")
	limit := ctx.Int("limit")

	root := history.Root(outDir)

	// Check if the history directory exists
	if _, err := os.Stat(root); os.IsNotExist(err) {
		fmt.Fprintln(a.stdout, "No sessions found")
		fmt.Fprintf(a.stdout, "Sessions are recorded to %s/<timestamp>-<board>-<id>/ with --record-history\n", root)
		return nil
	}

	entries, err := history.LoadEntries(a.logger, root)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	if len(entries) == 0 {
		fmt.Fprintln(a.stdout, "No sessions found")
		return nil
	}

	// Apply limit
	displayRuns := entries
	if limit > 0 && limit < len(displayRuns) {
		displayRuns = displayRuns[:limit]
	}

	fmt.Fprintf(a.stdout, "\n=== History (%d total) ===\n\n", len(entries))

	for _, entry := range displayRuns {
		s := entry.Session
		timestamp := s.Timestamp.Format("2006-01-02 15:04:05")

		// Determine status indicator
		status := color.GreenString("✓")
		if s.ExitCode != 0 {
			status = color.RedString("✗")
		}

		fmt.Fprintf(a.stdout, "%s  %s  [%s]  exit=%d  id=%s\n", status, timestamp, s.Duration.Round(time.Millisecond), s.ExitCode, history.ShortID(s.ID))
		fmt.Fprintf(a.stdout, "   DUT: %s (%s)  charge: %d-%d%%\n", s.DUTAddress, s.Board, s.ChargeFrom, s.ChargeTo)
		if s.ServoHost != "" {
			fmt.Fprintf(a.stdout, "   Servo: %s\n", s.ServoHost)
		}
		if s.Autotest != nil && s.Autotest.Commit != "" {
			shortCommit := s.Autotest.Commit
			if len(shortCommit) > 8 {
				shortCommit = shortCommit[:8]
			}
			fmt.Fprintf(a.stdout, "   Autotest: %s", shortCommit)
			if s.Autotest.Branch != "" {
				fmt.Fprintf(a.stdout, " (%s)", s.Autotest.Branch)
			}
			fmt.Fprintln(a.stdout)
		}
		for _, t := range s.Tests {
			line := fmt.Sprintf("   #%d %s  %s  exit=%d", t.Index, t.Name, session.FormatElapsed(t.Duration), t.ExitCode)
			if t.Charge != nil && t.Charge.Charged {
				line += fmt.Sprintf("  charged %d→%d%%", t.Charge.StartPercent, t.Charge.EndPercent)
			}
			if t.BatteryAfter != nil {
				line += fmt.Sprintf("  battery=%d%%", *t.BatteryAfter)
			}
			fmt.Fprintln(a.stdout, line)
		}
		if s.Error != "" {
			fmt.Fprintf(a.stdout, "   Error: %s\n", s.Error)
		}
		fmt.Fprintf(a.stdout, "   %s\n", entry.FullPath)
		fmt.Fprintln(a.stdout)
	}

	return nil
}
