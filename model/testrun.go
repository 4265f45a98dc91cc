package model

import (
	"fmt"
	"time"
)

// TestResult is the outcome of one test invocation. It lives only until
// the session has written and reported it.
type TestResult struct {
	// Name of the test
	Name string
	// Position in the session, starting at 1
	Index int
	// Captured standard output of the test tool
	Output string
	// Wall time of the test tool invocation
	Elapsed time.Duration
	// Exit code of the test tool
	ExitCode int
	// Path the output was written to
	File string
	// Charge check that preceded the test
	Charge *ChargeRecord
	// Battery level read after the test, if requested
	BatteryAfter *int
}

// OutputFileName returns the name of the file holding the output of the
// index-th test: test_no_<index>__<name>__<dutAddress>.
func OutputFileName(index int, name, dutAddress string) string {
	return fmt.Sprintf("test_no_%d__%s__%s", index, name, dutAddress)
}
