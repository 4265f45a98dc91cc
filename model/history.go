package model

import "time"

// Session is the manifest of one pwrtest run, written to the history
// directory when history recording is enabled.
type Session struct {
	// Unique ID for this session (random UUID, hex encoded)
	ID string `json:"id"`
	// Timestamp when the session started
	Timestamp time.Time `json:"timestamp"`
	// Command-line arguments (including command name)
	Args []string `json:"args"`
	// Board name
	Board string `json:"board"`
	// DUT IP address
	DUTAddress string `json:"dut_address"`
	// Servo host running the control tool, empty when local
	ServoHost string `json:"servo_host,omitempty"`
	// Charge band maintained between tests
	ChargeFrom int `json:"charge_from"`
	ChargeTo   int `json:"charge_to"`
	// Autotest checkout information
	Autotest *Git `json:"autotest,omitempty"`
	// Tests completed so far, in order
	Tests []TestRecord `json:"tests,omitempty"`
	// Duration of the whole session
	Duration time.Duration `json:"duration"`
	// Exit code of the session
	ExitCode int `json:"exit_code"`
	// Error that aborted the session
	Error string `json:"error,omitempty"`
}

// Git contains git repository information
type Git struct {
	// Checkout directory
	Dir string `json:"dir"`
	// Git commit hash at time of execution
	Commit string `json:"commit,omitempty"`
	// Git branch at time of execution
	Branch string `json:"branch,omitempty"`
}

// TestRecord is the manifest entry of one test.
type TestRecord struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	// Exit code of the test tool
	ExitCode int `json:"exit_code"`
	// Duration of the test tool invocation
	Duration time.Duration `json:"duration"`
	// Output file, relative to the output directory
	File string `json:"file"`
	Size uint64 `json:"size"`
	// Charge check that preceded the test
	Charge *ChargeRecord `json:"charge,omitempty"`
	// Battery level read after the test, if requested
	BatteryAfter *int `json:"battery_after,omitempty"`
}

// ChargeRecord describes the charge check before a test.
type ChargeRecord struct {
	StartPercent int           `json:"start_percent"`
	EndPercent   int           `json:"end_percent"`
	Charged      bool          `json:"charged"`
	Duration     time.Duration `json:"duration"`
}
