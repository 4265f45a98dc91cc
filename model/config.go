package model

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
)

// Config is the configuration of one session. It is built once from the
// command line and not modified after Validate succeeds.
type Config struct {
	// Tests to run, in order.
	Tests []string
	// ChargeFrom is the battery level below which the DUT is charged.
	ChargeFrom int
	// ChargeTo is the battery level a charge cycle stops at.
	ChargeTo int
	// Board name passed to the test tool, e.g. "caroline".
	Board string
	// DUTAddress is the IP address of the DUT.
	DUTAddress string
	// AutotestDir is the autotest checkout passed to the test tool.
	AutotestDir string
	// OutDir receives one output file per test.
	OutDir string
}

// FieldError is a validation problem with one configuration field.
type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// ParseTests splits a comma separated list of test names. Surrounding
// whitespace is dropped, empty entries are kept so Validate can report them.
func ParseTests(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Validate reports every invalid field of c at once.
func (c Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &FieldError{Field: field, Msg: fmt.Sprintf(format, args...)})
	}

	if len(c.Tests) == 0 {
		add("tests", "at least one test name is required")
	}
	for i, name := range c.Tests {
		switch {
		case name == "":
			add("tests", "entry %d is empty", i+1)
		case strings.ContainsAny(name, `/\`):
			add("tests", "%q must not contain path separators", name)
		}
	}

	fromOK := validPercent(c.ChargeFrom)
	toOK := validPercent(c.ChargeTo)
	if !fromOK {
		add("charge_from", "%d must range from 0 to 100", c.ChargeFrom)
	}
	if !toOK {
		add("charge_to", "%d must range from 0 to 100", c.ChargeTo)
	}
	if fromOK && toOK && c.ChargeFrom > c.ChargeTo {
		add("charge_to", "%d must not be below charge_from (%d)", c.ChargeTo, c.ChargeFrom)
	}

	if strings.TrimSpace(c.Board) == "" {
		add("board", "board name is required")
	}

	if _, err := netip.ParseAddr(c.DUTAddress); err != nil {
		add("ip", "%q is not a valid IP address", c.DUTAddress)
	}

	if msg := checkDir(c.AutotestDir); msg != "" {
		add("autotest_dir", "%s", msg)
	}
	if msg := checkDir(c.OutDir); msg != "" {
		add("out_dir", "%s", msg)
	}

	return errors.Join(errs...)
}

func validPercent(v int) bool {
	return v >= 0 && v <= 100
}

func checkDir(path string) string {
	if path == "" {
		return "path is required"
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("%s does not exist", path)
		}
		return fmt.Sprintf("%s: %v", path, err)
	}
	if !info.IsDir() {
		return fmt.Sprintf("%s is not a directory", path)
	}
	return ""
}
