package history

import (
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/pwrtest/pwrtest/model"
)

// Recorder keeps the manifest of a running session up to date. The
// manifest is rewritten after every test, so an aborted session still
// leaves a record of the tests it completed.
type Recorder struct {
	logger  zerolog.Logger
	root    string
	outDir  string
	session *model.Session
	runDir  string
}

// NewRecorder writes the initial manifest of s below root. outDir is the
// directory test output is written to.
func NewRecorder(logger zerolog.Logger, root, outDir string, s *model.Session) (*Recorder, error) {
	r := &Recorder{
		logger:  logger,
		root:    root,
		outDir:  outDir,
		session: s,
	}
	runDir, err := Save(root, s)
	if err != nil {
		return nil, err
	}
	r.runDir = runDir
	logger.Debug().Str("dir", runDir).Str("id", s.ID).Msg("Recording session")
	return r, nil
}

// Dir returns the run directory of the recorded session.
func (r *Recorder) Dir() string {
	return r.runDir
}

func (r *Recorder) TestStarted(index, total int, name string) {}

func (r *Recorder) TestFinished(res model.TestResult) {
	file := res.File
	if rel, err := filepath.Rel(r.outDir, res.File); err == nil {
		file = rel
	}
	r.session.Tests = append(r.session.Tests, model.TestRecord{
		Index:        res.Index,
		Name:         res.Name,
		ExitCode:     res.ExitCode,
		Duration:     res.Elapsed,
		File:         file,
		Size:         uint64(len(res.Output)),
		Charge:       res.Charge,
		BatteryAfter: res.BatteryAfter,
	})
	r.save()
}

func (r *Recorder) SessionFinished(elapsed time.Duration, err error) {
	r.session.Duration = elapsed
	if err != nil {
		r.session.ExitCode = 1
		r.session.Error = err.Error()
	}
	r.save()
	r.logger.Debug().Str("dir", r.runDir).Str("id", r.session.ID).Msg("Recorded session")
}

func (r *Recorder) save() {
	if _, err := Save(r.root, r.session); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to update session manifest")
	}
}
