package history

// This file contains shared history utilities for recording, loading and
// parsing session manifests.

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pwrtest/pwrtest/model"
)

const manifestName = "session.json"

type Entry struct {
	Session  model.Session
	FullPath string
}

// Root returns the history directory kept inside an output directory.
func Root(outDir string) string {
	return filepath.Join(outDir, ".pwrtest", "history")
}

// NewID returns a random session ID: a version 4 UUID without dashes.
func NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

// ShortID returns the first 8 characters of a session ID.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RunDir returns the directory holding the manifest of s:
// <root>/<timestamp>-<board>-<short id>.
func RunDir(root string, s *model.Session) string {
	name := fmt.Sprintf("%s-%s-%s", s.Timestamp.Format("20060102-150405"), s.Board, ShortID(s.ID))
	return filepath.Join(root, name)
}

// Save writes the manifest of s, replacing an earlier version of it, and
// returns the run directory.
func Save(root string, s *model.Session) (string, error) {
	runDir := RunDir(root, s)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	tmp := filepath.Join(runDir, manifestName+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write session manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(runDir, manifestName)); err != nil {
		return "", fmt.Errorf("failed to write session manifest: %w", err)
	}
	return runDir, nil
}

// LoadEntries loads all session manifests below root, newest first.
// Manifests that cannot be parsed are logged and skipped.
func LoadEntries(logger zerolog.Logger, root string) ([]Entry, error) {
	var entries []Entry

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			manifestPath := filepath.Join(path, manifestName)
			if _, err := os.Stat(manifestPath); err == nil {
				session, err := parseManifest(manifestPath)
				if err != nil {
					logger.Warn().Err(err).Str("path", manifestPath).Msg("Failed to parse session.json")
					return nil
				}

				entries = append(entries, Entry{
					Session:  session,
					FullPath: path,
				})
			}
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk history directory: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Session.Timestamp.After(entries[j].Session.Timestamp)
	})

	return entries, nil
}

func parseManifest(path string) (model.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Session{}, err
	}

	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return model.Session{}, err
	}

	return session, nil
}
