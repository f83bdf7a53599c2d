// Package runstate persists a small state file describing the active
// session, so client commands can find the status API of a running
// instance. The file is written when a session reaches Running and removed
// by session cleanup.
package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dbgwatch/dbgwatch/internal/domain"
)

const (
	// DirName is the directory storing runtime state, under the user home
	DirName = ".dbgwatch"
	// FileName is the name of the state file
	FileName = "dbgwatch.state"
)

// State holds the runtime state of a running dbgwatch session.
//
// State is not safe for concurrent use. In typical usage the session
// writes it once at startup and clients read it, so concurrent access is
// not expected.
type State struct {
	PID          int       `json:"pid"`
	CollectorPID int       `json:"collector_pid"`
	LogFile      string    `json:"log_file"`
	Host         string    `json:"host"`
	Port         int       `json:"port"`
	StartedAt    time.Time `json:"started_at"`
}

// Dir returns the state directory, defaulting under the user home
// directory with a relative fallback when home is unknown.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DirName
	}
	return filepath.Join(home, DirName)
}

// Path returns the full path to the state file in dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Write writes the state file into dir, creating the directory if needed.
func (s *State) Write(dir string) error {
	if s.PID <= 0 {
		return fmt.Errorf("invalid PID: %d", s.PID)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	f, err := os.OpenFile(Path(dir), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("opening state file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing state file: %w", err)
	}

	return nil
}

// Load reads the state file from dir.
func Load(dir string) (*State, error) {
	data, err := os.ReadFile(Path(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrStateNotFound
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshaling state: %w", err)
	}

	return &state, nil
}

// Remove deletes the state file from dir. Removing an absent file is a no-op.
func Remove(dir string) error {
	if err := os.Remove(Path(dir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing state file: %w", err)
	}
	return nil
}
