package domain

import (
	"fmt"
	"strings"
	"time"
)

// SessionState represents the current state of a session.
// A session moves through these states in one direction only;
// a Closed session cannot be reused.
type SessionState string

const (
	// SessionCreated indicates the session exists but the collector has not started
	SessionCreated SessionState = "created"
	// SessionRunning indicates the collector is up and tailing is active
	SessionRunning SessionState = "running"
	// SessionTerminating indicates cleanup is in progress
	SessionTerminating SessionState = "terminating"
	// SessionClosed indicates the session is finished and all artifacts are released
	SessionClosed SessionState = "closed"
)

// String returns the string representation of SessionState
func (s SessionState) String() string {
	return string(s)
}

// FilterSpec is the fully-resolved filter configuration for one session.
// It is built once before tailing starts and is immutable thereafter.
type FilterSpec struct {
	PIDs    []int  // Resolved process identifiers; a line must contain one of them bracketed
	Pattern string // Free-text pattern; substring match unless IsRegex
	IsRegex bool
}

// IsPassthrough returns true if no filter criteria are set, in which
// case every line is emitted.
func (s FilterSpec) IsPassthrough() bool {
	return len(s.PIDs) == 0 && s.Pattern == ""
}

// Describe returns a human-readable summary of the active filter
// for operator-facing status output.
func (s FilterSpec) Describe() string {
	if s.IsPassthrough() {
		return "pass-through (no filter)"
	}

	var parts []string
	if len(s.PIDs) > 0 {
		toks := make([]string, len(s.PIDs))
		for i, pid := range s.PIDs {
			toks[i] = fmt.Sprintf("[%d]", pid)
		}
		parts = append(parts, "pid "+strings.Join(toks, " "))
	}
	if s.Pattern != "" {
		if s.IsRegex {
			parts = append(parts, fmt.Sprintf("regex %q", s.Pattern))
		} else {
			parts = append(parts, fmt.Sprintf("text %q", s.Pattern))
		}
	}
	return strings.Join(parts, " and ")
}

// LogLine is a single line produced by the collector, stamped when it
// was read off the tail stream. Lines are ephemeral; nothing outlives
// the session's log file.
type LogLine struct {
	Timestamp time.Time
	Text      string
}
