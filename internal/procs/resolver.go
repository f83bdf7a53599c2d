// Package procs resolves symbolic process names to live process identifiers
// by scanning the proc filesystem. Resolution is read-only and point-in-time:
// a process that restarts after resolution keeps its old PID in the result.
package procs

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Resolver looks up live processes by name.
type Resolver struct {
	// ProcRoot is the proc filesystem mount point. Overridable for tests.
	ProcRoot string
	// self is excluded from all results
	self int
}

// NewResolver creates a resolver over the real proc filesystem.
func NewResolver() *Resolver {
	return &Resolver{ProcRoot: "/proc", self: os.Getpid()}
}

// PIDsByName returns the PIDs of all live processes whose comm or exe
// basename equals name. The match is case-sensitive, like pidof.
func (r *Resolver) PIDsByName(name string) ([]int, error) {
	if name == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(r.ProcRoot)
	if err != nil {
		return nil, err
	}

	var pids []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid <= 0 {
			continue // not a PID dir
		}
		if pid == r.self {
			continue
		}

		comm, _ := os.ReadFile(filepath.Join(r.ProcRoot, e.Name(), "comm"))
		if strings.TrimSpace(string(comm)) == name {
			pids = append(pids, pid)
			continue
		}

		// exe may be unreadable for zombies or due to permissions
		exe, _ := os.Readlink(filepath.Join(r.ProcRoot, e.Name(), "exe"))
		if exe != "" && filepath.Base(exe) == name {
			pids = append(pids, pid)
		}
	}

	sort.Ints(pids)
	return pids, nil
}

// Resolve maps a list of process names (duplicates allowed) to the sorted
// set of PIDs currently owned by processes with any of those names. Names
// that match nothing are returned in unmatched; they never fail resolution.
func (r *Resolver) Resolve(names []string) (pids []int, unmatched []string, err error) {
	seen := make(map[string]bool)
	pidSet := make(map[int]bool)

	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		found, err := r.PIDsByName(name)
		if err != nil {
			return nil, nil, err
		}
		if len(found) == 0 {
			unmatched = append(unmatched, name)
			continue
		}
		for _, pid := range found {
			pidSet[pid] = true
		}
	}

	pids = make([]int, 0, len(pidSet))
	for pid := range pidSet {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids, unmatched, nil
}
