package domain

import (
	"fmt"
	"sort"
	"strings"
)

// ProfileTable maps a profile key to the default process names it watches.
// The table is built once at process start and injected where needed;
// it is not mutated at runtime.
type ProfileTable map[string][]string

// DefaultProfiles returns the built-in profile table.
func DefaultProfiles() ProfileTable {
	return ProfileTable{
		"iis": {"w3wp"},
	}
}

// Lookup returns the process names for a profile key. Keys are
// case-insensitive. Returns ErrUnknownProfile for keys not in the table.
func (t ProfileTable) Lookup(key string) ([]string, error) {
	names, ok := t[strings.ToLower(key)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownProfile, key, strings.Join(t.Keys(), ", "))
	}
	// Copy so callers can't mutate the table through the slice.
	out := make([]string, len(names))
	copy(out, names)
	return out, nil
}

// Keys returns the profile keys in sorted order.
func (t ProfileTable) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
