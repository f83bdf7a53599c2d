// Package filter compiles a session's FilterSpec into a single line
// predicate. Compilation happens once per session; Matches is called for
// every tailed line and must stay allocation-free.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dbgwatch/dbgwatch/internal/constants"
	"github.com/dbgwatch/dbgwatch/internal/domain"
)

// Filter applies a compiled FilterSpec to log lines
type Filter struct {
	spec   domain.FilterSpec
	tokens []string // bracketed PID literals, e.g. "[1234]"
	regex  *regexp.Regexp
}

// New compiles a filter from a FilterSpec. An ill-formed regex pattern is
// a configuration error wrapping domain.ErrInvalidPattern.
func New(spec domain.FilterSpec) (*Filter, error) {
	f := &Filter{spec: spec}

	if len(spec.Pattern) > constants.MaxPatternLength {
		return nil, fmt.Errorf("%w: pattern exceeds maximum length of %d characters", domain.ErrInvalidPattern, constants.MaxPatternLength)
	}

	if spec.Pattern != "" && spec.IsRegex {
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPattern, err)
		}
		f.regex = re
	}

	// The collector renders PIDs as bracketed literals. Matching the full
	// "[1234]" token keeps 1234 from colliding with 11234 or 12345.
	for _, pid := range spec.PIDs {
		f.tokens = append(f.tokens, fmt.Sprintf("[%d]", pid))
	}

	return f, nil
}

// Matches returns true if the line satisfies every configured criterion.
// With no criteria configured the filter is pass-through and every line
// matches.
func (f *Filter) Matches(line string) bool {
	if len(f.tokens) > 0 && !f.matchesPID(line) {
		return false
	}

	if f.spec.Pattern != "" {
		if f.regex != nil {
			if !f.regex.MatchString(line) {
				return false
			}
		} else {
			if !strings.Contains(line, f.spec.Pattern) {
				return false
			}
		}
	}

	return true
}

func (f *Filter) matchesPID(line string) bool {
	for _, tok := range f.tokens {
		if strings.Contains(line, tok) {
			return true
		}
	}
	return false
}

// Spec returns the spec this filter was compiled from.
func (f *Filter) Spec() domain.FilterSpec {
	return f.spec
}
