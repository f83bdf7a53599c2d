// Package session implements the runtime session manager. A Session starts
// the collector, resolves watch targets to live PIDs, compiles the line
// filter, tails the collector's log through it, and guarantees best-effort
// cleanup of every artifact on every exit path.
package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbgwatch/dbgwatch/internal/collector"
	"github.com/dbgwatch/dbgwatch/internal/domain"
	"github.com/dbgwatch/dbgwatch/internal/filter"
	"github.com/dbgwatch/dbgwatch/internal/procs"
	"github.com/dbgwatch/dbgwatch/internal/runstate"
	"github.com/dbgwatch/dbgwatch/internal/tail"
)

// Reporter receives operator-facing status lines and warnings, interleaved
// with the filtered log lines in stream order.
type Reporter interface {
	Statusf(format string, args ...any)
	Warnf(format string, args ...any)
}

// NopReporter discards all status output.
type NopReporter struct{}

func (NopReporter) Statusf(string, ...any) {}
func (NopReporter) Warnf(string, ...any)   {}

// Sink receives every log line that passes the filter, in append order.
type Sink func(domain.LogLine)

// Config is the operator-supplied filter configuration for one session.
type Config struct {
	Targets []string // process names to watch, in addition to the profile's
	Profile string   // optional profile key, e.g. "IIS"
	Pattern string   // free-text pattern applied to every line
	IsRegex bool     // interpret Pattern as a regular expression
}

// Options carries the session's collaborators. Zero values select
// production defaults.
type Options struct {
	Profiles domain.ProfileTable
	Resolver *procs.Resolver
	Reporter Reporter
	Metrics  *Metrics
	// Privileged reports whether this execution context may attach to the
	// kernel log feed. Defaults to an effective-uid-zero check.
	Privileged func() bool
	// StateDir overrides where the run state file is written
	StateDir string
	// APIHost and APIPort are recorded in the run state file so client
	// commands can find the status API of this session
	APIHost string
	APIPort int
	// TailPollInterval overrides the tailer's end-of-file poll interval
	TailPollInterval time.Duration
}

// Session is the unit of one supervised run. It owns exactly one collector
// process and one tail stream, and cannot be reused after it closes.
type Session struct {
	mu    sync.RWMutex
	state domain.SessionState

	cfg  Config
	col  *collector.Collector
	sink Sink

	profiles   domain.ProfileTable
	resolver   *procs.Resolver
	reporter   Reporter
	metrics    *Metrics
	privileged func() bool
	stateDir   string
	apiHost    string
	apiPort    int
	tailPoll   time.Duration

	profileNames []string

	runCtx    context.Context
	cancel    context.CancelFunc
	tailer    *tail.Tailer
	spec      domain.FilterSpec
	flt       *filter.Filter
	startedAt time.Time

	linesSeen    atomic.Int64
	linesEmitted atomic.Int64

	terminateOnce sync.Once
}

// New creates a session in the Created state. An unknown profile key is
// rejected here, before anything is spawned.
func New(cfg Config, col *collector.Collector, sink Sink, opts Options) (*Session, error) {
	if sink == nil {
		return nil, fmt.Errorf("session sink is required")
	}
	if opts.Profiles == nil {
		opts.Profiles = domain.DefaultProfiles()
	}
	if opts.Resolver == nil {
		opts.Resolver = procs.NewResolver()
	}
	if opts.Reporter == nil {
		opts.Reporter = NopReporter{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Privileged == nil {
		opts.Privileged = func() bool { return os.Geteuid() == 0 }
	}
	if opts.StateDir == "" {
		opts.StateDir = runstate.Dir()
	}

	s := &Session{
		state:      domain.SessionCreated,
		cfg:        cfg,
		col:        col,
		sink:       sink,
		profiles:   opts.Profiles,
		resolver:   opts.Resolver,
		reporter:   opts.Reporter,
		metrics:    opts.Metrics,
		privileged: opts.Privileged,
		stateDir:   opts.StateDir,
		apiHost:    opts.APIHost,
		apiPort:    opts.APIPort,
		tailPoll:   opts.TailPollInterval,
	}

	if cfg.Profile != "" {
		names, err := opts.Profiles.Lookup(cfg.Profile)
		if err != nil {
			return nil, err
		}
		s.profileNames = names
	}

	return s, nil
}

// State returns the current session state.
func (s *Session) State() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Metrics returns the session metrics set.
func (s *Session) Metrics() *Metrics {
	return s.metrics
}

// Status is a point-in-time snapshot for the status API.
type Status struct {
	State        domain.SessionState
	StartedAt    time.Time
	CollectorPID int
	LogFile      string
	Filter       domain.FilterSpec
	LinesSeen    int64
	LinesEmitted int64
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		State:        s.state,
		StartedAt:    s.startedAt,
		CollectorPID: s.col.PID(),
		LogFile:      s.col.Config().LogFile,
		Filter:       s.spec,
		LinesSeen:    s.linesSeen.Load(),
		LinesEmitted: s.linesEmitted.Load(),
	}
}

// UptimeSeconds returns seconds since the session reached Running.
func (st Status) UptimeSeconds() int64 {
	if st.StartedAt.IsZero() {
		return 0
	}
	return int64(time.Since(st.StartedAt).Seconds())
}

// Start brings the session to Running: preflight checks, residue cleanup,
// collector start, target resolution, filter compilation, tail stream.
// Targets are resolved exactly once; a watched process that restarts under
// a new PID falls out of the filter for the rest of the session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != domain.SessionCreated {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot start from state %q", domain.ErrSessionClosed, s.state)
	}
	s.mu.Unlock()

	// Fatal-preflight: nothing has been spawned, so no cleanup is owed.
	if err := s.col.Installed(); err != nil {
		s.setState(domain.SessionClosed)
		return err
	}
	if !s.privileged() {
		s.setState(domain.SessionClosed)
		return fmt.Errorf("%w: the collector needs elevated rights to attach to the kernel log feed", domain.ErrNotPrivileged)
	}

	// Erase residue from a crashed prior run: stale collector instances,
	// the old log file, and the old settings store.
	s.reporter.Statusf("clearing residue from previous runs")
	s.Cleanup()

	s.mu.Lock()
	s.runCtx, s.cancel = context.WithCancel(ctx)
	runCtx := s.runCtx
	s.mu.Unlock()

	if err := s.col.Start(runCtx); err != nil {
		s.terminate()
		return err
	}
	s.reporter.Statusf("collector running (pid %d), log file %s", s.col.PID(), s.col.Config().LogFile)

	spec, err := s.buildFilterSpec()
	if err != nil {
		s.terminate()
		return err
	}
	flt, err := filter.New(spec)
	if err != nil {
		s.terminate()
		return err
	}

	tailer, err := tail.Follow(runCtx, s.col.Config().LogFile, tail.Options{PollInterval: s.tailPoll})
	if err != nil {
		s.terminate()
		return fmt.Errorf("tailing collector log: %w", err)
	}

	s.mu.Lock()
	s.spec = spec
	s.flt = flt
	s.tailer = tailer
	s.startedAt = time.Now()
	s.state = domain.SessionRunning
	s.mu.Unlock()

	s.writeState()
	s.reporter.Statusf("filter: %s", spec.Describe())

	return nil
}

// buildFilterSpec resolves the profile defaults plus user targets to live
// PIDs. Unresolved names warn but never abort: identifier filtering fails
// open so a supplied free-text filter still applies.
func (s *Session) buildFilterSpec() (domain.FilterSpec, error) {
	names := append(append([]string{}, s.profileNames...), s.cfg.Targets...)

	pids, unmatched, err := s.resolver.Resolve(names)
	if err != nil {
		return domain.FilterSpec{}, fmt.Errorf("resolving process names: %w", err)
	}

	for _, name := range unmatched {
		s.reporter.Warnf("process name %q matched no live process", name)
	}
	if len(names) > 0 && len(pids) == 0 {
		s.reporter.Warnf("no watched process names resolved; process-id filtering is disabled for this session")
	}

	return domain.FilterSpec{
		PIDs:    pids,
		Pattern: s.cfg.Pattern,
		IsRegex: s.cfg.IsRegex,
	}, nil
}

// writeState records the running session for client commands. Best effort.
func (s *Session) writeState() {
	st := &runstate.State{
		PID:          os.Getpid(),
		CollectorPID: s.col.PID(),
		LogFile:      s.col.Config().LogFile,
		Host:         s.apiHost,
		Port:         s.apiPort,
		StartedAt:    time.Now(),
	}
	if err := st.Write(s.stateDir); err != nil {
		s.reporter.Warnf("writing session state file: %v", err)
	}
}

// Wait pumps the tail stream through the filter to the sink until the
// session is cancelled, the stream ends, or the collector dies. It then
// runs cleanup exactly once and moves the session to Closed.
func (s *Session) Wait() error {
	s.mu.RLock()
	runCtx := s.runCtx
	tailer := s.tailer
	flt := s.flt
	s.mu.RUnlock()

	if runCtx == nil {
		return fmt.Errorf("%w: session was never started", domain.ErrSessionClosed)
	}
	defer s.terminate()

	for {
		select {
		case <-runCtx.Done():
			s.reporter.Statusf("shutting down: session cancelled")
			return nil

		case line, ok := <-tailer.Lines():
			if !ok {
				if err := tailer.Err(); err != nil {
					s.reporter.Statusf("shutting down: log stream failed")
					return err
				}
				s.reporter.Statusf("shutting down: log stream ended")
				return nil
			}
			s.linesSeen.Add(1)
			s.metrics.LinesSeen.Inc()
			if flt.Matches(line) {
				s.linesEmitted.Add(1)
				s.metrics.LinesEmitted.Inc()
				s.sink(domain.LogLine{Timestamp: time.Now(), Text: line})
			}

		case <-s.col.Done():
			s.reporter.Warnf("collector exited unexpectedly (pid was being supervised)")
			return fmt.Errorf("%w before the session was cancelled", domain.ErrCollectorExited)
		}
	}
}

// Run starts the session and blocks until it terminates.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.Wait()
}

// terminate transitions to Terminating, runs cleanup, and closes the
// session. Guarded so competing exit paths clean up exactly once.
func (s *Session) terminate() {
	s.terminateOnce.Do(func() {
		s.setState(domain.SessionTerminating)
		s.reporter.Statusf("cleaning up session artifacts")
		s.Cleanup()
		s.setState(domain.SessionClosed)
	})
}

// Cleanup stops the tail pipeline, stops the collector (including stale
// instances), deletes the log file, clears the collector settings store,
// and removes the run state file. Each step is attempted independently and
// is a no-op when nothing is running; failures are warnings, never fatal.
// Safe to call repeatedly.
func (s *Session) Cleanup() {
	s.mu.Lock()
	cancel := s.cancel
	tailer := s.tailer
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if tailer != nil {
		tailer.Stop()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), s.col.Config().StopTimeout)
	defer stopCancel()
	if err := s.col.Stop(stopCtx); err != nil {
		s.reporter.Warnf("stopping collector: %v", err)
	}
	if n, err := s.col.StopStale(); err != nil {
		s.reporter.Warnf("purging stale collector instances: %v", err)
	} else if n > 0 {
		s.reporter.Statusf("purged %d stale collector instance(s)", n)
	}

	if err := os.Remove(s.col.Config().LogFile); err != nil && !os.IsNotExist(err) {
		s.reporter.Warnf("deleting collector log file: %v", err)
	}

	if dir := s.col.Config().SettingsDir; dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			s.reporter.Warnf("clearing collector settings store: %v", err)
		}
	}

	if err := runstate.Remove(s.stateDir); err != nil {
		s.reporter.Warnf("removing session state file: %v", err)
	}
}

func (s *Session) setState(state domain.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
