package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/dbgwatch/dbgwatch/internal/collector"
	"github.com/dbgwatch/dbgwatch/internal/domain"
	"github.com/dbgwatch/dbgwatch/internal/procs"
	"github.com/dbgwatch/dbgwatch/internal/runstate"
)

const testPoll = 10 * time.Millisecond

// lineCollector is a test sink that records emitted lines in order.
type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) sink(l domain.LogLine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, l.Text)
}

func (c *lineCollector) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.lines...)
}

func (c *lineCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

// recordingReporter captures status and warning lines.
type recordingReporter struct {
	mu       sync.Mutex
	statuses []string
	warns    []string
}

func (r *recordingReporter) Statusf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, fmt.Sprintf(format, args...))
}

func (r *recordingReporter) Warnf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warns = append(r.warns, fmt.Sprintf(format, args...))
}

func (r *recordingReporter) warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.warns...)
}

// harness wires a session around a /bin/sh fake collector that creates the
// log file and then sleeps, standing in for the real producer.
type harness struct {
	col      *collector.Collector
	resolver *procs.Resolver
	logFile  string
	settings string
	stateDir string
	procRoot string
}

func newHarness(t *testing.T, script string) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		logFile:  filepath.Join(dir, "collector.log"),
		settings: filepath.Join(dir, "settings"),
		stateDir: filepath.Join(dir, "state"),
		procRoot: filepath.Join(dir, "proc"),
	}
	require.NoError(t, os.MkdirAll(h.procRoot, 0755))

	if script == "" {
		script = "touch " + h.logFile + "; sleep 30"
	}
	h.resolver = &procs.Resolver{ProcRoot: h.procRoot}
	h.col = collector.New(collector.Config{
		Path:           "/bin/sh",
		Args:           []string{"-c", script},
		ProcessName:    "dbgwatch-fake-collector",
		LogFile:        h.logFile,
		SettingsDir:    h.settings,
		StartupTimeout: 2 * time.Second,
		StopTimeout:    time.Second,
	}, h.resolver)
	return h
}

// addProc maps a PID to a process name in the fake proc root.
func (h *harness) addProc(t *testing.T, pid int, comm string) {
	t.Helper()
	dir := filepath.Join(h.procRoot, strconv.Itoa(pid))
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "comm"), []byte(comm+"\n"), 0644))
}

func (h *harness) options(reporter Reporter) Options {
	return Options{
		Resolver:         h.resolver,
		Reporter:         reporter,
		Privileged:       func() bool { return true },
		StateDir:         h.stateDir,
		TailPollInterval: testPoll,
	}
}

func (h *harness) appendLines(t *testing.T, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(h.logFile, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	defer f.Close()
	for _, line := range lines {
		_, err := f.WriteString(line + "\n")
		require.NoError(t, err)
	}
}

// runSession starts the session and pumps Wait in the background.
func runSession(t *testing.T, s *Session, ctx context.Context) <-chan error {
	t.Helper()
	require.NoError(t, s.Start(ctx))
	require.Equal(t, domain.SessionRunning, s.State())

	done := make(chan error, 1)
	go func() { done <- s.Wait() }()
	return done
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not terminate")
		return nil
	}
}

func TestSession_PassthroughStream(t *testing.T) {
	h := newHarness(t, "")
	sink := &lineCollector{}
	s, err := New(Config{}, h.col, sink.sink, h.options(nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runSession(t, s, ctx)

	h.appendLines(t, "[100] hello", "[200] world")
	require.Eventually(t, func() bool { return sink.count() == 2 }, 2*time.Second, testPoll)
	assert.Equal(t, []string{"[100] hello", "[200] world"}, sink.get())

	cancel()
	assert.NoError(t, waitErr(t, done))
	assert.Equal(t, domain.SessionClosed, s.State())

	t.Run("cleanup removed all artifacts", func(t *testing.T) {
		assert.NoFileExists(t, h.logFile)
		assert.NoDirExists(t, h.settings)
		assert.NoFileExists(t, runstate.Path(h.stateDir))
	})
}

func TestSession_IdentifierFilter(t *testing.T) {
	h := newHarness(t, "")
	h.addProc(t, 100, "w3wp")
	sink := &lineCollector{}
	s, err := New(Config{Targets: []string{"w3wp"}}, h.col, sink.sink, h.options(nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runSession(t, s, ctx)

	h.appendLines(t, "[100] hello", "[200] world", "[1100] nope")
	require.Eventually(t, func() bool { return sink.count() >= 1 }, 2*time.Second, testPoll)

	// Give mismatched lines a chance to (incorrectly) arrive
	time.Sleep(10 * testPoll)
	assert.Equal(t, []string{"[100] hello"}, sink.get())
	assert.Equal(t, []int{100}, s.Status().Filter.PIDs)

	cancel()
	assert.NoError(t, waitErr(t, done))
}

func TestSession_CombinedFilter(t *testing.T) {
	h := newHarness(t, "")
	h.addProc(t, 100, "w3wp")
	sink := &lineCollector{}
	s, err := New(Config{Targets: []string{"w3wp"}, Pattern: "err"}, h.col, sink.sink, h.options(nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runSession(t, s, ctx)

	h.appendLines(t, "[100] ok", "[100] err: bad", "[200] err: bad")
	require.Eventually(t, func() bool { return sink.count() >= 1 }, 2*time.Second, testPoll)
	time.Sleep(10 * testPoll)
	assert.Equal(t, []string{"[100] err: bad"}, sink.get())

	cancel()
	assert.NoError(t, waitErr(t, done))
}

func TestSession_UnresolvedNameFailsOpen(t *testing.T) {
	h := newHarness(t, "")
	sink := &lineCollector{}
	reporter := &recordingReporter{}
	s, err := New(Config{Targets: []string{"ghost"}, Pattern: "err"}, h.col, sink.sink, h.options(reporter))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runSession(t, s, ctx)

	t.Run("warnings name the unmatched process and the disabled filter", func(t *testing.T) {
		warns := strings.Join(reporter.warnings(), "\n")
		assert.Contains(t, warns, `"ghost"`)
		assert.Contains(t, warns, "disabled")
	})

	t.Run("free-text filter still applies", func(t *testing.T) {
		h.appendLines(t, "[1] err: bad", "[1] ok")
		require.Eventually(t, func() bool { return sink.count() >= 1 }, 2*time.Second, testPoll)
		time.Sleep(10 * testPoll)
		assert.Equal(t, []string{"[1] err: bad"}, sink.get())
	})

	assert.Empty(t, s.Status().Filter.PIDs)

	cancel()
	assert.NoError(t, waitErr(t, done))
}

func TestSession_ProfileResolvesDefaults(t *testing.T) {
	h := newHarness(t, "")
	h.addProc(t, 4242, "w3wp")
	sink := &lineCollector{}
	s, err := New(Config{Profile: "IIS"}, h.col, sink.sink, h.options(nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runSession(t, s, ctx)

	assert.Equal(t, []int{4242}, s.Status().Filter.PIDs)

	cancel()
	assert.NoError(t, waitErr(t, done))
}

func TestSession_UnknownProfileRejectedUpFront(t *testing.T) {
	h := newHarness(t, "")
	_, err := New(Config{Profile: "nope"}, h.col, (&lineCollector{}).sink, h.options(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownProfile)
}

func TestSession_InvalidPatternAbortsAfterCleanup(t *testing.T) {
	h := newHarness(t, "")
	s, err := New(Config{Pattern: "[bad", IsRegex: true}, h.col, (&lineCollector{}).sink, h.options(nil))
	require.NoError(t, err)

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidPattern)
	assert.Equal(t, domain.SessionClosed, s.State())

	// The collector started before compilation failed; it must be stopped
	// and its log removed.
	assert.NoFileExists(t, h.logFile)
}

func TestSession_PreflightMissingCollector(t *testing.T) {
	h := newHarness(t, "")
	h.col = collector.New(collector.Config{
		Path:    filepath.Join(t.TempDir(), "missing"),
		LogFile: h.logFile,
	}, h.resolver)

	s, err := New(Config{}, h.col, (&lineCollector{}).sink, h.options(nil))
	require.NoError(t, err)

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCollectorNotInstalled)
	assert.Equal(t, domain.SessionClosed, s.State())
}

func TestSession_PreflightUnprivileged(t *testing.T) {
	h := newHarness(t, "")
	opts := h.options(nil)
	opts.Privileged = func() bool { return false }

	s, err := New(Config{}, h.col, (&lineCollector{}).sink, opts)
	require.NoError(t, err)

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotPrivileged)
	assert.Equal(t, domain.SessionClosed, s.State())
}

func TestSession_LogFileNeverAppears(t *testing.T) {
	h := newHarness(t, "sleep 30")
	cfg := h.col.Config()
	cfg.StartupTimeout = 200 * time.Millisecond
	h.col = collector.New(cfg, h.resolver)

	s, err := New(Config{}, h.col, (&lineCollector{}).sink, h.options(nil))
	require.NoError(t, err)

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLogFileNotCreated)
	assert.Equal(t, domain.SessionClosed, s.State())
}

func TestSession_CollectorDeathTerminates(t *testing.T) {
	h := newHarness(t, "")
	cfg := h.col.Config()
	cfg.Args = []string{"-c", "touch " + h.logFile + "; sleep 0.3"}
	h.col = collector.New(cfg, h.resolver)

	s, err := New(Config{}, h.col, (&lineCollector{}).sink, h.options(nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runSession(t, s, ctx)

	err = waitErr(t, done)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCollectorExited)
	assert.Equal(t, domain.SessionClosed, s.State())
	assert.NoFileExists(t, h.logFile)
}

func TestSession_CleanupIsIdempotent(t *testing.T) {
	h := newHarness(t, "")
	s, err := New(Config{}, h.col, (&lineCollector{}).sink, h.options(nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := runSession(t, s, ctx)

	// Simulate the collector writing its settings store mid-session
	require.NoError(t, os.MkdirAll(h.settings, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(h.settings, "prefs"), []byte("x"), 0644))

	cancel()
	require.NoError(t, waitErr(t, done))
	assert.Equal(t, domain.SessionClosed, s.State())
	assert.NoFileExists(t, h.logFile)
	assert.NoDirExists(t, h.settings)

	t.Run("second and third invocations are no-ops", func(t *testing.T) {
		s.Cleanup()
		s.Cleanup()
		assert.Equal(t, domain.SessionClosed, s.State())
		assert.NoFileExists(t, h.logFile)
		assert.NoDirExists(t, h.settings)
	})
}

func TestSession_CannotBeReused(t *testing.T) {
	h := newHarness(t, "")
	s, err := New(Config{}, h.col, (&lineCollector{}).sink, h.options(nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := runSession(t, s, ctx)
	cancel()
	require.NoError(t, waitErr(t, done))

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}

func TestSession_StaleCollectorPurgedOnStart(t *testing.T) {
	h := newHarness(t, "")

	// A live process masquerading as a leftover collector instance
	stale := startSleeper(t)
	h.addProc(t, stale, "dbgwatch-fake-collector")

	// Residue from the "crashed" prior run
	require.NoError(t, os.WriteFile(h.logFile, []byte("stale data\n"), 0644))
	require.NoError(t, os.MkdirAll(h.settings, 0755))

	sink := &lineCollector{}
	s, err := New(Config{}, h.col, sink.sink, h.options(nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runSession(t, s, ctx)

	t.Run("stale instance was terminated", func(t *testing.T) {
		assert.Eventually(t, func() bool {
			return errors.Is(unix.Kill(stale, 0), unix.ESRCH)
		}, 2*time.Second, 25*time.Millisecond)
	})

	t.Run("log file is fresh, not stale residue", func(t *testing.T) {
		data, err := os.ReadFile(h.logFile)
		require.NoError(t, err)
		assert.Empty(t, data)
		assert.Zero(t, sink.count())
	})

	cancel()
	assert.NoError(t, waitErr(t, done))
}

func TestSession_WritesRunStateWhileRunning(t *testing.T) {
	h := newHarness(t, "")
	opts := h.options(nil)
	opts.APIHost = "127.0.0.1"
	opts.APIPort = 5556

	s, err := New(Config{}, h.col, (&lineCollector{}).sink, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := runSession(t, s, ctx)

	st, err := runstate.Load(h.stateDir)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), st.PID)
	assert.Greater(t, st.CollectorPID, 0)
	assert.Equal(t, h.logFile, st.LogFile)
	assert.Equal(t, "127.0.0.1", st.Host)
	assert.Equal(t, 5556, st.Port)

	cancel()
	require.NoError(t, waitErr(t, done))

	_, err = runstate.Load(h.stateDir)
	assert.ErrorIs(t, err, domain.ErrStateNotFound)
}

// startSleeper spawns a throwaway process and returns its PID, reaping it
// in the background so a kill makes it disappear from the process table.
func startSleeper(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("sleep", "60")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() { _ = cmd.Process.Kill() })
	go func() { _ = cmd.Wait() }()
	return cmd.Process.Pid
}
