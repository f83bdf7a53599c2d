// Package collector supervises the external kernel-log collector process.
// It owns exactly one collector instance per session: any stale instance is
// forcibly purged before a start, and a start only succeeds once the
// collector has demonstrably created its log file.
package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dbgwatch/dbgwatch/internal/constants"
	"github.com/dbgwatch/dbgwatch/internal/domain"
	"github.com/dbgwatch/dbgwatch/internal/procs"
)

// staleKillTimeout bounds how long StopStale waits for a purged instance
// to disappear from the process table.
const staleKillTimeout = 2 * time.Second

// Config holds everything needed to launch and supervise the collector.
type Config struct {
	// Path is the collector executable, placed there by the installer
	Path string
	// Args overrides the default argument set. Leave nil for DefaultArgs.
	Args []string
	// ProcessName is the name used to find stale instances.
	// Defaults to the basename of Path.
	ProcessName string
	// LogFile is the fixed path the collector mirrors the kernel feed to
	LogFile string
	// SettingsDir is the transient settings store the collector creates
	SettingsDir string
	// Env is merged over the inherited environment
	Env map[string]string

	StartupTimeout time.Duration
	StopTimeout    time.Duration
}

// DefaultArgs returns the fixed argument set: accept license terms
// non-interactively, attach to the kernel feed, mirror to the log file.
func DefaultArgs(logFile string) []string {
	return []string{"-accepteula", "-k", "-l", logFile}
}

// Collector manages the lifecycle of a single collector process.
type Collector struct {
	mu sync.Mutex

	cfg      Config
	resolver *procs.Resolver

	cmd     *exec.Cmd
	done    chan struct{} // closed when the process is reaped
	waitErr error
	stopped bool
}

// New creates a collector supervisor. A nil resolver scans the real /proc.
func New(cfg Config, resolver *procs.Resolver) *Collector {
	if cfg.Args == nil {
		cfg.Args = DefaultArgs(cfg.LogFile)
	}
	if cfg.ProcessName == "" {
		cfg.ProcessName = filepath.Base(cfg.Path)
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = constants.DefaultStartupTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = constants.DefaultStopTimeout
	}
	if resolver == nil {
		resolver = procs.NewResolver()
	}
	return &Collector{cfg: cfg, resolver: resolver}
}

// Config returns the collector configuration.
func (c *Collector) Config() Config {
	return c.cfg
}

// Installed verifies the collector executable exists and is runnable.
func (c *Collector) Installed() error {
	info, err := os.Stat(c.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s (run the installer first)", domain.ErrCollectorNotInstalled, c.cfg.Path)
		}
		return fmt.Errorf("checking collector executable: %w", err)
	}
	if info.IsDir() || info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("%w: %s is not executable", domain.ErrCollectorNotInstalled, c.cfg.Path)
	}
	return nil
}

// PID returns the running collector's PID, or 0.
func (c *Collector) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Done returns a channel closed when the collector process exits.
// Before Start it returns nil, which blocks forever in a select.
func (c *Collector) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// StopStale forcibly terminates any collector instance already running,
// e.g. one left over from a crashed prior session. Guarantees at most one
// instance is active and that the next start writes a fresh log file.
// Returns the number of instances purged.
func (c *Collector) StopStale() (int, error) {
	pids, err := c.resolver.PIDsByName(c.cfg.ProcessName)
	if err != nil {
		return 0, fmt.Errorf("scanning for stale collector: %w", err)
	}

	self := c.PID()
	killed := 0
	for _, pid := range pids {
		if pid == self {
			continue
		}
		if err := unix.Kill(pid, unix.SIGKILL); err != nil {
			if errors.Is(err, unix.ESRCH) {
				continue // already gone
			}
			return killed, fmt.Errorf("killing stale collector pid %d: %w", pid, err)
		}
		waitGone(pid, staleKillTimeout)
		killed++
	}
	return killed, nil
}

// Start launches the collector and waits for it to create its log file.
// If the file does not appear within the startup timeout, the
// partially-started process is killed before the error is returned;
// it is never left orphaned.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cmd != nil && !c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("collector already running (pid %d)", c.cmd.Process.Pid)
	}

	cmd := exec.Command(c.cfg.Path, c.cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range c.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	// Process group so stop reaches any children the collector forks
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("starting collector: %w", err)
	}

	done := make(chan struct{})
	c.cmd = cmd
	c.done = done
	c.stopped = false
	c.mu.Unlock()

	go func() {
		err := cmd.Wait()
		c.mu.Lock()
		c.waitErr = err
		c.mu.Unlock()
		close(done)
	}()

	if err := c.awaitLogFile(ctx, done); err != nil {
		c.forceKill()
		<-done
		return err
	}

	return nil
}

// awaitLogFile polls for the log file until it appears, the collector dies,
// the context is cancelled, or the startup timeout elapses.
func (c *Collector) awaitLogFile(ctx context.Context, done <-chan struct{}) error {
	deadline := time.NewTimer(c.cfg.StartupTimeout)
	defer deadline.Stop()
	probe := time.NewTicker(constants.LogFileProbeInterval)
	defer probe.Stop()

	for {
		if _, err := os.Stat(c.cfg.LogFile); err == nil {
			return nil
		}
		select {
		case <-probe.C:
		case <-done:
			return fmt.Errorf("%w: collector exited during startup", domain.ErrLogFileNotCreated)
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s not created within %s", domain.ErrLogFileNotCreated, c.cfg.LogFile, c.cfg.StartupTimeout)
		}
	}
}

// Stop terminates the collector gracefully, escalating to SIGKILL after
// the stop grace period. Idempotent: stopping an already-exited or
// never-started collector is a no-op.
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	cmd := c.cmd
	done := c.done
	alreadyStopped := c.stopped
	c.stopped = true
	c.mu.Unlock()

	if cmd == nil || alreadyStopped {
		return nil
	}

	select {
	case <-done:
		return nil // already exited on its own
	default:
	}

	c.signal(unix.SIGTERM)

	grace := time.NewTimer(c.cfg.StopTimeout)
	defer grace.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	case <-grace.C:
	}

	c.forceKill()
	select {
	case <-done:
	case <-time.After(time.Second):
		return fmt.Errorf("collector pid %d did not exit after SIGKILL", cmd.Process.Pid)
	}
	return nil
}

func (c *Collector) forceKill() {
	c.signal(unix.SIGKILL)
}

// signal delivers sig to the collector's process group, falling back to
// the process itself. A missing process is treated as already stopped.
func (c *Collector) signal(sig unix.Signal) {
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	pid := cmd.Process.Pid
	if pgid, err := unix.Getpgid(pid); err == nil {
		if err := unix.Kill(-pgid, sig); err == nil || errors.Is(err, unix.ESRCH) {
			return
		}
	}
	_ = unix.Kill(pid, sig)
}

// waitGone polls until pid disappears from the process table or the
// timeout elapses, backing off to keep pressure off /proc.
func waitGone(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	tick := 25 * time.Millisecond
	for {
		if err := unix.Kill(pid, 0); errors.Is(err, unix.ESRCH) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(tick)
		if tick < 250*time.Millisecond {
			tick += 10 * time.Millisecond
		}
	}
}
