package collector

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/dbgwatch/dbgwatch/internal/domain"
	"github.com/dbgwatch/dbgwatch/internal/procs"
)

// fakeConfig builds a collector config around /bin/sh running script.
// Stale-scan tests use a fake proc root, so ProcessName is set to
// something that never matches a real process.
func fakeConfig(t *testing.T, script string) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		Path:           "/bin/sh",
		Args:           []string{"-c", script},
		ProcessName:    "dbgwatch-test-collector",
		LogFile:        filepath.Join(dir, "collector.log"),
		SettingsDir:    filepath.Join(dir, "settings"),
		StartupTimeout: 2 * time.Second,
		StopTimeout:    time.Second,
	}
}

func processGone(pid int) bool {
	return errors.Is(unix.Kill(pid, 0), unix.ESRCH)
}

func TestCollector_StartStop(t *testing.T) {
	cfg := fakeConfig(t, "")
	cfg.Args = []string{"-c", "touch " + cfg.LogFile + "; sleep 30"}
	c := New(cfg, nil)

	require.NoError(t, c.Start(context.Background()))
	pid := c.PID()
	assert.Greater(t, pid, 0)
	assert.FileExists(t, cfg.LogFile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))

	assert.Eventually(t, func() bool { return processGone(pid) }, 2*time.Second, 25*time.Millisecond)
}

func TestCollector_StopIsIdempotent(t *testing.T) {
	cfg := fakeConfig(t, "")
	cfg.Args = []string{"-c", "touch " + cfg.LogFile + "; sleep 30"}
	c := New(cfg, nil)

	t.Run("stop before start is a no-op", func(t *testing.T) {
		assert.NoError(t, c.Stop(context.Background()))
	})

	require.NoError(t, c.Start(context.Background()))

	t.Run("double stop is a no-op", func(t *testing.T) {
		assert.NoError(t, c.Stop(context.Background()))
		assert.NoError(t, c.Stop(context.Background()))
	})
}

func TestCollector_LogFileNeverAppears(t *testing.T) {
	cfg := fakeConfig(t, "sleep 30")
	cfg.StartupTimeout = 200 * time.Millisecond
	c := New(cfg, nil)

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLogFileNotCreated)

	// The partially-started process must not be left orphaned
	assert.True(t, processGone(c.PID()))
}

func TestCollector_ExitsDuringStartup(t *testing.T) {
	cfg := fakeConfig(t, "exit 0")
	c := New(cfg, nil)

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLogFileNotCreated)
}

func TestCollector_DoneSignalsExit(t *testing.T) {
	cfg := fakeConfig(t, "")
	cfg.Args = []string{"-c", "touch " + cfg.LogFile + "; sleep 0.2"}
	c := New(cfg, nil)

	require.NoError(t, c.Start(context.Background()))

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done channel never closed")
	}

	// Stopping an already-exited collector is a no-op
	assert.NoError(t, c.Stop(context.Background()))
}

func TestCollector_StopStale(t *testing.T) {
	// A real child process stands in for a stale collector instance; a fake
	// proc root maps its PID to the collector's process name.
	stale := exec.Command("sleep", "60")
	require.NoError(t, stale.Start())
	pid := stale.Process.Pid
	t.Cleanup(func() { _ = stale.Process.Kill() })
	go func() { _ = stale.Wait() }() // reap so the PID actually disappears

	procRoot := t.TempDir()
	pidDir := filepath.Join(procRoot, strconv.Itoa(pid))
	require.NoError(t, os.MkdirAll(pidDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(pidDir, "comm"), []byte("dbgwatch-test-collector\n"), 0644))

	cfg := fakeConfig(t, "sleep 30")
	c := New(cfg, &procs.Resolver{ProcRoot: procRoot})

	killed, err := c.StopStale()
	require.NoError(t, err)
	assert.Equal(t, 1, killed)
	assert.Eventually(t, func() bool { return processGone(pid) }, 2*time.Second, 25*time.Millisecond)

	t.Run("second purge finds nothing alive", func(t *testing.T) {
		killed, err := c.StopStale()
		require.NoError(t, err)
		assert.Equal(t, 0, killed)
	})
}

func TestCollector_Installed(t *testing.T) {
	t.Run("missing executable", func(t *testing.T) {
		cfg := fakeConfig(t, "true")
		cfg.Path = filepath.Join(t.TempDir(), "missing")
		err := New(cfg, nil).Installed()
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrCollectorNotInstalled)
	})

	t.Run("non-executable file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(path, []byte("data"), 0644))
		cfg := fakeConfig(t, "true")
		cfg.Path = path
		err := New(cfg, nil).Installed()
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrCollectorNotInstalled)
	})

	t.Run("executable ok", func(t *testing.T) {
		cfg := fakeConfig(t, "true")
		assert.NoError(t, New(cfg, nil).Installed())
	})
}

func TestDefaultArgs(t *testing.T) {
	assert.Equal(t, []string{"-accepteula", "-k", "-l", "/tmp/x.log"}, DefaultArgs("/tmp/x.log"))
}
