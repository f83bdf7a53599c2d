package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/dbgwatch/dbgwatch/internal/api"
	"github.com/dbgwatch/dbgwatch/internal/collector"
	"github.com/dbgwatch/dbgwatch/internal/session"
)

// Watch flags
var (
	watchProcesses []string
	watchProfile   string
	watchPattern   string
	watchRegex     bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Start the collector and stream the filtered debug feed",
	Long: `watch launches the kernel-log collector, resolves the given process
names (and the profile's defaults) to live PIDs, and streams every log
line matching the filter until interrupted. All collector artifacts are
removed on exit, whatever the exit path.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringArrayVarP(&watchProcesses, "process", "p", nil, "Process name to watch (repeatable)")
	watchCmd.Flags().StringVar(&watchProfile, "profile", "", `Named filter profile (e.g. "IIS")`)
	watchCmd.Flags().StringVarP(&watchPattern, "filter", "f", "", "Free-text filter applied to every line")
	watchCmd.Flags().BoolVar(&watchRegex, "regex", false, "Interpret --filter as a regular expression")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	env, err := cfg.Collector.LoadEnv()
	if err != nil {
		return err
	}
	startupTimeout, err := cfg.Collector.ParsedStartupTimeout()
	if err != nil {
		return err
	}
	stopTimeout, err := cfg.Collector.ParsedStopTimeout()
	if err != nil {
		return err
	}

	col := collector.New(collector.Config{
		Path:           cfg.Collector.Path,
		LogFile:        cfg.Collector.LogFile,
		SettingsDir:    cfg.Collector.SettingsDir,
		Env:            env,
		StartupTimeout: startupTimeout,
		StopTimeout:    stopTimeout,
	}, nil)

	printer := NewPrinter(os.Stdout)

	opts := session.Options{Reporter: printer}
	if cfg.API.IsEnabled() {
		opts.APIHost = cfg.API.Host
		opts.APIPort = cfg.API.Port
	}

	sess, err := session.New(session.Config{
		Targets: watchProcesses,
		Profile: watchProfile,
		Pattern: watchPattern,
		IsRegex: watchRegex,
	}, col, printer.Line, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sp := startSpinner()
	err = sess.Start(ctx)
	stopSpinner(sp)
	if err != nil {
		return err
	}

	if cfg.API.IsEnabled() {
		apiServer := api.NewServer(api.ServerConfig{
			Host: cfg.API.Host,
			Port: cfg.API.Port,
		}, api.NewHandlers(sess))

		go func() {
			if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				printer.Warnf("status api: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()

		printer.Statusf("status api: http://%s", apiServer.Addr())
	}

	err = sess.Wait()
	printer.Statusf("shutdown complete")
	return err
}

// startSpinner shows a startup spinner while the collector's log-file gate
// is pending. Skipped when stderr is not a terminal.
func startSpinner() *spinner.Spinner {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil
	}
	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	sp.Suffix = " starting collector..."
	sp.Start()
	return sp
}

func stopSpinner(sp *spinner.Spinner) {
	if sp != nil {
		sp.Stop()
	}
}
