package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbgwatch/dbgwatch/internal/config"
	"github.com/dbgwatch/dbgwatch/internal/constants"
	"github.com/dbgwatch/dbgwatch/internal/domain"
)

// Version is set during build
var Version = "dev"

// Global flags
var (
	configPath string
	verbose    bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "dbgwatch",
	Short: "Process-aware live view of the kernel debug log",
	Long: `dbgwatch supervises the external kernel-log collector and streams its
output through a process-aware filter, so a live debug feed shows only
the lines for the processes you care about. It supports:
  - Resolving process names and named profiles to live PIDs
  - Substring and regex line filters
  - Guaranteed cleanup of the collector and its artifacts on every exit
  - A local status API with line metrics`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if verbose {
			fmt.Fprintf(os.Stderr, "Code: %s\n", domain.ErrorCode(err))
		}
		return 1
	}
	return 0
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dbgwatch version %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", constants.DefaultConfigFile, "Config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.SetVersionTemplate("dbgwatch version {{.Version}}\n")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the configuration file. A missing default file falls
// back to built-in defaults; a missing explicitly-passed file is an error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, domain.ErrConfigNotFound) && !rootCmd.PersistentFlags().Changed("config") {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}
