package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dbgwatch/dbgwatch/internal/constants"
	"github.com/dbgwatch/dbgwatch/internal/domain"
)

// Config represents the top-level dbgwatch configuration
type Config struct {
	Collector CollectorConfig `yaml:"collector"`
	API       APIConfig       `yaml:"api"`
}

// CollectorConfig defines where the external collector lives and which
// artifacts it owns. All fields have built-in defaults; a config file is
// only needed to override them.
type CollectorConfig struct {
	Path           string `yaml:"path"`
	LogFile        string `yaml:"log_file"`
	SettingsDir    string `yaml:"settings_dir"`
	StartupTimeout string `yaml:"startup_timeout"`
	StopTimeout    string `yaml:"stop_timeout"`
	EnvFile        string `yaml:"env_file"`
}

// APIConfig defines the local status API configuration
type APIConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"` // nil = enabled
	Port    int    `yaml:"port"`
	Host    string `yaml:"host"`
}

// IsEnabled reports whether the status API should be served.
func (a APIConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// Default returns the built-in configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a configuration file
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("checking config file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Collector.Path == "" {
		cfg.Collector.Path = constants.DefaultCollectorPath
	}
	if cfg.Collector.LogFile == "" {
		cfg.Collector.LogFile = constants.DefaultLogFile
	}
	if cfg.Collector.SettingsDir == "" {
		cfg.Collector.SettingsDir = defaultSettingsDir()
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = constants.DefaultAPIPort
	}
	if cfg.API.Host == "" {
		cfg.API.Host = constants.DefaultAPIHost
	}
}

// defaultSettingsDir resolves the collector settings store under the user
// home directory, falling back to a relative path if home is unknown.
func defaultSettingsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return constants.DefaultSettingsDir
	}
	return filepath.Join(home, constants.DefaultSettingsDir)
}

// Validate checks a parsed configuration for consistency
func Validate(cfg *Config) error {
	if cfg.Collector.Path == "" {
		return fmt.Errorf("%w: collector path cannot be empty", domain.ErrInvalidConfig)
	}
	if cfg.Collector.LogFile == "" {
		return fmt.Errorf("%w: collector log_file cannot be empty", domain.ErrInvalidConfig)
	}
	if _, err := cfg.Collector.ParsedStartupTimeout(); err != nil {
		return fmt.Errorf("%w: startup_timeout: %v", domain.ErrInvalidConfig, err)
	}
	if _, err := cfg.Collector.ParsedStopTimeout(); err != nil {
		return fmt.Errorf("%w: stop_timeout: %v", domain.ErrInvalidConfig, err)
	}
	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		return fmt.Errorf("%w: api port must be 1-65535, got %d", domain.ErrInvalidConfig, cfg.API.Port)
	}
	return nil
}

// ParsedStartupTimeout returns the startup timeout as a duration,
// defaulting when unset.
func (c CollectorConfig) ParsedStartupTimeout() (time.Duration, error) {
	return parseDuration(c.StartupTimeout, constants.DefaultStartupTimeout)
}

// ParsedStopTimeout returns the stop grace period as a duration,
// defaulting when unset.
func (c CollectorConfig) ParsedStopTimeout() (time.Duration, error) {
	return parseDuration(c.StopTimeout, constants.DefaultStopTimeout)
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

// LoadEnv loads the collector environment file, if one is configured.
// Returns nil when no env file is set.
func (c CollectorConfig) LoadEnv() (map[string]string, error) {
	if c.EnvFile == "" {
		return nil, nil
	}
	env, err := godotenv.Read(c.EnvFile)
	if err != nil {
		return nil, fmt.Errorf("loading env file %s: %w", c.EnvFile, err)
	}
	return env, nil
}
