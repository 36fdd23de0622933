package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config represents the complete application configuration.
// Values come from three layers: built-in defaults, an optional YAML config
// file, and RATEFENCE_* environment variables.
type Config struct {
	Limiter LimiterConfig `mapstructure:"limiter"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// LimiterConfig contains the sliding-window quota parameters. The quota
// depends on whether an API key is presented, mirroring the external API's
// published limits.
type LimiterConfig struct {
	// WindowSeconds is the sliding window width; grants older than this
	// age out and free capacity.
	WindowSeconds float64 `mapstructure:"window_seconds"`

	RateLimitWithCredential    int `mapstructure:"rate_limit_with_credential"`
	RateLimitWithoutCredential int `mapstructure:"rate_limit_without_credential"`

	// PollIntervalSeconds is the base unit for the at-capacity wait and
	// for the contention jitter range.
	PollIntervalSeconds float64 `mapstructure:"poll_interval_seconds"`

	// MaxWaitSeconds is the hard ceiling on acquire latency before the
	// call returns denied.
	MaxWaitSeconds float64 `mapstructure:"max_wait_seconds"`

	// StatePath holds the shared window record; LockPath is the sibling
	// lock-marker file and defaults to StatePath + ".lock".
	StatePath string `mapstructure:"state_path"`
	LockPath  string `mapstructure:"lock_path"`

	APIKey string `mapstructure:"api_key"`
}

// ServerConfig contains the diagnostics HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level controls the minimum log level.
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`
}

// Window returns the sliding window width as a duration.
func (c LimiterConfig) Window() time.Duration {
	return secondsToDuration(c.WindowSeconds)
}

// PollInterval returns the base poll interval as a duration.
func (c LimiterConfig) PollInterval() time.Duration {
	return secondsToDuration(c.PollIntervalSeconds)
}

// MaxWait returns the acquire latency ceiling as a duration.
func (c LimiterConfig) MaxWait() time.Duration {
	return secondsToDuration(c.MaxWaitSeconds)
}

// Quota returns the effective request limit for the configured credential.
func (c LimiterConfig) Quota() int {
	if strings.TrimSpace(c.APIKey) != "" {
		return c.RateLimitWithCredential
	}
	return c.RateLimitWithoutCredential
}

// ResolvedLockPath returns the lock-marker path, defaulting to a sibling of
// the state file so that lock acquisition never depends on record content.
func (c LimiterConfig) ResolvedLockPath() string {
	if strings.TrimSpace(c.LockPath) != "" {
		return c.LockPath
	}
	return c.StatePath + ".lock"
}

// DefaultStatePath returns the default location of the shared window record.
// Every cooperating process on the machine must resolve the same path.
func DefaultStatePath() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "ratefence", "window.json")
	}
	return filepath.Join(os.TempDir(), "ratefence", "window.json")
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
