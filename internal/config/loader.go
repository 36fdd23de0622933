// Package config provides centralized configuration management for
// ratefence. Defaults are registered on a viper instance, optionally
// overlaid by a YAML config file, then by RATEFENCE_* environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// RATEFENCE_LIMITER_MAX_WAIT_SECONDS.
const EnvPrefix = "RATEFENCE"

// SetDefaults registers default configuration values on v.
func SetDefaults(v *viper.Viper) {
	// Limiter defaults follow the external API's published limits:
	// 240 requests/minute with an API key, 40 without.
	v.SetDefault("limiter.window_seconds", 60.0)
	v.SetDefault("limiter.rate_limit_with_credential", 240)
	v.SetDefault("limiter.rate_limit_without_credential", 40)
	v.SetDefault("limiter.poll_interval_seconds", 0.25)
	v.SetDefault("limiter.max_wait_seconds", 30.0)
	v.SetDefault("limiter.state_path", DefaultStatePath())
	v.SetDefault("limiter.lock_path", "")
	v.SetDefault("limiter.api_key", "")

	// Diagnostics server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
}

// BindEnv wires environment variable overrides onto v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// FromViper decodes the merged configuration into a Config.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	// Environment overrides arrive as strings; decode them weakly.
	weakInput := func(dc *mapstructure.DecoderConfig) { dc.WeaklyTypedInput = true }
	if err := v.Unmarshal(cfg, decodeHook, weakInput); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load builds a Config from defaults, an optional config file, and the
// environment. An empty cfgFile skips the file layer.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)

	if strings.TrimSpace(cfgFile) != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return FromViper(v)
}

// Validate rejects configurations the limiter cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is required")
	}
	l := c.Limiter
	if l.WindowSeconds <= 0 {
		return fmt.Errorf("limiter.window_seconds must be positive, got %v", l.WindowSeconds)
	}
	if l.RateLimitWithCredential <= 0 || l.RateLimitWithoutCredential <= 0 {
		return fmt.Errorf("rate limits must be positive, got %d/%d",
			l.RateLimitWithCredential, l.RateLimitWithoutCredential)
	}
	if l.PollIntervalSeconds <= 0 {
		return fmt.Errorf("limiter.poll_interval_seconds must be positive, got %v", l.PollIntervalSeconds)
	}
	if l.MaxWaitSeconds <= 0 {
		return fmt.Errorf("limiter.max_wait_seconds must be positive, got %v", l.MaxWaitSeconds)
	}
	if strings.TrimSpace(l.StatePath) == "" {
		return fmt.Errorf("limiter.state_path is required")
	}
	return nil
}
