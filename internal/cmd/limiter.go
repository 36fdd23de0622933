package cmd

import (
	"fmt"

	"github.com/ratefence/ratefence/internal/config"
	"github.com/ratefence/ratefence/internal/core/engine"
	"github.com/ratefence/ratefence/internal/core/lock"
	"github.com/ratefence/ratefence/internal/core/store"
)

// openLimiter builds a limiter over the configured record and lock paths.
func openLimiter() (*engine.Limiter, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	limiter := &engine.Limiter{
		Store:        store.New(cfg.Limiter.StatePath),
		Lock:         lock.New(cfg.Limiter.ResolvedLockPath()),
		Limit:        cfg.Limiter.Quota(),
		Window:       cfg.Limiter.Window(),
		PollInterval: cfg.Limiter.PollInterval(),
		MaxWait:      cfg.Limiter.MaxWait(),
	}
	return limiter, cfg, nil
}
