package module

import (
	"time"

	"stallwatch/internal/platform/config"
)

// Options holds LOTS_* settings for the supervisor
type Options struct {
	MaxStalls   int
	Grace       time.Duration
	HealthEvery time.Duration
	StaleAfter  time.Duration
	StableAfter time.Duration
	MaxRestarts int
	RestartBase time.Duration
	RestartMax  time.Duration
}

// FromConfig reads LOTS_* values from process config/env
func FromConfig(cfg config.Conf) Options {
	lc := cfg.Prefix("LOTS_")
	return Options{
		MaxStalls:   lc.MayInt("MAX_STALLS", 20),
		Grace:       lc.MayDuration("GRACE", 5*time.Second),
		HealthEvery: lc.MayDuration("HEALTH_EVERY", 2*time.Second),
		StaleAfter:  lc.MayDuration("STALE_AFTER", 30*time.Second),
		StableAfter: lc.MayDuration("STABLE_AFTER", time.Minute),
		MaxRestarts: lc.MayInt("MAX_RESTARTS", 5),
		RestartBase: lc.MayDuration("RESTART_BASE", time.Second),
		RestartMax:  lc.MayDuration("RESTART_MAX", time.Minute),
	}
}
