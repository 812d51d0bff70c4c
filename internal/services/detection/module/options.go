package module

import (
	"time"

	"stallwatch/internal/core/occupancy"
	"stallwatch/internal/core/smoother"
	"stallwatch/internal/platform/config"
)

// Options holds DETECT_* settings
type Options struct {
	URL            string
	Timeout        time.Duration
	Every          time.Duration
	CycleTimeout   time.Duration
	PersistTimeout time.Duration
	Render         bool

	Occupancy occupancy.Config
	Smoother  smoother.Config
}

// FromConfig reads DETECT_* values from process config/env
func FromConfig(cfg config.Conf) Options {
	dc := cfg.Prefix("DETECT_")
	return Options{
		URL:            dc.MayString("URL", "http://localhost:8000/predict"),
		Timeout:        dc.MayDuration("TIMEOUT", 10*time.Second),
		Every:          dc.MayDuration("EVERY", time.Second),
		CycleTimeout:   dc.MayDuration("CYCLE_TIMEOUT", 30*time.Second),
		PersistTimeout: dc.MayDuration("PERSIST_TIMEOUT", 5*time.Second),
		Render:         dc.MayBool("RENDER", true),
		Occupancy:      occupancy.ConfigFrom(dc),
		Smoother:       smoother.ConfigFrom(dc),
	}
}
