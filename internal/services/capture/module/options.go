package module

import (
	"time"

	"stallwatch/internal/platform/config"
)

// Options holds CAPTURE_* settings
type Options struct {
	Every       time.Duration
	GrabTimeout time.Duration
	RetryBase   time.Duration
	RetryMax    time.Duration
	MaxBytes    int64
}

// FromConfig reads CAPTURE_* values from process config/env
func FromConfig(cfg config.Conf) Options {
	cc := cfg.Prefix("CAPTURE_")
	return Options{
		Every:       cc.MayDuration("EVERY", time.Second),
		GrabTimeout: cc.MayDuration("TIMEOUT", 5*time.Second),
		RetryBase:   cc.MayDuration("RETRY_BASE", time.Second),
		RetryMax:    cc.MayDuration("RETRY_MAX", 30*time.Second),
		MaxBytes:    int64(cc.MayInt("MAX_BYTES", 16<<20)),
	}
}
