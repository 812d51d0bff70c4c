package module

import (
	"time"

	"stallwatch/internal/core/retention"
	"stallwatch/internal/platform/config"
)

// Options holds RETENTION_* settings for the pruner
type Options struct {
	Policy retention.Policy
	Every  time.Duration
	// Stream enables the clickhouse stall_states insert when a clickhouse seam is configured
	Stream bool
}

// FromConfig reads RETENTION_* values from process config/env
func FromConfig(cfg config.Conf) Options {
	rc := cfg.Prefix("RETENTION_")
	return Options{
		Policy: retention.PolicyFrom(rc),
		Every:  rc.MayDuration("EVERY", time.Minute),
		Stream: cfg.Prefix("SINK_").MayBool("STREAM", true),
	}
}
