// Package http hosts server adapters. Profiler mounts pprof endpoints when enabled
package http

import (
	stdhttp "net/http"

	"stallwatch/internal/platform/logger"

	mw "github.com/go-chi/chi/v5/middleware"
)

// MountProfiler serves pprof and expvar below prefix, e.g. /debug/pprof/heap
// nothing is mounted unless enabled
func MountProfiler(r Router, prefix string, enabled bool) {
	if !enabled {
		return
	}
	r.Handle(prefix+"/*", stdhttp.StripPrefix(prefix, mw.Profiler()))
	logger.Named("http").Warn().Str("prefix", prefix).Msg("profiler mounted")
}
