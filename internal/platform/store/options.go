package store

import (
	"stallwatch/internal/platform/logger"
)

// Option configures a Store before its backends are opened
type Option func(*Store) error

// WithLogger routes the sql tracers of every backend through log
// without it Open keeps the zero logger and traces go nowhere
func WithLogger(log logger.Logger) Option {
	return func(s *Store) error {
		s.Log = log
		return nil
	}
}
