// Package sqltrace logs SQL statements issued through the store adapters
package sqltrace

import (
	"context"
	"time"

	"stallwatch/internal/platform/logger"

	"github.com/rs/zerolog"
)

// QueryEvent describes one statement round trip
type QueryEvent struct {
	Driver    string
	SQL       string
	Args      any
	ElapsedUS int64
	Err       error
	Slow      bool
}

// QueryTracer receives query events
type QueryTracer interface {
	OnQuery(ctx context.Context, ev QueryEvent)
}

// Tracer returns a QueryTracer that always prints, independent of the root level
func Tracer(root logger.Logger, driver string) QueryTracer {
	ll := root.Level(zerolog.DebugLevel).With().Str("component", driver).Logger()
	return &zlTracer{log: ll}
}

type zlTracer struct{ log logger.Logger }

func (z *zlTracer) OnQuery(ctx context.Context, ev QueryEvent) {
	evt := z.log.Info()
	if ev.Slow {
		evt = z.log.Warn()
	}
	if id, ok := logger.LotID(ctx); ok {
		evt = evt.Int64("lot_id", id)
	}
	evt.Float64("elapsed_ms", float64(ev.ElapsedUS)/1000.0).
		Bool("slow", ev.Slow).
		Str("sql", Compact(ev.SQL)).
		Interface("args", ev.Args).
		Err(ev.Err).
		Msg("sql query")
}

// Emit times a statement from start and hands it to t; nil t is a no-op
// slowMs < 0 disables the slow flag
func Emit(ctx context.Context, t QueryTracer, driver string, slowMs int, sql string, args []any, start time.Time, err error) {
	if t == nil {
		return
	}
	elapsedUS := time.Since(start).Microseconds()
	t.OnQuery(ctx, QueryEvent{
		Driver:    driver,
		SQL:       sql,
		Args:      args,
		ElapsedUS: elapsedUS,
		Err:       err,
		Slow:      slowMs >= 0 && elapsedUS >= int64(slowMs)*1000,
	})
}

// Compact folds runs of whitespace into single spaces
func Compact(s string) string {
	out := make([]rune, 0, len(s))
	space := false
	for _, r := range s {
		if r == '\n' || r == '\t' || r == '\r' || r == ' ' {
			if !space {
				out = append(out, ' ')
				space = true
			}
			continue
		}
		space = false
		out = append(out, r)
	}
	return string(out)
}
