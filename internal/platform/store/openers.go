package store

import (
	"context"
	"fmt"
	"time"

	"stallwatch/internal/core/version"
	chx "stallwatch/internal/platform/store/ch"
	"stallwatch/internal/platform/store/pg"
	"stallwatch/internal/platform/store/sqlite"
	"stallwatch/internal/platform/store/sqltrace"
)

// ping retry knobs for postgres, which may still be booting next to the api
var (
	pgPingAttempts = 20
	pgPingTimeout  = 3 * time.Second
	pgBackoffStart = 150 * time.Millisecond
	pgBackoffCap   = 2 * time.Second
)

// openPG opens pg, waits for the pool to answer and wraps it with the sql adapter
func openPG(ctx context.Context, cfg Config, s *Store) (TxRunner, error) {
	var tracer sqltrace.QueryTracer
	if cfg.PG.LogSQL {
		tracer = sqltrace.Tracer(s.Log, "pg")
	}

	p, err := pg.Open(ctx, pg.Config{
		URL:      cfg.PG.URL,
		MaxConns: cfg.PG.MaxConns,
		SlowMs:   cfg.PG.SlowQueryMs,
	}, tracer, nil)
	if err != nil {
		return nil, err
	}

	var lastErr error
	backoff := pgBackoffStart
	for i := 0; i < pgPingAttempts; i++ {
		toCtx, cancel := context.WithTimeout(ctx, pgPingTimeout)
		lastErr = p.Pool.Ping(toCtx)
		cancel()
		if lastErr == nil {
			return newPGAdapter(p), nil
		}
		s.Log.Warn().Err(lastErr).Int("attempt", i+1).Dur("backoff", backoff).Msg("postgres not ready")

		select {
		case <-ctx.Done():
			p.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, pgBackoffCap)
	}

	p.Close()
	return nil, fmt.Errorf("postgres ping failed after %d attempts: %w", pgPingAttempts, lastErr)
}

// openSQLite opens the embedded database and wraps it with the rebinding adapter
func openSQLite(ctx context.Context, cfg Config, s *Store) (TxRunner, error) {
	var tracer sqltrace.QueryTracer
	if cfg.SQLite.LogSQL {
		tracer = sqltrace.Tracer(s.Log, "sqlite")
	}
	db, err := sqlite.Open(ctx, sqlite.Config{
		Path:        cfg.SQLite.Path,
		BusyTimeout: cfg.SQLite.BusyTimeout,
		SlowMs:      cfg.SQLite.SlowQueryMs,
	}, tracer)
	if err != nil {
		return nil, err
	}
	return newSQLiteAdapter(db), nil
}

func openCH(ctx context.Context, cfg Config, _ *Store) (Clickhouse, error) {
	c, err := chx.Open(ctx, chx.Config{URL: cfg.CH.URL, Role: cfg.CH.Role, Tag: version.Version()})
	if err != nil {
		return nil, err
	}
	return newCHAdapter(c), nil
}
