// Package sqlite opens the embedded database used when no Postgres is configured
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stallwatch/internal/platform/store/sqltrace"

	_ "modernc.org/sqlite"
)

// Config configures the embedded database
type Config struct {
	// Path is a file path or ":memory:"
	Path        string
	BusyTimeout time.Duration
	MaxConns    int
	SlowMs      int
}

// DB is a database/sql handle plus tracing knobs
type DB struct {
	SQL    *sql.DB
	Tracer sqltrace.QueryTracer
	SlowMs int
}

// DSN builds a modernc DSN with per-connection pragmas
// pragmas in the DSN apply to every pooled connection, not just the first
func DSN(cfg Config) string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	// timestamps round trip through TIMESTAMP columns as RFC3339 like text
	q.Add("_time_format", "sqlite")
	if !isMemory(cfg.Path) {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
	}
	path := cfg.Path
	if isMemory(path) {
		path = ":memory:"
	}
	return "file:" + path + "?" + q.Encode()
}

func isMemory(p string) bool { return p == "" || p == ":memory:" }

// Open creates the parent directory, opens the pool and pings it
// an in-memory database is pinned to one connection so every query sees the same data
func Open(ctx context.Context, cfg Config, tracer sqltrace.QueryTracer) (*DB, error) {
	if !isMemory(cfg.Path) {
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite: mkdir %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	switch {
	case isMemory(cfg.Path):
		db.SetMaxOpenConns(1)
	case cfg.MaxConns > 0:
		db.SetMaxOpenConns(cfg.MaxConns)
	default:
		db.SetMaxOpenConns(4)
	}
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", strings.TrimSpace(cfg.Path), err)
	}
	return &DB{SQL: db, Tracer: tracer, SlowMs: cfg.SlowMs}, nil
}

// Close closes the pool
func (d *DB) Close() error {
	if d == nil || d.SQL == nil {
		return nil
	}
	return d.SQL.Close()
}
