package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"stallwatch/internal/platform/config"
	kit "stallwatch/internal/platform/testkit"

	"github.com/rs/zerolog"
)

// fakeTx satisfies TxRunner and Pinger
type fakeTx struct {
	RowQuerier
	err error
}

func (f *fakeTx) Tx(context.Context, func(q RowQuerier) error) error { return nil }
func (f *fakeTx) Ping(context.Context) error                         { return f.err }

func TestOpenSQLiteDefault(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stallwatch.db")
	s, err := Open(ctx, Config{SQLite: SQLiteConfig{Path: path}}, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close(ctx)

	if s.Dialect != DialectSQLite || s.SQL == nil || s.CH != nil {
		t.Fatalf("unexpected store: %+v", s)
	}
	if err := s.Guard(ctx); err != nil {
		t.Fatalf("Guard: %v", err)
	}
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, Config{Driver: "mysql"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(ctx, Config{Driver: DialectPostgres, PG: PGConfig{URL: "://bad"}}); err == nil {
		t.Fatalf("expected pg parse error")
	}
	bad := errors.New("opt")
	if _, err := Open(ctx, Config{}, func(*Store) error { return bad }); !errors.Is(err, bad) {
		t.Fatalf("option error not returned: %v", err)
	}
}

func TestGuard(t *testing.T) {
	var nilStore *Store
	if err := nilStore.Guard(context.Background()); err == nil {
		t.Fatalf("nil store should error")
	}
	if err := (&Store{}).Guard(context.Background()); err != nil {
		t.Fatalf("empty store: %v", err)
	}
	s := &Store{SQL: &fakeTx{err: errors.New("boom")}, Dialect: DialectPostgres}
	err := s.Guard(context.Background())
	if err == nil || !strings.HasPrefix(err.Error(), "postgres: ") {
		t.Fatalf("Guard err = %v", err)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SERVICE_SQLITE_PATH", "/tmp/lots.db")
	t.Setenv("SERVICE_CLICKHOUSE_ENABLED", "true")
	cfg := ConfigFromEnv(config.New(), "stallwatch", "api")
	if cfg.Driver != DialectSQLite || cfg.SQLite.Path != "/tmp/lots.db" || !cfg.CH.Enabled || cfg.CH.Role != "api" {
		t.Fatalf("cfg = %+v", cfg)
	}

	t.Setenv("STORE_DRIVER", "postgres")
	kit.MustPanic(t, func() { _ = ConfigFromEnv(config.New(), "stallwatch", "api") })

	t.Setenv("SERVICE_PGSQL_URL", "postgres://u:p@db/stallwatch")
	if cfg := ConfigFromEnv(config.New(), "stallwatch", "api"); cfg.PG.URL == "" || cfg.PG.MaxConns != 8 {
		t.Fatalf("pg cfg = %+v", cfg.PG)
	}
}
