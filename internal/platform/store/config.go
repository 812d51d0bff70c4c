package store

import (
	"time"

	"stallwatch/internal/platform/config"
)

// Config aggregates per backend configuration
type Config struct {
	AppName string
	Driver  Dialect

	PG     PGConfig
	SQLite SQLiteConfig
	CH     CHConfig
}

// PGConfig configures postgres connectivity and tracing
type PGConfig struct {
	URL         string
	MaxConns    int32
	LogSQL      bool
	SlowQueryMs int
}

// SQLiteConfig configures the embedded database
type SQLiteConfig struct {
	Path        string
	BusyTimeout time.Duration
	LogSQL      bool
	SlowQueryMs int
}

// CHConfig configures clickhouse connectivity
type CHConfig struct {
	Enabled bool
	URL     string
	Role    string
}

// ConfigFromEnv reads STORE_, SERVICE_PGSQL_, SERVICE_SQLITE_ and SERVICE_CLICKHOUSE_ keys
func ConfigFromEnv(c config.Conf, appName, role string) Config {
	pg := c.Prefix("SERVICE_PGSQL_")
	lite := c.Prefix("SERVICE_SQLITE_")
	ch := c.Prefix("SERVICE_CLICKHOUSE_")

	cfg := Config{
		AppName: appName,
		Driver:  Dialect(c.Prefix("STORE_").MayEnum("DRIVER", string(DialectSQLite), string(DialectSQLite), string(DialectPostgres))),
		SQLite: SQLiteConfig{
			Path:        lite.MayString("PATH", "data/stallwatch.db"),
			BusyTimeout: lite.MayDuration("BUSY_TIMEOUT", 5*time.Second),
			LogSQL:      lite.MayBool("LOG_SQL", false),
			SlowQueryMs: lite.MayInt("SLOW_MS", 200),
		},
		CH: CHConfig{
			Enabled: ch.MayBool("ENABLED", false),
			URL:     ch.MayString("URL", "clickhouse://localhost:9000/default"),
			Role:    role,
		},
	}
	if cfg.Driver == DialectPostgres {
		cfg.PG = PGConfig{
			URL:         pg.MustString("URL"),
			MaxConns:    int32(pg.MayInt("MAX_CONNS", 8)),
			LogSQL:      pg.MayBool("LOG_SQL", false),
			SlowQueryMs: pg.MayInt("SLOW_MS", 200),
		}
	}
	return cfg
}
