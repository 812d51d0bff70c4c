package repo

import (
	"context"

	"stallwatch/internal/modkit/repokit"
	"stallwatch/internal/platform/store"
)

// Schema holds the snapshot history and the current snapshot per lot
// both cascade from lots; apply after the lots schema
var Schema = repokit.Schema{
	store.DialectPostgres: {
		`CREATE TABLE IF NOT EXISTS snapshots (
			id         BIGSERIAL   PRIMARY KEY,
			lot_id     BIGINT      NOT NULL REFERENCES lots(id) ON DELETE CASCADE,
			cycle_id   TEXT        NOT NULL,
			taken_at   TIMESTAMPTZ NOT NULL,
			frame_at   TIMESTAMPTZ NOT NULL,
			frame      TEXT        NOT NULL DEFAULT '',
			overlay    TEXT        NOT NULL DEFAULT '',
			map        TEXT        NOT NULL DEFAULT '',
			open       INTEGER     NOT NULL,
			occupied   INTEGER     NOT NULL,
			unknown    INTEGER     NOT NULL,
			stalls     TEXT        NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS snapshots_lot_taken ON snapshots (lot_id, taken_at DESC)`,
		`CREATE TABLE IF NOT EXISTS current_snapshots (
			lot_id   BIGINT      PRIMARY KEY REFERENCES lots(id) ON DELETE CASCADE,
			cycle_id TEXT        NOT NULL,
			taken_at TIMESTAMPTZ NOT NULL,
			frame_at TIMESTAMPTZ NOT NULL,
			frame    TEXT        NOT NULL DEFAULT '',
			overlay  TEXT        NOT NULL DEFAULT '',
			map      TEXT        NOT NULL DEFAULT '',
			open     INTEGER     NOT NULL,
			occupied INTEGER     NOT NULL,
			unknown  INTEGER     NOT NULL,
			stalls   TEXT        NOT NULL
		)`,
	},
	store.DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS snapshots (
			id         INTEGER   PRIMARY KEY AUTOINCREMENT,
			lot_id     INTEGER   NOT NULL REFERENCES lots(id) ON DELETE CASCADE,
			cycle_id   TEXT      NOT NULL,
			taken_at   TIMESTAMP NOT NULL,
			frame_at   TIMESTAMP NOT NULL,
			frame      TEXT      NOT NULL DEFAULT '',
			overlay    TEXT      NOT NULL DEFAULT '',
			map        TEXT      NOT NULL DEFAULT '',
			open       INTEGER   NOT NULL,
			occupied   INTEGER   NOT NULL,
			unknown    INTEGER   NOT NULL,
			stalls     TEXT      NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS snapshots_lot_taken ON snapshots (lot_id, taken_at DESC)`,
		`CREATE TABLE IF NOT EXISTS current_snapshots (
			lot_id   INTEGER   PRIMARY KEY REFERENCES lots(id) ON DELETE CASCADE,
			cycle_id TEXT      NOT NULL,
			taken_at TIMESTAMP NOT NULL,
			frame_at TIMESTAMP NOT NULL,
			frame    TEXT      NOT NULL DEFAULT '',
			overlay  TEXT      NOT NULL DEFAULT '',
			map      TEXT      NOT NULL DEFAULT '',
			open     INTEGER   NOT NULL,
			occupied INTEGER   NOT NULL,
			unknown  INTEGER   NOT NULL,
			stalls   TEXT      NOT NULL
		)`,
	},
}

// Migrate applies Schema for d
func Migrate(ctx context.Context, tx repokit.TxRunner, d store.Dialect) error {
	return repokit.Migrate(ctx, tx, d, Schema)
}

// StallStatesDDL creates the optional ClickHouse history stream, one row per stall per cycle
const StallStatesDDL = `CREATE TABLE IF NOT EXISTS stall_states (
	lot_id   Int64,
	cycle_id UUID,
	stall_id String,
	lane     UInt8,
	state    LowCardinality(String),
	since    DateTime64(3, 'UTC'),
	ratio    Float64,
	taken_at DateTime64(3, 'UTC')
) ENGINE = MergeTree
ORDER BY (lot_id, stall_id, taken_at)
TTL toDateTime(taken_at) + INTERVAL 30 DAY`
