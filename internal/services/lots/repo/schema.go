package repo

import (
	"context"

	"stallwatch/internal/modkit/repokit"
	"stallwatch/internal/platform/store"
)

// Schema is the lots and stalls DDL; deleting a lot cascades to its stalls
var Schema = repokit.Schema{
	store.DialectPostgres: {
		`CREATE TABLE IF NOT EXISTS lots (
			id           BIGSERIAL PRIMARY KEY,
			name         TEXT        NOT NULL,
			source_uri   TEXT        NOT NULL,
			total_stalls INTEGER     NOT NULL CHECK (total_stalls > 0),
			flip         BOOLEAN     NOT NULL DEFAULT FALSE,
			desired      TEXT        NOT NULL DEFAULT 'running',
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stalls (
			lot_id   BIGINT  NOT NULL REFERENCES lots(id) ON DELETE CASCADE,
			stall_id TEXT    NOT NULL,
			lane     INTEGER NOT NULL CHECK (lane BETWEEN 1 AND 9),
			polygon  TEXT    NOT NULL,
			PRIMARY KEY (lot_id, stall_id)
		)`,
	},
	store.DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS lots (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			name         TEXT      NOT NULL,
			source_uri   TEXT      NOT NULL,
			total_stalls INTEGER   NOT NULL CHECK (total_stalls > 0),
			flip         BOOLEAN   NOT NULL DEFAULT 0,
			desired      TEXT      NOT NULL DEFAULT 'running',
			created_at   TIMESTAMP NOT NULL,
			updated_at   TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stalls (
			lot_id   INTEGER NOT NULL REFERENCES lots(id) ON DELETE CASCADE,
			stall_id TEXT    NOT NULL,
			lane     INTEGER NOT NULL CHECK (lane BETWEEN 1 AND 9),
			polygon  TEXT    NOT NULL,
			PRIMARY KEY (lot_id, stall_id)
		)`,
	},
}

// Migrate applies Schema for d
func Migrate(ctx context.Context, tx repokit.TxRunner, d store.Dialect) error {
	return repokit.Migrate(ctx, tx, d, Schema)
}
