// Package repokit provides common types and helpers for repository implementations
package repokit

import (
	"context"
	"fmt"

	"stallwatch/internal/platform/store"
)

// Queryer is the minimal read and write surface for SQL repos
type Queryer = store.RowQuerier

// TxRunner can execute a function inside a transaction
type TxRunner = store.TxRunner

type (
	// Rows are the result set of a query
	Rows = store.Rows
	// Row is a single row result from a query
	Row = store.Row
	// CommandTag is the result of a command that modifies data
	CommandTag = store.CommandTag
)

// WithTx runs fn inside a transaction using the provided TxRunner
func WithTx(ctx context.Context, tx TxRunner, fn func(q Queryer) error) error {
	return tx.Tx(ctx, fn)
}

// Schema holds idempotent DDL per dialect
type Schema map[store.Dialect][]string

// Migrate applies the statements for d in one transaction
func Migrate(ctx context.Context, tx TxRunner, d store.Dialect, s Schema) error {
	stmts, ok := s[d]
	if !ok {
		return fmt.Errorf("repokit: no schema for dialect %q", d)
	}
	return tx.Tx(ctx, func(q Queryer) error {
		for i, stmt := range stmts {
			if _, err := q.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("repokit: schema stmt %d: %w", i, err)
			}
		}
		return nil
	})
}
