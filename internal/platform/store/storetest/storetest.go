// Package storetest opens throwaway stores for repository tests
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"stallwatch/internal/platform/store"

	"github.com/rs/zerolog"
)

// SQLite opens a file backed sqlite store under t.TempDir and closes it on cleanup
// a file (not :memory:) keeps WAL and multi connection behavior close to production
func SQLite(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{
		Driver: store.DialectSQLite,
		SQLite: store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	}, store.WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("storetest: open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close(ctx) })
	return st
}
