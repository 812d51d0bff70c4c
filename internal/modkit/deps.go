// Package modkit provides module wiring and core deps
package modkit

import (
	"stallwatch/internal/modkit/repokit"
	"stallwatch/internal/platform/config"
	"stallwatch/internal/platform/logger"
	"stallwatch/internal/platform/store"
)

// Deps holds core dependencies passed to modules
// this is wiring only and does not introduce new abstractions
type Deps struct {
	Log     logger.Logger
	Cfg     config.Conf
	SQL     repokit.TxRunner
	Dialect store.Dialect
	// CH is nil unless the clickhouse history stream is enabled
	CH store.Clickhouse
	// DataDir is the root of the per lot artifact trees
	DataDir string
}

// FromStore copies the opened backends of st into Deps
func FromStore(st *store.Store, cfg config.Conf, dataDir string) Deps {
	return Deps{
		Log:     st.Log,
		Cfg:     cfg,
		SQL:     st.SQL,
		Dialect: st.Dialect,
		CH:      st.CH,
		DataDir: dataDir,
	}
}
