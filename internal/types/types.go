// Package types holds small cross-package value types used for database
// introspection and catalog persistence: nothing here owns behavior, it
// only shapes data passed between internal/database, internal/persistence
// and internal/vacuum.
package types

import "time"

// TableStats is the VACUUM result shape for one table, generalized into
// a per-table snapshot usable outside of a VACUUM run.
type TableStats struct {
	TableName       string
	RowCount        int
	TotalChains     int
	TotalVersions   int
	MaxChainLength  int
	VersionsRemoved int
}

// Stats is the whole-database introspection view: row counts, WAL size,
// last-vacuum time, and per-table chain statistics (chain and version
// totals, maximum chain length).
type Stats struct {
	TableCount     int
	TotalRows      uint64
	TotalChains    uint64
	TotalVersions  uint64
	WALSize        uint64
	ActiveTxns     int
	LastVacuum     time.Time
	LastCheckpoint time.Time
	Tables         []TableStats
}

// CatalogEntry records one table's persisted identity: its name and the
// schema/data file it lives in, plus a drop tombstone so DROP TABLE
// survives a restart without rescanning the data directory.
type CatalogEntry struct {
	TableName string
	FileName  string
	Dropped   bool
}

// IndexCatalogEntry records one B-tree index's identity so CREATE INDEX
// survives a restart: indexes themselves are regenerable from table data
// (per the Index entry definition), but the (name, table, column)
// declaration that drives the rebuild is not, so it is catalog state.
type IndexCatalogEntry struct {
	Name   string
	Table  string
	Column string
}
