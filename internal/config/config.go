// Package config holds reldb's nested-by-concern configuration struct:
// a top-level DataDir plus one sub-struct per subsystem.
package config

import "time"

type Config struct {
	DataDir string

	WAL        WALConfig
	Vacuum     VacuumConfig
	Validation ValidationConfig
	Pool       PoolConfig
	Cache      CacheConfig
}

type FsyncMode int

const (
	FsyncAlways   FsyncMode = iota // fdatasync every Flush (safest, slowest)
	FsyncGroup                     // syncs every Flush, same as FsyncAlways
	FsyncNone                      // never sync (benchmarks only, unsafe)
)

type WALConfig struct {
	Dir           string
	MaxFileSizeMB uint64
	Fsync         FsyncMode
	Checkpoint    CheckpointConfig
}

type CheckpointConfig struct {
	IntervalMB uint64 // auto-checkpoint once the active segment grows past this
	AutoCreate bool
}

// VacuumConfig mirrors the auto-VACUUM policy triggered after
// every commit when enabled and either threshold is crossed.
type VacuumConfig struct {
	Enabled        bool
	MaxChainLength int
	TxnInterval    int
}

// ValidationMode selects whether a validation error is fatal,
// logged-and-continued, or skipped entirely.
type ValidationMode int

const (
	ValidationStrict ValidationMode = iota
	ValidationWarnings
	ValidationDisabled
)

type ValidationConfig struct {
	Mode ValidationMode
}

// PoolConfig bounds the goroutine pool fanning out per-table VACUUM
// passes and post-recovery index rebuilds.
type PoolConfig struct {
	Workers      int
	ExpiryMS     int
	PreAllocated bool
}

// CacheConfig bounds the LRU of recently-deserialized row payloads
// consulted by Table.Get before walking the version chain.
type CacheConfig struct {
	Size int
}

func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		WAL: WALConfig{
			Dir:           "./data/wal",
			MaxFileSizeMB: 64,
			Fsync:         FsyncAlways,
			Checkpoint: CheckpointConfig{
				IntervalMB: 64,
				AutoCreate: true,
			},
		},
		Vacuum: VacuumConfig{
			Enabled:        true,
			MaxChainLength: 16,
			TxnInterval:    1000,
		},
		Validation: ValidationConfig{
			Mode: ValidationStrict,
		},
		Pool: PoolConfig{
			Workers:      8,
			ExpiryMS:     int(10 * time.Second / time.Millisecond),
			PreAllocated: false,
		},
		Cache: CacheConfig{
			Size: 4096,
		},
	}
}
