// Package database wires every other package into the embeddable
// lifecycle a host program actually drives: Open loads the catalog,
// replays the WAL past the last checkpoint, and hands back a ready
// Executor; Checkpoint and Close persist everything back out.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reldb/reldb/internal/config"
	dberrors "github.com/reldb/reldb/internal/errors"
	"github.com/reldb/reldb/internal/exec"
	"github.com/reldb/reldb/internal/index"
	"github.com/reldb/reldb/internal/logger"
	"github.com/reldb/reldb/internal/persistence"
	"github.com/reldb/reldb/internal/pool"
	"github.com/reldb/reldb/internal/sql"
	"github.com/reldb/reldb/internal/storage"
	"github.com/reldb/reldb/internal/txn"
	"github.com/reldb/reldb/internal/types"
	"github.com/reldb/reldb/internal/vacuum"
	"github.com/reldb/reldb/internal/wal"
)

const (
	catalogFileName = "CATALOG"
	clogFileName    = "CLOG"
	tableFileSuffix = ".tbl"
)

// Database is the single embeddable handle a host program opens once:
// it owns the live tables, the transaction manager and its CLOG, every
// secondary index, the WAL writer, and the executor that dispatches
// commands against all of it.
type Database struct {
	mu sync.Mutex

	cfg    *config.Config
	logger *logger.Logger

	tables map[string]*storage.Table
	mgr    *txn.Manager
	idx    *index.Manager
	vac    *vacuum.Vacuum
	exec   *exec.Executor

	walWriter *wal.Writer
	ckpt      *wal.CheckpointManager
	trimmer   *wal.Trimmer
	workers   *pool.Pool

	io         *persistence.IOPolicy
	classifier *dberrors.Classifier
	tracker    *dberrors.ErrorTracker

	catalogPath string
	clogPath    string

	// knownTables mirrors the table set as of the last checkpoint, so the
	// next checkpoint can tell which tables were dropped in between (a
	// dropped table leaves no trace in the live tables map) and emit a
	// tombstone catalog entry for it.
	knownTables map[string]string

	clock int64 // value of Open's snapshot-timestamp counter when Open returned; not advanced afterwards

	lastCheckpointAt time.Time
	lastVacuumAt     time.Time
}

// Tables implements vacuum.Catalog.
func (d *Database) Tables() map[string]*storage.Table { return d.tables }

// Open loads (or creates) the database rooted at cfg.DataDir: an empty
// or missing data directory starts a fresh database; one with a prior
// catalog and CLOG reloads every live table and replays the WAL past
// the last checkpoint before accepting new commands.
func Open(cfg *config.Config, log *logger.Logger) (*Database, error) {
	if log == nil {
		log = logger.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("database: create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.WAL.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("database: create wal dir: %w", err)
	}

	instanceID, err := wal.OpenOrCreateInstanceID(cfg.WAL.Dir)
	if err != nil {
		return nil, fmt.Errorf("database: wal instance id: %w", err)
	}
	log.Info("database: wal instance %s", instanceID)

	io := persistence.NewIOPolicy()
	catalogPath := filepath.Join(cfg.DataDir, catalogFileName)
	clogPath := filepath.Join(cfg.DataDir, clogFileName)

	cat, err := persistence.LoadCatalog(catalogPath, io)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("database: load catalog: %w", err)
	}

	tables := make(map[string]*storage.Table)
	knownTables := make(map[string]string)
	for _, e := range cat.Tables {
		if e.Dropped {
			continue
		}
		t, err := persistence.LoadTable(filepath.Join(cfg.DataDir, e.FileName), io)
		if err != nil {
			return nil, fmt.Errorf("database: load table %q: %w", e.TableName, err)
		}
		tables[e.TableName] = t
		knownTables[e.TableName] = e.FileName
		t.EnableCache(cfg.Cache.Size)
	}

	clog, err := persistence.LoadCLOG(clogPath, io)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("database: load clog: %w", err)
	}

	var clock int64
	mgr := txn.NewManager(func() int64 { return atomic.AddInt64(&clock, 1) })
	for txid, status := range clog {
		mgr.RestoreStatus(txid, status)
	}

	recovery := wal.NewRecovery(cfg.WAL.Dir, log.Sub("wal"))
	handler := &replayHandler{tables: tables, mgr: mgr, logger: log.Sub("recovery")}
	maxLSN, maxTxID, err := recovery.Replay(cat.LastCheckpointLSN, handler)
	if err != nil {
		return nil, fmt.Errorf("database: wal replay: %w", err)
	}
	mgr.RestoreTxID(maxTxID)
	mgr.AbortAllInProgress()

	walWriter := wal.NewWriter(cfg.WAL.Dir, cfg.WAL.MaxFileSizeMB*1024*1024, cfg.WAL.Fsync != config.FsyncNone, log.Sub("wal"))
	if err := walWriter.Open(maxLSN + 1); err != nil {
		return nil, fmt.Errorf("database: open wal writer: %w", err)
	}

	ckpt := wal.NewCheckpointManager(cfg.WAL.Checkpoint.IntervalMB*1024*1024, cfg.WAL.Checkpoint.AutoCreate, log.Sub("wal"))
	ckpt.Reset(cat.LastCheckpointLSN)
	trimmer := wal.NewTrimmer(cfg.WAL.Dir, log.Sub("wal"))

	workers, err := pool.New(cfg.Pool.Workers)
	if err != nil {
		return nil, fmt.Errorf("database: start worker pool: %w", err)
	}

	idx := index.NewManager()
	rebuildIndexes(idx, tables, cat.Indexes, mgr, workers, log.Sub("index"))

	vac := vacuum.New(cfg.Vacuum, mgr, log.Sub("vacuum"), workers)
	executor := exec.New(tables, mgr, walWriter, idx, vac, cfg, log.Sub("exec"))

	db := &Database{
		cfg:         cfg,
		logger:      log,
		tables:      tables,
		mgr:         mgr,
		idx:         idx,
		vac:         vac,
		exec:        executor,
		walWriter:   walWriter,
		ckpt:        ckpt,
		trimmer:     trimmer,
		workers:     workers,
		io:          io,
		classifier:  dberrors.NewClassifier(),
		tracker:     dberrors.NewErrorTracker(),
		catalogPath: catalogPath,
		clogPath:    clogPath,
		knownTables: knownTables,
		clock:       clock,
	}
	return db, nil
}

// rebuildIndexes recreates every catalog-declared B-tree and repopulates
// it (and every embedding column's shared HNSW graph) from each row's
// visible version: the newest version whose creator committed, skipped
// when a committed transaction has superseded it. One job per table is
// fanned out across workers.
func rebuildIndexes(idx *index.Manager, tables map[string]*storage.Table, entries []types.IndexCatalogEntry, mgr *txn.Manager, workers *pool.Pool, log *logger.Logger) {
	for _, e := range entries {
		if err := idx.CreateBTree(e.Name, e.Table, e.Column); err != nil {
			log.Warn("index rebuild: create %q over %s.%s: %v", e.Name, e.Table, e.Column, err)
		}
	}

	jobs := make([]func() error, 0, len(tables))
	for _, t := range tables {
		t := t
		jobs = append(jobs, func() error {
			for _, rowID := range t.RowIDs() {
				for v := t.Head(rowID); v != nil; v = v.Next {
					if mgr.Status(v.Xmin) != txn.StatusCommitted {
						continue
					}
					if v.Xmax == 0 || mgr.Status(v.Xmax) != txn.StatusCommitted {
						if _, err := idx.OnInsert(t.Name, t.Columns, rowID, v.Attrs); err != nil {
							log.Warn("index rebuild: table %s row %d: %v", t.Name, rowID, err)
						}
					}
					break
				}
			}
			return nil
		})
	}
	if workers != nil {
		_ = workers.Run(jobs)
	} else {
		for _, job := range jobs {
			_ = job()
		}
	}
}

// Execute dispatches cmd to the executor and triggers an automatic
// checkpoint once the active WAL segment has grown past the configured
// interval, mirroring the auto-checkpoint trigger the same way auto-VACUUM
// is triggered after every commit.
func (d *Database) Execute(cmd sql.Command) (*exec.Result, error) {
	if v, ok := cmd.(sql.Vacuum); ok {
		res, err := d.exec.Execute(v)
		if err == nil {
			d.mu.Lock()
			d.lastVacuumAt = time.Now()
			d.mu.Unlock()
		} else {
			d.tracker.RecordError(err, dberrors.ErrorPermanent)
		}
		return res, err
	}

	res, err := d.exec.Execute(cmd)
	if err != nil {
		d.tracker.RecordError(err, d.classifier.Classify(err))
		return nil, err
	}

	if d.ckpt.ShouldCheckpoint(d.walWriter.Size()) {
		if cerr := d.Checkpoint(); cerr != nil {
			d.logger.Error("database: auto-checkpoint failed: %v", cerr)
		}
	}
	return res, nil
}

// Checkpoint writes a checkpoint WAL record, persists every live table
// (full MVCC-chain format, so reopening preserves exactly the visibility
// every still-active snapshot had), the CLOG, and the catalog manifest,
// then trims WAL segments the new checkpoint fully covers.
func (d *Database) Checkpoint() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	lsn, err := d.walWriter.Append(wal.Record{Kind: wal.KindCheckpoint})
	if err != nil {
		return fmt.Errorf("database: append checkpoint record: %w", err)
	}
	if err := d.walWriter.Flush(); err != nil {
		return fmt.Errorf("database: flush wal: %w", err)
	}

	tableEntries := make([]types.CatalogEntry, 0, len(d.tables))
	seen := make(map[string]bool, len(d.tables))
	for name, t := range d.tables {
		fname := name + tableFileSuffix
		path := filepath.Join(d.cfg.DataDir, fname)
		if err := persistence.SaveTable(path, t, persistence.FormatMVCC, d.io); err != nil {
			return fmt.Errorf("database: save table %q: %w", name, err)
		}
		tableEntries = append(tableEntries, types.CatalogEntry{TableName: name, FileName: fname})
		seen[name] = true
	}
	for name, fname := range d.knownTables {
		if seen[name] {
			continue
		}
		tableEntries = append(tableEntries, types.CatalogEntry{TableName: name, FileName: fname, Dropped: true})
		if err := os.Remove(filepath.Join(d.cfg.DataDir, fname)); err != nil && !os.IsNotExist(err) {
			d.logger.Warn("database: remove dropped table file %s: %v", fname, err)
		}
	}

	if err := persistence.SaveCLOG(d.clogPath, d.mgr.SnapshotCLOG(), d.io); err != nil {
		return fmt.Errorf("database: save clog: %w", err)
	}

	cat := persistence.Catalog{
		LastCheckpointLSN: lsn,
		Tables:            tableEntries,
		Indexes:           d.idx.Entries(),
	}
	if err := persistence.SaveCatalog(d.catalogPath, cat, d.io); err != nil {
		return fmt.Errorf("database: save catalog: %w", err)
	}

	d.ckpt.RecordCheckpoint(lsn, d.walWriter.Size())
	d.knownTables = make(map[string]string, len(tableEntries))
	for _, e := range tableEntries {
		if !e.Dropped {
			d.knownTables[e.TableName] = e.FileName
		}
	}
	d.lastCheckpointAt = time.Now()

	if err := d.trimmer.TrimBeforeCheckpoint(1); err != nil {
		d.logger.Warn("database: wal trim: %v", err)
	}
	return nil
}

// Close performs a final checkpoint, flushes and closes the WAL, and
// releases the worker pool. Per the shutdown contract, a clean Close
// always leaves the next Open with nothing to replay.
func (d *Database) Close() error {
	if err := d.Checkpoint(); err != nil {
		d.logger.Error("database: final checkpoint failed: %v", err)
	}
	if err := d.walWriter.Close(); err != nil {
		return fmt.Errorf("database: close wal: %w", err)
	}
	d.workers.Release()
	return nil
}

// Stats reports a point-in-time introspection snapshot: row/version
// counts per table, WAL size, active transaction count, and the last
// VACUUM/checkpoint times.
func (d *Database) Stats() types.Stats {
	d.mu.Lock()
	lastCkpt := d.lastCheckpointAt
	lastVac := d.lastVacuumAt
	d.mu.Unlock()

	st := types.Stats{
		TableCount:     len(d.tables),
		WALSize:        d.walWriter.Size(),
		ActiveTxns:     d.mgr.ActiveCount(),
		LastVacuum:     lastVac,
		LastCheckpoint: lastCkpt,
	}
	for name, t := range d.tables {
		ts := types.TableStats{TableName: name}
		for _, rowID := range t.RowIDs() {
			n := t.ChainLength(rowID)
			if n == 0 {
				continue
			}
			ts.RowCount++
			ts.TotalChains++
			ts.TotalVersions += n
			if n > ts.MaxChainLength {
				ts.MaxChainLength = n
			}
		}
		st.TotalRows += uint64(ts.RowCount)
		st.TotalChains += uint64(ts.TotalChains)
		st.TotalVersions += uint64(ts.TotalVersions)
		st.Tables = append(st.Tables, ts)
	}
	return st
}

// ErrorTracker exposes the accumulated error/retry telemetry for a host
// program's own health checks or metrics export.
func (d *Database) ErrorTracker() *dberrors.ErrorTracker { return d.tracker }
