// Package vacuum implements the garbage-collection pass: pruning row
// versions unreachable from any live snapshot, plus the auto-VACUUM
// trigger policy evaluated after every commit. A version is reclaimable
// once its creator aborted, or once it has been superseded by a commit
// that predates the oldest still-active snapshot's txid.
package vacuum

import (
	"github.com/dustin/go-humanize"

	"github.com/reldb/reldb/internal/config"
	"github.com/reldb/reldb/internal/logger"
	"github.com/reldb/reldb/internal/pool"
	"github.com/reldb/reldb/internal/storage"
	"github.com/reldb/reldb/internal/txn"
	"github.com/reldb/reldb/internal/types"
)

// Catalog is the minimal view VACUUM needs of the set of live tables.
type Catalog interface {
	Tables() map[string]*storage.Table
}

// Vacuum owns the auto-VACUUM trigger policy and a bounded worker pool
// used to run per-table passes concurrently.
type Vacuum struct {
	cfg    config.VacuumConfig
	mgr    *txn.Manager
	logger *logger.Logger
	pool   *pool.Pool

	txnsSinceLast int
}

func New(cfg config.VacuumConfig, mgr *txn.Manager, log *logger.Logger, workerPool *pool.Pool) *Vacuum {
	return &Vacuum{cfg: cfg, mgr: mgr, logger: log, pool: workerPool}
}

// Table runs one VACUUM pass over a single table and returns its stats.
func Table(t *storage.Table, mgr *txn.Manager) types.TableStats {
	oldest := mgr.OldestActiveTxID()
	stats := types.TableStats{TableName: t.Name}

	for _, rowID := range t.RowIDs() {
		head := t.Head(rowID)
		if head == nil {
			continue
		}
		chainLen := 0
		for v := head; v != nil; {
			chainLen++
			v = v.Next
		}
		stats.TotalChains++
		stats.TotalVersions += chainLen
		if chainLen > stats.MaxChainLength {
			stats.MaxChainLength = chainLen
		}

		headCreatorAborted := mgr.Status(head.Xmin) == txn.StatusAborted
		headDeadAndOld := head.Xmax != 0 && mgr.Status(head.Xmax) == txn.StatusCommitted && head.Xmax < oldest

		if headCreatorAborted || headDeadAndOld {
			t.Prune(rowID, nil)
			stats.VersionsRemoved += chainLen
			continue
		}

		kept := []*storage.Version{head}
		removed := 0
		for v := head.Next; v != nil; v = v.Next {
			dropAborted := mgr.Status(v.Xmin) == txn.StatusAborted
			dropSuperseded := v.Xmax != 0 && mgr.Status(v.Xmax) == txn.StatusCommitted && v.Xmax < oldest
			if dropAborted || dropSuperseded {
				removed++
				continue
			}
			kept = append(kept, v)
		}
		if removed > 0 {
			for i := 0; i < len(kept)-1; i++ {
				kept[i].Next = kept[i+1]
			}
			kept[len(kept)-1].Next = nil
			t.Prune(rowID, kept[0])
			stats.VersionsRemoved += removed
		}
	}
	return stats
}

// All runs a VACUUM pass over every table, fanning the per-table passes
// out across the worker pool when one is configured.
func (v *Vacuum) All(tables map[string]*storage.Table) []types.TableStats {
	results := make([]types.TableStats, len(tables))
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}

	if v.pool == nil {
		for i, name := range names {
			results[i] = Table(tables[name], v.mgr)
		}
	} else {
		jobs := make([]func() error, len(names))
		for i, name := range names {
			i, name := i, name
			jobs[i] = func() error {
				results[i] = Table(tables[name], v.mgr)
				return nil
			}
		}
		_ = v.pool.Run(jobs)
	}

	v.txnsSinceLast = 0
	var totalRemoved int
	var totalBytes uint64
	for _, s := range results {
		totalRemoved += s.VersionsRemoved
		totalBytes += uint64(s.VersionsRemoved) * 64 // rough per-version estimate for the log line
	}
	v.logger.Info("vacuum: reclaimed %d version(s) (~%s) across %d table(s)", totalRemoved, humanize.Bytes(totalBytes), len(results))
	return results
}

// AfterCommit implements the auto-VACUUM policy: after every commit, if
// enabled and either the max chain length or the txn-interval threshold
// is crossed, trigger a full VACUUM.
func (v *Vacuum) AfterCommit(tables map[string]*storage.Table) {
	if !v.cfg.Enabled {
		return
	}
	v.txnsSinceLast++

	trigger := v.txnsSinceLast >= v.cfg.TxnInterval && v.cfg.TxnInterval > 0
	if !trigger && v.cfg.MaxChainLength > 0 {
		for _, t := range tables {
			if maxChain(t) > v.cfg.MaxChainLength {
				trigger = true
				break
			}
		}
	}
	if trigger {
		v.All(tables)
	}
}

func maxChain(t *storage.Table) int {
	max := 0
	for _, rowID := range t.RowIDs() {
		if n := t.ChainLength(rowID); n > max {
			max = n
		}
	}
	return max
}
