package database

import (
	"github.com/reldb/reldb/internal/logger"
	"github.com/reldb/reldb/internal/storage"
	"github.com/reldb/reldb/internal/txn"
	"github.com/reldb/reldb/internal/value"
)

// replayHandler implements wal.Handler over the tables and txn.Manager a
// Database is about to open with. Row-mutation records name a table by
// string; DDL is not WAL-logged (CREATE TABLE only becomes durable at the
// next checkpoint), so a record naming a table absent from tables is
// logged and skipped rather than treated as fatal corruption.
type replayHandler struct {
	tables map[string]*storage.Table
	mgr    *txn.Manager
	logger *logger.Logger
}

func (h *replayHandler) OnBeginTx(txid uint64)  { h.mgr.RestoreStatus(txid, txn.StatusInProgress) }
func (h *replayHandler) OnCommitTx(txid uint64) { h.mgr.RestoreStatus(txid, txn.StatusCommitted) }
func (h *replayHandler) OnAbortTx(txid uint64)  { h.mgr.RestoreStatus(txid, txn.StatusAborted) }

func (h *replayHandler) OnInsertRow(table string, rowID uint64, txid uint64, row *value.Row) error {
	t, ok := h.tables[table]
	if !ok {
		h.logger.Warn("wal replay: insert into unknown table %q, row %d dropped", table, rowID)
		return nil
	}
	t.InsertAt(rowID, row, txid)
	return nil
}

func (h *replayHandler) OnUpdateCol(table string, rowID uint64, txid uint64, column string, v value.Value) error {
	t, ok := h.tables[table]
	if !ok {
		h.logger.Warn("wal replay: update on unknown table %q, row %d dropped", table, rowID)
		return nil
	}
	if err := t.ReplayUpdate(rowID, column, v, txid); err != nil {
		h.logger.Warn("wal replay: update table %q row %d: %v", table, rowID, err)
	}
	return nil
}

func (h *replayHandler) OnDeleteRow(table string, rowID uint64, txid uint64) error {
	t, ok := h.tables[table]
	if !ok {
		h.logger.Warn("wal replay: delete on unknown table %q, row %d dropped", table, rowID)
		return nil
	}
	if err := t.ReplayDelete(rowID, txid); err != nil {
		h.logger.Warn("wal replay: delete table %q row %d: %v", table, rowID, err)
	}
	return nil
}
