package wal

import (
	"os"

	"github.com/reldb/reldb/internal/logger"
	"github.com/reldb/reldb/internal/value"
)

// Handler receives replayed records in order. Implementations apply
// insert_row / update_col / delete_row to the in-memory table exactly as
// the original operation would, and track begin/commit/abort in the
// transaction manager's CLOG.
type Handler interface {
	OnBeginTx(txid uint64)
	OnCommitTx(txid uint64)
	OnAbortTx(txid uint64)
	OnInsertRow(table string, rowID uint64, txid uint64, row *value.Row) error
	OnUpdateCol(table string, rowID uint64, txid uint64, column string, v value.Value) error
	OnDeleteRow(table string, rowID uint64, txid uint64) error
}

// Recovery replays every WAL segment in a directory over a Handler,
// skipping records at or below the last checkpoint's LSN.
type Recovery struct {
	dir    string
	logger *logger.Logger
}

func NewRecovery(dir string, log *logger.Logger) *Recovery {
	return &Recovery{dir: dir, logger: log}
}

// Replay walks every segment in sequence order, applying records with
// LSN > lastCheckpointLSN to handler. It returns the highest LSN and
// txid observed, so the writer and transaction manager can resume
// assignment past them.
func (r *Recovery) Replay(lastCheckpointLSN uint64, handler Handler) (maxLSN uint64, maxTxID uint64, err error) {
	paths, err := ListSegmentPaths(r.dir)
	if err != nil {
		return 0, 0, err
	}
	if len(paths) == 0 {
		r.logger.Info("wal: no segments to replay")
		return 0, 0, nil
	}

	r.logger.Info("wal: replaying %d segment(s)", len(paths))

	for i, path := range paths {
		isLast := i == len(paths)-1
		segMax, segMaxTx, segErr := r.replaySegment(path, lastCheckpointLSN, handler, isLast)
		if segMax > maxLSN {
			maxLSN = segMax
		}
		if segMaxTx > maxTxID {
			maxTxID = segMaxTx
		}
		if segErr != nil {
			return maxLSN, maxTxID, segErr
		}
	}
	return maxLSN, maxTxID, nil
}

func (r *Recovery) replaySegment(path string, lastCheckpointLSN uint64, handler Handler, isLast bool) (maxLSN uint64, maxTxID uint64, err error) {
	reader := NewReader(path, r.logger)
	if openErr := reader.Open(); openErr != nil {
		if os.IsNotExist(openErr) {
			return 0, 0, nil
		}
		return 0, 0, openErr
	}
	defer reader.Close()

	count := 0
	var goodOff int64
	for {
		rec, ok, readErr := reader.Next()
		if readErr != nil {
			if isLast {
				// Tail corruption on the active segment: the writer was
				// likely interrupted mid-record. Truncate and stop.
				r.logger.Warn("wal: truncating tail of %s after %d records: %v", path, count, readErr)
				reader.Close()
				os.Truncate(path, goodOff)
				return maxLSN, maxTxID, nil
			}
			r.logger.Error("wal: corrupt record mid-log in %s: %v", path, readErr)
			return maxLSN, maxTxID, readErr
		}
		if !ok {
			break
		}
		count++
		if off, offErr := reader.Offset(); offErr == nil {
			goodOff = off
		}

		if rec.LSN > maxLSN {
			maxLSN = rec.LSN
		}
		if rec.TxID > maxTxID {
			maxTxID = rec.TxID
		}
		if rec.LSN <= lastCheckpointLSN {
			continue
		}

		if applyErr := r.apply(rec, handler); applyErr != nil {
			r.logger.Error("wal: apply error for record %d in %s: %v", count, path, applyErr)
		}
	}
	r.logger.Info("wal: replayed %d records from %s", count, path)
	return maxLSN, maxTxID, nil
}

func (r *Recovery) apply(rec Record, handler Handler) error {
	switch rec.Kind {
	case KindBeginTx:
		handler.OnBeginTx(rec.TxID)
	case KindCommitTx:
		handler.OnCommitTx(rec.TxID)
	case KindAbortTx:
		handler.OnAbortTx(rec.TxID)
	case KindInsertRow:
		row, err := value.DecodeRow(rec.Value.Text)
		if err != nil {
			return err
		}
		return handler.OnInsertRow(rec.TableName, rec.RowID, rec.TxID, row)
	case KindUpdateCol:
		return handler.OnUpdateCol(rec.TableName, rec.RowID, rec.TxID, rec.ColumnName, rec.Value)
	case KindDeleteRow:
		return handler.OnDeleteRow(rec.TableName, rec.RowID, rec.TxID)
	case KindCheckpoint:
		// Ignored during replay; serves only as the resume marker.
	}
	return nil
}
