package exec

import (
	"context"

	"github.com/reldb/reldb/internal/sql"
	"github.com/reldb/reldb/internal/storage"
	"github.com/reldb/reldb/internal/txn"
	"github.com/reldb/reldb/internal/value"
	"github.com/reldb/reldb/internal/wal"
)

func (e *Executor) execSelect(c sql.Select) (*Result, error) {
	if err := e.selectSem.Acquire(context.Background(), 1); err != nil {
		return nil, wrap(err)
	}
	defer e.selectSem.Release(1)

	snap := e.currentSnapshot()
	rows, cols, err := e.runSelect(&c, snap)
	if err != nil {
		return nil, wrap(err)
	}
	return &Result{Columns: cols, Rows: rows}, nil
}

// currentSnapshot returns the session transaction's snapshot if one is
// active, or a fresh throwaway snapshot for an autocommit read.
func (e *Executor) currentSnapshot() *txn.Snapshot {
	if e.curTx != nil {
		return e.curTx.Snapshot
	}
	tx := e.mgr.Begin()
	e.mgr.Commit(tx.ID)
	return tx.Snapshot
}

func (e *Executor) execInsert(c sql.Insert) (*Result, error) {
	t, ok := e.tables[c.Table]
	if !ok {
		return nil, newError(ErrTableNotFound, "table %q does not exist", c.Table)
	}

	row, err := e.buildInsertRow(t, c)
	if err != nil {
		return nil, wrap(err)
	}

	err = e.withStatementTx(func(tx *txn.Tx) error {
		rowID := t.Insert(row, tx.ID)
		tx.MarkWritten(c.Table, rowID)

		applied, err := e.idx.OnInsert(c.Table, t.Columns, rowID, row)
		if err != nil {
			return err
		}
		tx.RecordIndexUndo(func() { e.idx.Undo(applied) })

		rec := wal.Record{
			Kind:      wal.KindInsertRow,
			TxID:      tx.ID,
			RowID:     rowID,
			TableName: c.Table,
			Value:     value.Value{Kind: value.KindText, Text: value.EncodeRow(row)},
		}
		_, err = e.wal.Append(rec)
		return err
	})
	if err != nil {
		return nil, wrap(err)
	}
	return &Result{RowsAffected: 1}, nil
}

func (e *Executor) buildInsertRow(t *storage.Table, c sql.Insert) (*value.Row, error) {
	ctx := &evalCtx{runSubquery: func(sub *sql.Select) ([]*value.Row, error) {
		rows, _, err := e.runSelect(sub, e.currentSnapshot())
		return rows, err
	}}

	names := make([]string, len(t.Columns))
	values := make([]value.Value, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
		values[i] = value.Null()
	}

	if len(c.Columns) == 0 {
		for i := 0; i < len(c.Values) && i < len(t.Columns); i++ {
			v, err := eval(c.Values[i], value.EmptyRow(), ctx)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		return value.NewRow(names, values), nil
	}

	for i, colName := range c.Columns {
		v, err := eval(c.Values[i], value.EmptyRow(), ctx)
		if err != nil {
			return nil, err
		}
		for j, n := range names {
			if n == colName {
				values[j] = v
				break
			}
		}
	}
	return value.NewRow(names, values), nil
}

func (e *Executor) execUpdate(c sql.Update) (*Result, error) {
	t, ok := e.tables[c.Table]
	if !ok {
		return nil, newError(ErrTableNotFound, "table %q does not exist", c.Table)
	}

	affected := 0
	err := e.withStatementTx(func(tx *txn.Tx) error {
		snap := tx.Snapshot
		ctx := &evalCtx{runSubquery: func(sub *sql.Select) ([]*value.Row, error) {
			rows, _, err := e.runSelect(sub, snap)
			return rows, err
		}}

		matched, err := e.matchRows(t, c.Table, c.Where, snap, ctx)
		if err != nil {
			return err
		}

		for _, rowID := range matched {
			oldRow, ok := t.Get(rowID, snap, e.mgr)
			if !ok {
				continue
			}
			row := qualifyRow(c.Table, oldRow)
			for _, a := range c.Assignments {
				newVal, err := eval(a.Value, row, ctx)
				if err != nil {
					return err
				}
				if err := t.Update(rowID, a.Column, newVal, tx.ID, snap, e.mgr); err != nil {
					return err
				}
				rec := wal.Record{
					Kind: wal.KindUpdateCol, TxID: tx.ID, RowID: rowID,
					TableName: c.Table, ColumnName: a.Column, Value: newVal,
				}
				if _, err := e.wal.Append(rec); err != nil {
					return err
				}
			}
			newRow, _ := t.Get(rowID, snap, e.mgr)
			applied, err := e.idx.OnUpdate(c.Table, t.Columns, rowID, oldRow, newRow)
			if err != nil {
				return err
			}
			tx.RecordIndexUndo(func() { e.idx.Undo(applied) })
			affected++
		}
		return nil
	})
	if err != nil {
		return nil, wrap(err)
	}
	return &Result{RowsAffected: affected}, nil
}

func (e *Executor) execDelete(c sql.Delete) (*Result, error) {
	t, ok := e.tables[c.Table]
	if !ok {
		return nil, newError(ErrTableNotFound, "table %q does not exist", c.Table)
	}

	affected := 0
	err := e.withStatementTx(func(tx *txn.Tx) error {
		snap := tx.Snapshot
		ctx := &evalCtx{runSubquery: func(sub *sql.Select) ([]*value.Row, error) {
			rows, _, err := e.runSelect(sub, snap)
			return rows, err
		}}

		matched, err := e.matchRows(t, c.Table, c.Where, snap, ctx)
		if err != nil {
			return err
		}

		for _, rowID := range matched {
			row, ok := t.Get(rowID, snap, e.mgr)
			if !ok {
				continue
			}
			if err := t.Delete(rowID, tx.ID, snap, e.mgr); err != nil {
				return err
			}
			rec := wal.Record{Kind: wal.KindDeleteRow, TxID: tx.ID, RowID: rowID, TableName: c.Table}
			if _, err := e.wal.Append(rec); err != nil {
				return err
			}
			applied, err := e.idx.OnDelete(c.Table, t.Columns, rowID, row)
			if err != nil {
				return err
			}
			tx.RecordIndexUndo(func() { e.idx.Undo(applied) })
			affected++
		}
		return nil
	})
	if err != nil {
		return nil, wrap(err)
	}
	return &Result{RowsAffected: affected}, nil
}

// matchRows returns every currently-visible row id in t matching where
// (or every visible row id if where is nil).
func (e *Executor) matchRows(t *storage.Table, alias string, where sql.Expr, snap *txn.Snapshot, ctx *evalCtx) ([]uint64, error) {
	all := t.GetAllVisibleRowIDs(snap, e.mgr, true)
	if where == nil {
		return all, nil
	}
	var matched []uint64
	for _, rowID := range all {
		row, ok := t.Get(rowID, snap, e.mgr)
		if !ok {
			continue
		}
		v, err := eval(where, qualifyRow(alias, row), ctx)
		if err != nil {
			return nil, err
		}
		if truthy(v) {
			matched = append(matched, rowID)
		}
	}
	return matched, nil
}
