package exec

import (
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/reldb/reldb/internal/config"
	"github.com/reldb/reldb/internal/index"
	"github.com/reldb/reldb/internal/logger"
	"github.com/reldb/reldb/internal/sql"
	"github.com/reldb/reldb/internal/storage"
	"github.com/reldb/reldb/internal/txn"
	"github.com/reldb/reldb/internal/value"
	"github.com/reldb/reldb/internal/vacuum"
	"github.com/reldb/reldb/internal/wal"
)

// maxConcurrentSelects bounds how many read-only queries may run their
// scan/join pipeline at once, independent of write-path concurrency.
const maxConcurrentSelects = 32

// Result is the shape every Execute call returns: SELECT populates Rows/
// Columns, every other command populates RowsAffected.
type Result struct {
	Columns      []string
	Rows         []*value.Row
	RowsAffected int
}

// Executor owns the live set of tables and dispatches every command in
// the AST to its physical implementation: DDL mutates the table/index
// registries directly, DML runs the write path (WAL append, table
// mutation, index sync) under scoped transaction rollback, and SELECT
// builds and drains a volcano-style operator pipeline.
type Executor struct {
	mu sync.Mutex

	tables map[string]*storage.Table
	mgr    *txn.Manager
	wal    *wal.Writer
	idx    *index.Manager
	vac    *vacuum.Vacuum
	valid  *sql.Validator
	cfg    *config.Config
	logger *logger.Logger

	curTx *txn.Tx

	selectSem *semaphore.Weighted
}

// New builds an Executor over an already-open set of tables (typically
// owned by internal/database, which also owns recovery/persistence).
func New(tables map[string]*storage.Table, mgr *txn.Manager, w *wal.Writer, idx *index.Manager, vac *vacuum.Vacuum, cfg *config.Config, log *logger.Logger) *Executor {
	return &Executor{
		tables:    tables,
		mgr:       mgr,
		wal:       w,
		idx:       idx,
		vac:       vac,
		valid:     sql.New(cfg.Validation.Mode, log),
		cfg:       cfg,
		logger:    log,
		selectSem: semaphore.NewWeighted(maxConcurrentSelects),
	}
}

type tableCatalog struct{ tables map[string]*storage.Table }

func (c tableCatalog) HasTable(name string) bool {
	_, ok := c.tables[name]
	return ok
}

func (c tableCatalog) Columns(name string) []string {
	t, ok := c.tables[name]
	if !ok {
		return nil
	}
	return t.ColumnNames()
}

// Execute validates cmd against the current catalog, then dispatches it.
func (e *Executor) Execute(cmd sql.Command) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.valid.Validate(cmd, tableCatalog{e.tables}); err != nil {
		return nil, wrap(err)
	}

	switch c := cmd.(type) {
	case sql.Begin:
		return e.execBegin()
	case sql.Commit:
		return e.execCommit()
	case sql.Rollback:
		return e.execRollback()
	case sql.CreateTable:
		return e.execCreateTable(c)
	case sql.DropTable:
		return e.execDropTable(c)
	case sql.AlterTable:
		return e.execAlterTable(c)
	case sql.CreateIndex:
		return e.execCreateIndex(c)
	case sql.DropIndex:
		return e.execDropIndex(c)
	case sql.Insert:
		return e.execInsert(c)
	case sql.Update:
		return e.execUpdate(c)
	case sql.Delete:
		return e.execDelete(c)
	case sql.Select:
		return e.execSelect(c)
	case sql.Vacuum:
		return e.execVacuum(c)
	default:
		return nil, newError(ErrIO, "unsupported command")
	}
}

// withStatementTx runs fn under the session's explicit transaction if one
// is active, or under a fresh auto-commit transaction otherwise. Any
// error aborts the transaction (auto-commit: just this statement;
// explicit: the whole session transaction, matching ROLLBACK semantics)
// so a failed write is never partially visible to any snapshot.
func (e *Executor) withStatementTx(fn func(tx *txn.Tx) error) error {
	if e.curTx != nil {
		if err := fn(e.curTx); err != nil {
			e.abortTx(e.curTx)
			e.curTx = nil
			return err
		}
		return nil
	}

	tx := e.beginTx()
	if err := fn(tx); err != nil {
		e.abortTx(tx)
		return err
	}
	return e.commitTx(tx)
}

func (e *Executor) beginTx() *txn.Tx {
	tx := e.mgr.Begin()
	e.appendWAL(wal.Record{Kind: wal.KindBeginTx, TxID: tx.ID})
	return tx
}

func (e *Executor) commitTx(tx *txn.Tx) error {
	if err := e.mgr.Commit(tx.ID); err != nil {
		return wrap(err)
	}
	e.appendWAL(wal.Record{Kind: wal.KindCommitTx, TxID: tx.ID})
	if err := e.wal.Flush(); err != nil {
		return wrap(err)
	}
	e.vac.AfterCommit(e.tables)
	return nil
}

// abortTx rolls tx back in the CLOG, replays every index-undo closure its
// statements registered (in reverse, so the most recent statement's
// B-tree/HNSW writes are unwound first), and physically drops every row
// it freshly inserted, rather than leaving a dangling aborted version for
// VACUUM to eventually reclaim. Visibility alone would already hide these
// rows from every snapshot; dropping them immediately just avoids
// carrying dead chain heads until the next VACUUM pass. The index undo is
// not optional the same way: a B-tree/HNSW write made by an UPDATE or
// DELETE this transaction later rolls back has no other path back to the
// pre-transaction entries, since visibility reverting the row does
// nothing to the index.
func (e *Executor) abortTx(tx *txn.Tx) {
	e.mgr.Rollback(tx.ID)
	e.appendWAL(wal.Record{Kind: wal.KindAbortTx, TxID: tx.ID})
	e.wal.Flush()

	steps := tx.IndexUndoSteps()
	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}

	for _, w := range tx.FreshInserts() {
		if t, ok := e.tables[w.Table]; ok {
			if head := t.Head(w.RowID); head != nil && head.Xmin == tx.ID {
				t.PhysicalDelete(w.RowID)
			}
		}
	}
}

func (e *Executor) appendWAL(r wal.Record) {
	if _, err := e.wal.Append(r); err != nil {
		e.logger.Error("wal append failed: %v", err)
	}
}

func (e *Executor) execBegin() (*Result, error) {
	if e.curTx != nil {
		return nil, newError(ErrTransactionAlreadyActive, "a transaction is already active")
	}
	e.curTx = e.beginTx()
	return &Result{}, nil
}

func (e *Executor) execCommit() (*Result, error) {
	if e.curTx == nil {
		return nil, newError(ErrNoActiveTransaction, "no active transaction")
	}
	tx := e.curTx
	e.curTx = nil
	if err := e.commitTx(tx); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func (e *Executor) execRollback() (*Result, error) {
	if e.curTx == nil {
		return nil, newError(ErrNoActiveTransaction, "no active transaction")
	}
	tx := e.curTx
	e.curTx = nil
	e.abortTx(tx)
	return &Result{}, nil
}

func sqlTypeToStorage(t sql.ColumnType) storage.ColumnType {
	switch t {
	case sql.TypeInt:
		return storage.ColumnInt
	case sql.TypeFloat:
		return storage.ColumnFloat
	case sql.TypeText:
		return storage.ColumnText
	case sql.TypeBool:
		return storage.ColumnBool
	case sql.TypeEmbedding:
		return storage.ColumnEmbedding
	default:
		return storage.ColumnText
	}
}

func defaultValueFor(t storage.ColumnType) value.Value {
	switch t {
	case storage.ColumnInt:
		return value.Int(0)
	case storage.ColumnFloat:
		return value.Float(0)
	case storage.ColumnBool:
		return value.Bool(false)
	case storage.ColumnText:
		return value.Text("")
	default:
		return value.Null()
	}
}

func (e *Executor) execCreateTable(c sql.CreateTable) (*Result, error) {
	if _, exists := e.tables[c.Table]; exists {
		return nil, newError(ErrTableExists, "table %q already exists", c.Table)
	}
	cols := make([]storage.Column, len(c.Columns))
	for i, cd := range c.Columns {
		cols[i] = storage.Column{Name: cd.Name, Type: sqlTypeToStorage(cd.Type), EmbeddingDim: cd.EmbeddingDim}
	}
	e.tables[c.Table] = storage.NewTable(c.Table, cols)
	return &Result{}, nil
}

func (e *Executor) execDropTable(c sql.DropTable) (*Result, error) {
	if _, exists := e.tables[c.Table]; !exists {
		if c.IfExists {
			return &Result{}, nil
		}
		return nil, newError(ErrTableNotFound, "table %q does not exist", c.Table)
	}
	delete(e.tables, c.Table)
	e.idx.DropTable(c.Table)
	return &Result{}, nil
}

func (e *Executor) execAlterTable(c sql.AlterTable) (*Result, error) {
	t, ok := e.tables[c.Table]
	if !ok {
		return nil, newError(ErrTableNotFound, "table %q does not exist", c.Table)
	}
	switch c.Kind {
	case sql.AlterAddColumn:
		col := storage.Column{Name: c.Column.Name, Type: sqlTypeToStorage(c.Column.Type), EmbeddingDim: c.Column.EmbeddingDim}
		t.AddColumn(col, defaultValueFor(col.Type))
	case sql.AlterDropColumn:
		t.DropColumn(c.ColumnName)
	case sql.AlterRenameColumn:
		t.RenameColumn(c.ColumnName, c.NewName)
	}
	return &Result{}, nil
}

func (e *Executor) execCreateIndex(c sql.CreateIndex) (*Result, error) {
	if err := e.idx.CreateBTree(c.IndexName, c.Table, c.Column); err != nil {
		return nil, wrap(err)
	}
	e.backfillBTree(e.tables[c.Table], c.IndexName, c.Column)
	return &Result{}, nil
}

// backfillBTree indexes every currently-live chain head so an index
// created after rows already exist is immediately queryable. Insert is
// idempotent per (key, row id), so no prior-membership check is needed.
func (e *Executor) backfillBTree(t *storage.Table, indexName, column string) {
	for _, rowID := range t.RowIDs() {
		head := t.Head(rowID)
		if head == nil || head.Attrs == nil {
			continue
		}
		v, ok := head.Attrs.Get(column)
		if !ok || v.IsNull() {
			continue
		}
		_, _ = e.idx.OnInsert(t.Name, []storage.Column{{Name: column}}, rowID, value.NewRow([]string{column}, []value.Value{v}))
	}
}

func (e *Executor) execDropIndex(c sql.DropIndex) (*Result, error) {
	if err := e.idx.DropBTree(c.IndexName); err != nil {
		return nil, wrap(err)
	}
	return &Result{}, nil
}

func (e *Executor) execVacuum(c sql.Vacuum) (*Result, error) {
	if c.Table != "" {
		t, ok := e.tables[c.Table]
		if !ok {
			return nil, newError(ErrTableNotFound, "table %q does not exist", c.Table)
		}
		stats := vacuum.Table(t, e.mgr)
		return &Result{RowsAffected: stats.VersionsRemoved}, nil
	}
	all := e.vac.All(e.tables)
	total := 0
	for _, s := range all {
		total += s.VersionsRemoved
	}
	return &Result{RowsAffected: total}, nil
}
