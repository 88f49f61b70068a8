// Package storage implements the MVCC row store: version chains keyed by
// row id, with insert/update/delete producing new versions and a
// chain-walking get() that honors snapshot visibility.
package storage

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/reldb/reldb/internal/txn"
	"github.com/reldb/reldb/internal/value"
)

var (
	ErrWriteConflict = errors.New("storage: write conflict")
	ErrRowNotFound   = errors.New("storage: row not found")
)

// ColumnType is the declared type of a table column.
type ColumnType byte

const (
	ColumnInt ColumnType = iota
	ColumnFloat
	ColumnText
	ColumnBool
	ColumnEmbedding
)

func (c ColumnType) String() string {
	switch c {
	case ColumnInt:
		return "int"
	case ColumnFloat:
		return "float"
	case ColumnText:
		return "text"
	case ColumnBool:
		return "bool"
	case ColumnEmbedding:
		return "embedding"
	default:
		return "unknown"
	}
}

// Column describes one table column. EmbeddingDim is only meaningful when
// Type is ColumnEmbedding.
type Column struct {
	Name         string
	Type         ColumnType
	EmbeddingDim int
}

// Version is one entry in a row's version chain: the newest-first linked
// list walked by get(). A non-zero Xmax on a non-head version equals the
// Xmin of the version immediately before it in the chain.
type Version struct {
	RowID uint64
	Xmin  uint64
	Xmax  uint64
	Attrs *value.Row
	Next  *Version
}

// Table is the chain map for one relation: name, column list (defining
// positional semantics for star-projection and positional INSERT), and
// a monotonic row id generator. Every chain is owned exclusively by its
// table; Next is a traversal-only back-reference.
type Table struct {
	mu sync.RWMutex

	Name      string
	Columns   []Column
	chains    map[uint64]*Version
	nextRowID uint64

	// headCache remembers the most recently accessed chain head per row
	// id. It is only ever a hint: Get still re-verifies visibility before
	// trusting it, so a stale entry (the row was mutated since caching)
	// just falls through to the full chain walk instead of corrupting a
	// read.
	headCache *lru.Cache[uint64, *Version]
}

// EnableCache turns on the head-pointer accelerator with the given
// capacity. Safe to call once after construction; a zero or negative size
// leaves caching off.
func (t *Table) EnableCache(size int) {
	if size <= 0 {
		return
	}
	c, err := lru.New[uint64, *Version](size)
	if err == nil {
		t.mu.Lock()
		t.headCache = c
		t.mu.Unlock()
	}
}

// NewTable creates an empty table with the given column list.
func NewTable(name string, columns []Column) *Table {
	return &Table{
		Name:    name,
		Columns: columns,
		chains:  make(map[uint64]*Version),
	}
}

// ColumnNames returns column names in declared order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// AddColumn appends a new column to the schema and back-fills every live
// chain head with a default value, used by ALTER TABLE ADD COLUMN.
func (t *Table) AddColumn(col Column, def value.Value) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Columns = append(t.Columns, col)
	for rowID, head := range t.chains {
		t.chains[rowID] = &Version{
			RowID: head.RowID,
			Xmin:  head.Xmin,
			Xmax:  head.Xmax,
			Attrs: head.Attrs.WithColumn(col.Name, def),
			Next:  head.Next,
		}
	}
}

// DropColumn removes a column from the schema and every chain's head
// attributes, used by ALTER TABLE DROP COLUMN. Older versions in the
// chain retain the column; they predate the schema change and are
// unaffected in memory (persistence reconciles on reload).
func (t *Table) DropColumn(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cols := make([]Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name != name {
			cols = append(cols, c)
		}
	}
	t.Columns = cols
	for rowID, head := range t.chains {
		t.chains[rowID] = &Version{
			RowID: head.RowID,
			Xmin:  head.Xmin,
			Xmax:  head.Xmax,
			Attrs: head.Attrs.WithoutColumn(name),
			Next:  head.Next,
		}
	}
}

// RenameColumn renames a column in the schema and every chain's head.
func (t *Table) RenameColumn(from, to string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, c := range t.Columns {
		if c.Name == from {
			t.Columns[i].Name = to
		}
	}
	for rowID, head := range t.chains {
		t.chains[rowID] = &Version{
			RowID: head.RowID,
			Xmin:  head.Xmin,
			Xmax:  head.Xmax,
			Attrs: head.Attrs.Renamed(from, to),
			Next:  head.Next,
		}
	}
}

// Insert creates a new chain head with xmin=txid, xmax=0 and returns the
// assigned row id.
func (t *Table) Insert(attrs *value.Row, txid uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextRowID++
	rowID := t.nextRowID
	t.chains[rowID] = &Version{RowID: rowID, Xmin: txid, Xmax: 0, Attrs: attrs}
	return rowID
}

// InsertAt is used by WAL replay to recreate a row at a specific row id,
// advancing nextRowID past it if needed.
func (t *Table) InsertAt(rowID uint64, attrs *value.Row, txid uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chains[rowID] = &Version{RowID: rowID, Xmin: txid, Xmax: 0, Attrs: attrs}
	if rowID > t.nextRowID {
		t.nextRowID = rowID
	}
}

// Update requires the current head to pass a write-conflict check: if the
// head was created by another transaction that committed but is not
// visible to the writer's snapshot (it committed after the snapshot was
// taken), or the head is already superseded by another committed
// transaction, the update fails with ErrWriteConflict (the earlier
// committed writer's version stands and this writer must retry against
// the new head). Otherwise the head's xmax is set to txid and a new head
// is cloned from it with one column replaced.
func (t *Table) Update(rowID uint64, column string, newValue value.Value, txid uint64, snap *txn.Snapshot, mgr *txn.Manager) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	head, ok := t.chains[rowID]
	if !ok {
		return ErrRowNotFound
	}
	if head.Xmin != txid && mgr.Status(head.Xmin) == txn.StatusCommitted && !txn.Visible(head.Xmin, 0, snap, mgr) {
		return ErrWriteConflict
	}
	if head.Xmax != 0 && head.Xmax != txid {
		if mgr.Status(head.Xmax) == txn.StatusCommitted {
			return ErrWriteConflict
		}
	}

	head.Xmax = txid
	newHead := &Version{
		RowID: rowID,
		Xmin:  txid,
		Xmax:  0,
		Attrs: head.Attrs.With(column, newValue),
		Next:  head,
	}
	t.chains[rowID] = newHead
	return nil
}

// Delete sets the head's xmax=txid; no new version is produced.
func (t *Table) Delete(rowID uint64, txid uint64, snap *txn.Snapshot, mgr *txn.Manager) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	head, ok := t.chains[rowID]
	if !ok {
		return ErrRowNotFound
	}
	if head.Xmax != 0 && head.Xmax != txid {
		if mgr.Status(head.Xmax) == txn.StatusCommitted && head.Xmax < snap.TxID {
			return ErrWriteConflict
		}
	}
	head.Xmax = txid
	return nil
}

// ReplayUpdate applies an update_col WAL record during recovery: unlike
// Update, it performs no write-conflict check, since the WAL already
// records the authoritative, already-decided order of writes.
func (t *Table) ReplayUpdate(rowID uint64, column string, newValue value.Value, txid uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	head, ok := t.chains[rowID]
	if !ok {
		return ErrRowNotFound
	}
	head.Xmax = txid
	t.chains[rowID] = &Version{
		RowID: rowID,
		Xmin:  txid,
		Xmax:  0,
		Attrs: head.Attrs.With(column, newValue),
		Next:  head,
	}
	return nil
}

// ReplayDelete applies a delete_row WAL record during recovery, without
// the write-conflict check Delete performs for live transactions.
func (t *Table) ReplayDelete(rowID uint64, txid uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	head, ok := t.chains[rowID]
	if !ok {
		return ErrRowNotFound
	}
	head.Xmax = txid
	return nil
}

// Get walks the chain from head and returns the first version visible
// under the snapshot/CLOG visibility function. If the head cache is
// enabled and its cached entry for rowID is still the live head and
// visible under snap, the chain walk is skipped entirely; any miss falls
// through to the ordinary walk and refreshes the cache from the real
// head afterward.
func (t *Table) Get(rowID uint64, snap *txn.Snapshot, mgr *txn.Manager) (*value.Row, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	head := t.chains[rowID]
	if t.headCache != nil {
		if cached, ok := t.headCache.Get(rowID); ok && cached == head && head != nil {
			if txn.Visible(head.Xmin, head.Xmax, snap, mgr) {
				return head.Attrs, true
			}
		}
	}

	for v := head; v != nil; v = v.Next {
		if txn.Visible(v.Xmin, v.Xmax, snap, mgr) {
			if t.headCache != nil && v == head {
				t.headCache.Add(rowID, head)
			}
			return v.Attrs, true
		}
	}
	return nil, false
}

// GetAllVisibleRowIDs returns, for each chain head, the row id once if any
// version in its chain is visible. When mvccEnabled is false every chain
// head is returned unfiltered.
func (t *Table) GetAllVisibleRowIDs(snap *txn.Snapshot, mgr *txn.Manager, mvccEnabled bool) []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]uint64, 0, len(t.chains))
	for rowID, head := range t.chains {
		if !mvccEnabled {
			ids = append(ids, rowID)
			continue
		}
		for v := head; v != nil; v = v.Next {
			if txn.Visible(v.Xmin, v.Xmax, snap, mgr) {
				ids = append(ids, rowID)
				break
			}
		}
	}
	return ids
}

// PhysicalDelete unconditionally drops the chain. Used only by rollback
// of a same-transaction fresh insert.
func (t *Table) PhysicalDelete(rowID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.chains, rowID)
}

// ChainLength returns the number of versions in rowID's chain, 0 if absent.
func (t *Table) ChainLength(rowID uint64) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for v := t.chains[rowID]; v != nil; v = v.Next {
		n++
	}
	return n
}

// Head returns the current chain head, or nil.
func (t *Table) Head(rowID uint64) *Version {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.chains[rowID]
}

// RowIDs returns every row id with a non-empty chain, in no particular
// order. Used by VACUUM and full-table rebuild paths.
func (t *Table) RowIDs() []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]uint64, 0, len(t.chains))
	for id := range t.chains {
		ids = append(ids, id)
	}
	return ids
}

// NextRowID returns the next row id that would be assigned by Insert,
// without consuming it. Used by persistence to record next_row_id.
func (t *Table) NextRowID() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextRowID
}

// SetNextRowID restores the row id counter, used when loading a
// persisted table image.
func (t *Table) SetNextRowID(v uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextRowID = v
}

// ReplaceChain installs a full version chain for rowID, used by table load
// from the MVCC persistence format.
func (t *Table) ReplaceChain(rowID uint64, head *Version) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chains[rowID] = head
	if rowID > t.nextRowID {
		t.nextRowID = rowID
	}
}

// Prune replaces rowID's chain with newHead (or removes it entirely if
// newHead is nil). Used exclusively by VACUUM.
func (t *Table) Prune(rowID uint64, newHead *Version) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if newHead == nil {
		delete(t.chains, rowID)
		return
	}
	t.chains[rowID] = newHead
}
