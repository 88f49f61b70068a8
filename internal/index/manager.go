// Package index also hosts the Manager that keeps every B-tree and HNSW
// index for a database synchronized with table writes via on_insert/
// on_update/on_delete callbacks fired by the executor. Indexes
// are accelerators only: the executor always re-checks visibility on any
// row id an index returns.
package index

import (
	"errors"
	"sync"

	"github.com/reldb/reldb/internal/storage"
	"github.com/reldb/reldb/internal/types"
	"github.com/reldb/reldb/internal/value"
)

var (
	ErrIndexExists   = errors.New("index: already exists")
	ErrIndexNotFound = errors.New("index: not found")
)

type btreeIndex struct {
	table  string
	column string
	tree   *BTree
}

// Manager owns the full set of secondary indexes for one database: named
// B-trees over (table, column) pairs, and one HNSW graph per embedding
// dimension (shared across every table/column that declares that
// dimension, since a dimension is the only thing HNSW construction needs).
type Manager struct {
	mu      sync.RWMutex
	btrees  map[string]*btreeIndex
	byTable map[string]map[string]struct{} // table -> set of index names
	hnsw    map[int]*HNSW
}

func NewManager() *Manager {
	return &Manager{
		btrees:  make(map[string]*btreeIndex),
		byTable: make(map[string]map[string]struct{}),
		hnsw:    make(map[int]*HNSW),
	}
}

// CreateBTree registers a new named B-tree index over table.column.
func (m *Manager) CreateBTree(name, table, column string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.btrees[name]; ok {
		return ErrIndexExists
	}
	m.btrees[name] = &btreeIndex{table: table, column: column, tree: NewBTree()}
	if m.byTable[table] == nil {
		m.byTable[table] = make(map[string]struct{})
	}
	m.byTable[table][name] = struct{}{}
	return nil
}

// DropBTree removes a named B-tree index.
func (m *Manager) DropBTree(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.btrees[name]
	if !ok {
		return ErrIndexNotFound
	}
	delete(m.btrees, name)
	delete(m.byTable[idx.table], name)
	return nil
}

// Query returns every row id indexed under key by the named B-tree.
func (m *Manager) Query(name string, key value.Value) ([]uint64, error) {
	m.mu.RLock()
	idx, ok := m.btrees[name]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrIndexNotFound
	}
	return idx.tree.Query(key), nil
}

// Range returns every row id the named B-tree indexes in [lo, hi].
func (m *Manager) Range(name string, lo value.Value, loOK bool, hi value.Value, hiOK bool) ([]uint64, error) {
	m.mu.RLock()
	idx, ok := m.btrees[name]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrIndexNotFound
	}
	return idx.tree.Range(lo, loOK, hi, hiOK), nil
}

// BTreeFor returns the index name of a B-tree over table.column, if one
// exists, so the executor can prefer an index scan over a full scan.
func (m *Manager) BTreeFor(table, column string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, idx := range m.btrees {
		if idx.table == table && idx.column == column {
			return name, true
		}
	}
	return "", false
}

// GetOrCreateHNSW returns the shared per-dimension HNSW graph, building it
// on first use.
func (m *Manager) GetOrCreateHNSW(dim int) *HNSW {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hnsw[dim]
	if !ok {
		h = NewHNSW(dim)
		m.hnsw[dim] = h
	}
	return h
}

// Entries returns the (name, table, column) declaration of every
// registered B-tree index, in no particular order, so a checkpoint can
// persist the catalog entries recovery needs to rebuild them on restart.
func (m *Manager) Entries() []types.IndexCatalogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.IndexCatalogEntry, 0, len(m.btrees))
	for name, idx := range m.btrees {
		out = append(out, types.IndexCatalogEntry{Name: name, Table: idx.table, Column: idx.column})
	}
	return out
}

// DropTable removes every B-tree index registered against table. The
// per-dimension HNSW graphs are not touched: nodes inserted for the
// table's rows stay in them after the table is dropped.
func (m *Manager) DropTable(table string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.byTable[table] {
		delete(m.btrees, name)
	}
	delete(m.byTable, table)
}

// undoStep is one already-applied index write, kept so a failed OnInsert
// (dimension mismatch on a later column) can be unwound in reverse order.
type undoStep func()

// OnInsert updates every B-tree and HNSW index affected by a freshly
// inserted row. If an embedding column's vector length does not match
// its declared dimension, every index write already applied in this call
// is undone in reverse order and ErrDimensionMismatch is returned.
func (m *Manager) OnInsert(table string, columns []storage.Column, rowID uint64, row *value.Row) ([]undoStep, error) {
	m.mu.RLock()
	names := make([]string, 0)
	for name, idx := range m.btrees {
		if idx.table == table {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()

	var applied []undoStep
	for _, name := range names {
		v, ok := row.Get(m.btrees[name].column)
		if !ok || v.IsNull() {
			continue
		}
		tree := m.btrees[name].tree
		tree.Insert(v, rowID)
		key := v
		applied = append(applied, func() { tree.Delete(key, rowID) })
	}

	for _, col := range columns {
		if col.Type != storage.ColumnEmbedding {
			continue
		}
		v, ok := row.Get(col.Name)
		if !ok || v.IsNull() {
			continue
		}
		if len(v.Embedding) != col.EmbeddingDim {
			m.Undo(applied)
			return nil, ErrDimensionMismatch
		}
		h := m.GetOrCreateHNSW(col.EmbeddingDim)
		h.Insert(v.Embedding, rowID)
		applied = append(applied, func() { h.Remove(rowID) })
	}
	return applied, nil
}

// Undo reverses a partially-applied OnInsert, used by the executor's
// scoped rollback when a later write-path step fails.
func (m *Manager) Undo(applied []undoStep) {
	for i := len(applied) - 1; i >= 0; i-- {
		applied[i]()
	}
}

// OnUpdate removes the old row's index entries and re-inserts the new
// row's, for every B-tree/HNSW index affected by the change. The returned
// undo steps, replayed in reverse by Undo, restore exactly the old row's
// index entries: if the re-insert half fails (e.g. a dimension mismatch
// on the new embedding), the delete half already applied is unwound
// before the error is returned, so a failed OnUpdate leaves every index
// exactly as it found it.
func (m *Manager) OnUpdate(table string, columns []storage.Column, rowID uint64, oldRow, newRow *value.Row) ([]undoStep, error) {
	delApplied, err := m.OnDelete(table, columns, rowID, oldRow)
	if err != nil {
		return nil, err
	}
	insApplied, err := m.OnInsert(table, columns, rowID, newRow)
	if err != nil {
		m.Undo(delApplied)
		return nil, err
	}
	return append(delApplied, insApplied...), nil
}

// OnDelete removes rowID from every B-tree/HNSW index that held it,
// returning the undo steps (re-insert of each removed entry) needed to
// restore them, for the executor's scoped/transaction rollback.
func (m *Manager) OnDelete(table string, columns []storage.Column, rowID uint64, row *value.Row) ([]undoStep, error) {
	m.mu.RLock()
	names := make([]string, 0)
	for name, idx := range m.btrees {
		if idx.table == table {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()

	var applied []undoStep
	for _, name := range names {
		v, ok := row.Get(m.btrees[name].column)
		if !ok || v.IsNull() {
			continue
		}
		tree := m.btrees[name].tree
		tree.Delete(v, rowID)
		key := v
		applied = append(applied, func() { tree.Insert(key, rowID) })
	}
	for _, col := range columns {
		if col.Type != storage.ColumnEmbedding {
			continue
		}
		v, ok := row.Get(col.Name)
		if !ok || v.IsNull() {
			continue
		}
		if h, exists := m.hnswIfExists(col.EmbeddingDim); exists {
			h.Remove(rowID)
			vec := v.Embedding
			applied = append(applied, func() { h.Insert(vec, rowID) })
		}
	}
	return applied, nil
}

func (m *Manager) hnswIfExists(dim int) (*HNSW, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hnsw[dim]
	return h, ok
}

// ErrDimensionMismatch is returned by OnInsert/OnUpdate when an
// embedding's length does not match its column's declared dimension.
var ErrDimensionMismatch = errors.New("index: embedding dimension mismatch")
