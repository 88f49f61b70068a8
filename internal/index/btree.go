// Package index implements the two secondary index structures the
// executor accelerates scans with: an in-memory B-tree per indexed
// column, and a per-dimension HNSW graph for approximate nearest-neighbor
// search over embedding columns. Both are regenerable from table data and
// are accelerators only — the executor always re-checks visibility on
// every row id an index returns.
package index

import (
	"sort"
	"sync"

	"github.com/reldb/reldb/internal/value"
)

// btreeOrder is the initial capacity of a new BTree's entry slice; the
// single-level index never splits.
const btreeOrder = 32

// btreeEntry is one distinct key and the row ids currently indexed under
// it. Duplicate keys are common (a non-unique secondary index), so each
// entry owns a set rather than a single row id.
type btreeEntry struct {
	key  value.Value
	rows map[uint64]struct{}
}

// BTree is a single-level sorted index: entries are kept in a sorted
// slice and located by binary search. Splitting a real disk-backed
// B+Tree into branch/leaf pages buys locality the in-memory case does not
// need; the contract (Insert/Delete/Query, ordered by key) is what the
// executor depends on, so that is what is preserved here.
type BTree struct {
	mu      sync.RWMutex
	entries []*btreeEntry
}

// NewBTree creates an empty index.
func NewBTree() *BTree {
	return &BTree{entries: make([]*btreeEntry, 0, btreeOrder)}
}

func (t *BTree) find(key value.Value) (int, *btreeEntry) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return value.Compare(t.entries[i].key, key) >= 0
	})
	if i < len(t.entries) && value.Equal(t.entries[i].key, key) {
		return i, t.entries[i]
	}
	return i, nil
}

// Insert adds rowID under key.
func (t *BTree) Insert(key value.Value, rowID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, e := t.find(key)
	if e != nil {
		e.rows[rowID] = struct{}{}
		return
	}
	entry := &btreeEntry{key: key.Clone(), rows: map[uint64]struct{}{rowID: {}}}
	t.entries = append(t.entries, nil)
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = entry
}

// Delete removes rowID from key's entry, pruning the entry entirely once
// its row set is empty.
func (t *BTree) Delete(key value.Value, rowID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, e := t.find(key)
	if e == nil {
		return
	}
	delete(e.rows, rowID)
	if len(e.rows) == 0 {
		t.entries = append(t.entries[:i], t.entries[i+1:]...)
	}
}

// Query returns every row id indexed under key.
func (t *BTree) Query(key value.Value) []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, e := t.find(key)
	if e == nil {
		return nil
	}
	out := make([]uint64, 0, len(e.rows))
	for id := range e.rows {
		out = append(out, id)
	}
	return out
}

// Range returns every row id whose key lies in [lo, hi] (either bound may
// be the zero Value with ok=false to mean unbounded), in ascending key
// order. Used by range predicates (<, <=, >, >=, BETWEEN-shaped chains).
func (t *BTree) Range(lo value.Value, loOK bool, hi value.Value, hiOK bool) []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	start := 0
	if loOK {
		start = sort.Search(len(t.entries), func(i int) bool {
			return value.Compare(t.entries[i].key, lo) >= 0
		})
	}
	var out []uint64
	for i := start; i < len(t.entries); i++ {
		if hiOK && value.Compare(t.entries[i].key, hi) > 0 {
			break
		}
		for id := range t.entries[i].rows {
			out = append(out, id)
		}
	}
	return out
}

// Len reports the number of distinct keys currently indexed.
func (t *BTree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
