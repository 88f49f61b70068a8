package index

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reldb/reldb/internal/storage"
	"github.com/reldb/reldb/internal/value"
)

func TestBTreeInsertQueryDelete(t *testing.T) {
	bt := NewBTree()
	bt.Insert(value.Text("a@example.com"), 1)
	bt.Insert(value.Text("b@example.com"), 2)
	bt.Insert(value.Text("a@example.com"), 3) // non-unique key, two rows

	require.ElementsMatch(t, []uint64{1, 3}, bt.Query(value.Text("a@example.com")))
	require.ElementsMatch(t, []uint64{2}, bt.Query(value.Text("b@example.com")))
	require.Empty(t, bt.Query(value.Text("nope@example.com")))

	bt.Delete(value.Text("a@example.com"), 1)
	require.ElementsMatch(t, []uint64{3}, bt.Query(value.Text("a@example.com")))
	require.Equal(t, 2, bt.Len())
}

func TestBTreeRangeOrderedByKey(t *testing.T) {
	bt := NewBTree()
	for _, n := range []int64{30, 10, 20, 40} {
		bt.Insert(value.Int(n), uint64(n))
	}
	got := bt.Range(value.Int(15), true, value.Int(35), true)
	require.ElementsMatch(t, []uint64{20, 30}, got)

	got = bt.Range(value.Value{}, false, value.Int(20), true)
	require.ElementsMatch(t, []uint64{10, 20}, got)
}

// TestAtomicInsertWithIndexes grounds spec.md §8 scenario 6: a table with
// a B-tree index on email, insert via the Manager's on_insert path, and
// verify table/index agreement.
func TestAtomicInsertWithIndexes(t *testing.T) {
	mgr := NewManager()
	require.NoError(t, mgr.CreateBTree("idx_email", "users", "email"))

	columns := []storage.Column{
		{Name: "id", Type: storage.ColumnInt},
		{Name: "email", Type: storage.ColumnText},
	}
	row := value.NewRow([]string{"id", "email"}, []value.Value{value.Int(1), value.Text("test@example.com")})

	undo, err := mgr.OnInsert("users", columns, 1, row)
	require.NoError(t, err)
	require.Len(t, undo, 1)

	rows, err := mgr.Query("idx_email", value.Text("test@example.com"))
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, rows)
}

// TestDimensionMismatchRollsBackAllAppliedIndexWrites: when the embedding
// column fails its dimension check, every B-tree write already applied in
// the same OnInsert call must be undone before the error propagates, per
// spec.md §4.10's scoped-rollback contract.
func TestDimensionMismatchRollsBackAllAppliedIndexWrites(t *testing.T) {
	mgr := NewManager()
	require.NoError(t, mgr.CreateBTree("idx_email", "docs", "email"))

	columns := []storage.Column{
		{Name: "email", Type: storage.ColumnText},
		{Name: "vec", Type: storage.ColumnEmbedding, EmbeddingDim: 4},
	}
	row := value.NewRow([]string{"email", "vec"}, []value.Value{
		value.Text("bad@example.com"),
		value.Embedding([]float32{1, 2, 3}), // wrong length: 3 != 4
	})

	_, err := mgr.OnInsert("docs", columns, 7, row)
	require.ErrorIs(t, err, ErrDimensionMismatch)

	rows, err := mgr.Query("idx_email", value.Text("bad@example.com"))
	require.NoError(t, err)
	require.Empty(t, rows, "the email btree write must have been undone")
}

func TestOnUpdateMovesIndexEntry(t *testing.T) {
	mgr := NewManager()
	require.NoError(t, mgr.CreateBTree("idx_email", "users", "email"))
	columns := []storage.Column{{Name: "email", Type: storage.ColumnText}}

	old := value.NewRow([]string{"email"}, []value.Value{value.Text("old@example.com")})
	_, err := mgr.OnInsert("users", columns, 1, old)
	require.NoError(t, err)

	updated := value.NewRow([]string{"email"}, []value.Value{value.Text("new@example.com")})
	_, err = mgr.OnUpdate("users", columns, 1, old, updated)
	require.NoError(t, err)

	require.Empty(t, mustQuery(t, mgr, "idx_email", value.Text("old@example.com")))
	require.Equal(t, []uint64{1}, mustQuery(t, mgr, "idx_email", value.Text("new@example.com")))
}

func TestDropTableRemovesItsIndexes(t *testing.T) {
	mgr := NewManager()
	require.NoError(t, mgr.CreateBTree("idx_a", "t1", "a"))
	require.NoError(t, mgr.CreateBTree("idx_b", "t2", "b"))

	mgr.DropTable("t1")

	_, err := mgr.Query("idx_a", value.Int(1))
	require.ErrorIs(t, err, ErrIndexNotFound)
	_, err = mgr.Query("idx_b", value.Int(1))
	require.NoError(t, err)
}

func mustQuery(t *testing.T, mgr *Manager, name string, key value.Value) []uint64 {
	t.Helper()
	rows, err := mgr.Query(name, key)
	require.NoError(t, err)
	return rows
}

func TestHNSWInsertAndSearchFindsNearest(t *testing.T) {
	h := NewHNSW(3)
	h.Insert([]float32{1, 0, 0}, 1)
	h.Insert([]float32{0, 1, 0}, 2)
	h.Insert([]float32{0.9, 0.1, 0}, 3)

	results := h.Search([]float32{1, 0, 0}, 2)
	require.Len(t, results, 2)
	ids := []uint64{results[0].RowID, results[1].RowID}
	require.Contains(t, ids, uint64(1))
	require.Contains(t, ids, uint64(3))
	require.Less(t, results[0].Distance, results[1].Distance+1e-6)
}

func TestHNSWRemoveDropsNodeFromResults(t *testing.T) {
	h := NewHNSW(2)
	h.Insert([]float32{1, 1}, 1)
	h.Insert([]float32{5, 5}, 2)
	require.Equal(t, 2, h.Size())

	h.Remove(1)
	require.Equal(t, 1, h.Size())

	for _, r := range h.Search([]float32{1, 1}, 5) {
		require.NotEqual(t, uint64(1), r.RowID)
	}
}
