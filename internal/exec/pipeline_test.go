package exec

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reldb/reldb/internal/config"
	"github.com/reldb/reldb/internal/index"
	"github.com/reldb/reldb/internal/logger"
	"github.com/reldb/reldb/internal/sql"
	"github.com/reldb/reldb/internal/storage"
	"github.com/reldb/reldb/internal/txn"
	"github.com/reldb/reldb/internal/vacuum"
	"github.com/reldb/reldb/internal/value"
	"github.com/reldb/reldb/internal/wal"
)

// newTestExecutor builds an Executor wired the way internal/database does,
// but against an in-memory-only WAL directory under t.TempDir so these
// tests exercise the real write path without any persistence package
// involved.
func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	dir := t.TempDir()
	log := logger.New(io.Discard, logger.LevelError, "[test]")
	w := wal.NewWriter(dir, 0, false, log)
	require.NoError(t, w.Open(1))

	mgr := txn.NewManager(func() int64 { return 0 })
	idx := index.NewManager()
	cfg := config.DefaultConfig()
	cfg.Validation.Mode = config.ValidationDisabled
	vac := vacuum.New(config.VacuumConfig{Enabled: false}, mgr, log, nil)

	return New(map[string]*storage.Table{}, mgr, w, idx, vac, cfg, log)
}

func mustExec(t *testing.T, e *Executor, cmd sql.Command) *Result {
	t.Helper()
	res, err := e.Execute(cmd)
	require.NoError(t, err)
	return res
}

func setupJoinTables(t *testing.T, e *Executor) {
	mustExec(t, e, sql.CreateTable{Table: "customers", Columns: []sql.ColumnDef{
		{Name: "id", Type: sql.TypeInt},
		{Name: "name", Type: sql.TypeText},
	}})
	mustExec(t, e, sql.CreateTable{Table: "orders", Columns: []sql.ColumnDef{
		{Name: "id", Type: sql.TypeInt},
		{Name: "customer_id", Type: sql.TypeInt},
		{Name: "item", Type: sql.TypeText},
	}})

	customers := []struct {
		id   int64
		name string
	}{{1, "Alice"}, {2, "Bob"}, {3, "Carol"}}
	for _, c := range customers {
		mustExec(t, e, sql.Insert{Table: "customers", Values: []sql.Expr{
			sql.Literal{Value: value.Int(c.id)}, sql.Literal{Value: value.Text(c.name)},
		}})
	}
	orders := []struct {
		id, cust int64
		item     string
	}{{1, 1, "Widget"}, {2, 1, "Gadget"}, {3, 2, "Gizmo"}}
	for _, o := range orders {
		mustExec(t, e, sql.Insert{Table: "orders", Values: []sql.Expr{
			sql.Literal{Value: value.Int(o.id)}, sql.Literal{Value: value.Int(o.cust)}, sql.Literal{Value: value.Text(o.item)},
		}})
	}
}

// TestHashJoinInnerMatchesEquiJoinKeys verifies buildFrom recognizes an
// "a.x = b.y" ON clause and takes the hash-join path, returning exactly the
// matching (customer, order) pairs.
func TestHashJoinInnerMatchesEquiJoinKeys(t *testing.T) {
	e := newTestExecutor(t)
	setupJoinTables(t, e)

	res, err := e.Execute(sql.Select{
		Table: "customers",
		Alias: "c",
		Joins: []sql.Join{{
			Table: "orders", Alias: "o", Type: sql.JoinInner,
			On: sql.Compare{Op: sql.OpEq, Left: sql.ColumnRef{Table: "c", Column: "id"}, Right: sql.ColumnRef{Table: "o", Column: "customer_id"}},
		}},
		Items: []sql.SelectItem{
			{Expr: sql.ColumnRef{Table: "c", Column: "name"}, Alias: "name"},
			{Expr: sql.ColumnRef{Table: "o", Column: "item"}, Alias: "item"},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 3, "Carol has no orders and must not appear in an inner join")
}

// TestHashJoinLeftPadsUnmatchedLeftRowsWithNull verifies LEFT JOIN keeps
// Carol (no matching order) with NULL-filled right-side columns.
func TestHashJoinLeftPadsUnmatchedLeftRowsWithNull(t *testing.T) {
	e := newTestExecutor(t)
	setupJoinTables(t, e)

	res, err := e.Execute(sql.Select{
		Table: "customers",
		Alias: "c",
		Joins: []sql.Join{{
			Table: "orders", Alias: "o", Type: sql.JoinLeft,
			On: sql.Compare{Op: sql.OpEq, Left: sql.ColumnRef{Table: "c", Column: "id"}, Right: sql.ColumnRef{Table: "o", Column: "customer_id"}},
		}},
		Items: []sql.SelectItem{
			{Expr: sql.ColumnRef{Table: "c", Column: "name"}, Alias: "name"},
			{Expr: sql.ColumnRef{Table: "o", Column: "item"}, Alias: "item"},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 4, "3 matched rows plus Carol's one NULL-padded row")

	var sawCarolNull bool
	for _, r := range res.Rows {
		name, _ := r.Get("name")
		item, _ := r.Get("item")
		if name.TextString() == "Carol" {
			require.True(t, item.IsNull())
			sawCarolNull = true
		}
	}
	require.True(t, sawCarolNull)
}

// TestHashJoinRightPadsUnmatchedRightRowsWithNull verifies RIGHT JOIN
// preserves every order row, including one for a customer_id with no
// matching customer, NULL-padding the left side's columns instead.
func TestHashJoinRightPadsUnmatchedRightRowsWithNull(t *testing.T) {
	e := newTestExecutor(t)
	setupJoinTables(t, e)
	mustExec(t, e, sql.Insert{Table: "orders", Values: []sql.Expr{
		sql.Literal{Value: value.Int(4)}, sql.Literal{Value: value.Int(99)}, sql.Literal{Value: value.Text("Orphan")},
	}})

	res, err := e.Execute(sql.Select{
		Table: "customers",
		Alias: "c",
		Joins: []sql.Join{{
			Table: "orders", Alias: "o", Type: sql.JoinRight,
			On: sql.Compare{Op: sql.OpEq, Left: sql.ColumnRef{Table: "c", Column: "id"}, Right: sql.ColumnRef{Table: "o", Column: "customer_id"}},
		}},
		Items: []sql.SelectItem{
			{Expr: sql.ColumnRef{Table: "c", Column: "name"}, Alias: "name"},
			{Expr: sql.ColumnRef{Table: "o", Column: "item"}, Alias: "item"},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 4, "every order row must appear exactly once, including the orphaned one")

	var sawOrphanNull bool
	for _, r := range res.Rows {
		item, _ := r.Get("item")
		if item.TextString() == "Orphan" {
			name, _ := r.Get("name")
			require.True(t, name.IsNull())
			sawOrphanNull = true
		}
	}
	require.True(t, sawOrphanNull, "orphaned order must be present with NULL customer name")
}

// TestRollbackUndoesIndexMutations grounds the scoped-rollback contract for
// index writes: an explicit transaction that moves an indexed row's key and
// then rolls back must leave the B-tree exactly as it found it, not just
// the table's MVCC visibility.
func TestRollbackUndoesIndexMutations(t *testing.T) {
	e := newTestExecutor(t)
	mustExec(t, e, sql.CreateTable{Table: "users", Columns: []sql.ColumnDef{
		{Name: "id", Type: sql.TypeInt},
		{Name: "email", Type: sql.TypeText},
	}})
	mustExec(t, e, sql.Insert{Table: "users", Values: []sql.Expr{
		sql.Literal{Value: value.Int(1)}, sql.Literal{Value: value.Text("old@example.com")},
	}})
	mustExec(t, e, sql.CreateIndex{IndexName: "idx_email", Table: "users", Column: "email"})

	mustExec(t, e, sql.Begin{})
	mustExec(t, e, sql.Update{
		Table: "users",
		Assignments: []sql.Assignment{{Column: "email", Value: sql.Literal{Value: value.Text("new@example.com")}}},
		Where:       sql.Compare{Op: sql.OpEq, Left: sql.ColumnRef{Column: "id"}, Right: sql.Literal{Value: value.Int(1)}},
	})
	mustExec(t, e, sql.Rollback{})

	rows, err := e.idx.Query("idx_email", value.Text("old@example.com"))
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, rows, "rollback must restore the pre-transaction index entry")

	rows, err = e.idx.Query("idx_email", value.Text("new@example.com"))
	require.NoError(t, err)
	require.Empty(t, rows, "rollback must undo the entry the aborted UPDATE added")
}

// TestHashJoinVerifiesEqualityAfterBucketLookup grounds the bucket-equality
// re-check in hashJoinIterator: two distinct key values are forced into the
// same hash bucket and must not join with each other.
func TestHashJoinVerifiesEqualityAfterBucketLookup(t *testing.T) {
	leftKeyVal := value.Int(1)
	left := []*value.Row{qualifyRow("l", value.NewRow([]string{"k"}, []value.Value{leftKeyVal}))}

	leftKey := sql.ColumnRef{Table: "l", Column: "k"}
	rightKey := sql.ColumnRef{Column: "k"}
	ctx := &evalCtx{}

	// Planting a build-side entry directly under the left key's own hash
	// bucket, keyed by a different value, simulates what a genuine
	// value.HashKey collision would hand hashJoinIterator: same bucket,
	// unequal keys. Only the post-lookup value.Equal check can tell them
	// apart.
	h, ok := value.HashKey(leftKeyVal)
	require.True(t, ok)
	otherRow := value.NewRow([]string{"k"}, []value.Value{value.Int(2)})
	table := map[uint64][]bucketEntry{h: {{key: value.Int(2), row: otherRow}}}

	iter := &hashJoinIterator{
		left:          &sliceIterator{rows: left},
		leftKey:       leftKey,
		rightKey:      rightKey,
		buildRows:     table,
		rightColNames: []string{"k"},
		leftOuter:     false,
		ctx:           ctx,
	}

	_, err := iter.Next()
	require.Equal(t, io.EOF, err, "key 1 sharing a bucket with key 2 must not produce a joined row")
}

// TestLikeFilterMatchesWildcardPattern grounds the LIKE operator's '%'/'_'
// semantics through the actual WHERE-clause filter pipeline rather than
// calling the matcher directly.
func TestLikeFilterMatchesWildcardPattern(t *testing.T) {
	e := newTestExecutor(t)
	mustExec(t, e, sql.CreateTable{Table: "products", Columns: []sql.ColumnDef{
		{Name: "name", Type: sql.TypeText},
	}})
	for _, n := range []string{"Widget", "Gadget", "Thing"} {
		mustExec(t, e, sql.Insert{Table: "products", Values: []sql.Expr{sql.Literal{Value: value.Text(n)}}})
	}

	res, err := e.Execute(sql.Select{
		Star:  true,
		Table: "products",
		Where: sql.Compare{Op: sql.OpLike, Left: sql.ColumnRef{Column: "name"}, Right: sql.Literal{Value: value.Text("%g_t%")}},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2, "Widget and Gadget both contain a 'g<any>t' run; Thing does not")
}

// TestDistinctOrderByLimitPipeline chains ORDER BY DESC, DISTINCT, and
// LIMIT in the order runSelect applies them, over duplicate rows.
func TestDistinctOrderByLimitPipeline(t *testing.T) {
	e := newTestExecutor(t)
	mustExec(t, e, sql.CreateTable{Table: "scores", Columns: []sql.ColumnDef{
		{Name: "value", Type: sql.TypeInt},
	}})
	for _, v := range []int64{3, 1, 3, 2, 1, 5} {
		mustExec(t, e, sql.Insert{Table: "scores", Values: []sql.Expr{sql.Literal{Value: value.Int(v)}}})
	}

	limit := int64(2)
	res, err := e.Execute(sql.Select{
		Distinct: true,
		Table:    "scores",
		Items:    []sql.SelectItem{{Expr: sql.ColumnRef{Column: "value"}, Alias: "value"}},
		OrderBy:  []sql.OrderItem{{Expr: sql.ColumnRef{Column: "value"}, Desc: true}},
		Limit:    &limit,
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	v0, _ := res.Rows[0].Get("value")
	v1, _ := res.Rows[1].Get("value")
	require.Equal(t, int64(5), v0.Int)
	require.Equal(t, int64(3), v1.Int)
}

// TestDeleteRemovesRowFromSubsequentScan confirms the DML delete path is
// immediately visible to a following SELECT in the same auto-commit flow.
func TestDeleteRemovesRowFromSubsequentScan(t *testing.T) {
	e := newTestExecutor(t)
	mustExec(t, e, sql.CreateTable{Table: "items", Columns: []sql.ColumnDef{{Name: "id", Type: sql.TypeInt}}})
	mustExec(t, e, sql.Insert{Table: "items", Values: []sql.Expr{sql.Literal{Value: value.Int(1)}}})
	mustExec(t, e, sql.Insert{Table: "items", Values: []sql.Expr{sql.Literal{Value: value.Int(2)}}})

	res := mustExec(t, e, sql.Delete{Table: "items", Where: sql.Compare{Op: sql.OpEq, Left: sql.ColumnRef{Column: "id"}, Right: sql.Literal{Value: value.Int(1)}}})
	require.Equal(t, 1, res.RowsAffected)

	sel := mustExec(t, e, sql.Select{Star: true, Table: "items"})
	require.Len(t, sel.Rows, 1)
	id, _ := sel.Rows[0].Get("id")
	require.Equal(t, int64(2), id.Int)
}
