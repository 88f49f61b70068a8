package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reldb/reldb/internal/exec"
	"github.com/reldb/reldb/internal/sql"
	"github.com/reldb/reldb/internal/value"
)

// TestScenarioVacuumReclaimsSupersededVersions is the literal end-to-end
// scenario from spec.md §8 #1: insert then update a row three times,
// observe the chain grow to four versions, VACUUM, and observe it
// collapse to one while the visible value is preserved.
func TestScenarioVacuumReclaimsSupersededVersions(t *testing.T) {
	dir := t.TempDir()
	db := mustOpen(t, dir)
	defer db.Close()

	_, err := db.Execute(sql.CreateTable{
		Table: "accounts",
		Columns: []sql.ColumnDef{
			{Name: "id", Type: sql.TypeInt},
			{Name: "balance", Type: sql.TypeInt},
		},
	})
	require.NoError(t, err)

	_, err = db.Execute(sql.Insert{
		Table:  "accounts",
		Values: []sql.Expr{sql.Literal{Value: value.Int(1)}, sql.Literal{Value: value.Int(1000)}},
	})
	require.NoError(t, err)

	for _, bal := range []int64{1100, 1200, 1300} {
		_, err = db.Execute(sql.Update{
			Table: "accounts",
			Assignments: []sql.Assignment{
				{Column: "balance", Value: sql.Literal{Value: value.Int(bal)}},
			},
			Where: sql.Compare{Op: sql.OpEq, Left: sql.ColumnRef{Column: "id"}, Right: sql.Literal{Value: value.Int(1)}},
		})
		require.NoError(t, err)
	}

	table := db.Tables()["accounts"]
	var rowID uint64
	for _, id := range table.RowIDs() {
		rowID = id
	}
	require.Equal(t, 4, table.ChainLength(rowID))

	_, err = db.Execute(sql.Vacuum{Table: "accounts"})
	require.NoError(t, err)
	require.Equal(t, 1, table.ChainLength(rowID))

	res, err := db.Execute(sql.Select{
		Items: []sql.SelectItem{{Expr: sql.ColumnRef{Column: "balance"}}},
		Table: "accounts",
		Where: sql.Compare{Op: sql.OpEq, Left: sql.ColumnRef{Column: "id"}, Right: sql.Literal{Value: value.Int(1)}},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	balance, _ := res.Rows[0].Get("balance")
	require.Equal(t, int64(1300), balance.Int)
}

// TestScenarioScalarSubqueryAboveAverage is spec.md §8 #2: a scalar
// subquery computing AVG(price) used as the RHS of a WHERE comparison,
// and the same subquery shape failing with subquery-multiple-rows when
// its inner SELECT returns more than one row.
func TestScenarioScalarSubqueryAboveAverage(t *testing.T) {
	dir := t.TempDir()
	db := mustOpen(t, dir)
	defer db.Close()

	_, err := db.Execute(sql.CreateTable{
		Table: "products",
		Columns: []sql.ColumnDef{
			{Name: "id", Type: sql.TypeInt},
			{Name: "name", Type: sql.TypeText},
			{Name: "price", Type: sql.TypeFloat},
			{Name: "category", Type: sql.TypeText},
		},
	})
	require.NoError(t, err)

	insertProduct := func(id int64, name string, price float64, category string) {
		_, err := db.Execute(sql.Insert{
			Table: "products",
			Values: []sql.Expr{
				sql.Literal{Value: value.Int(id)},
				sql.Literal{Value: value.Text(name)},
				sql.Literal{Value: value.Float(price)},
				sql.Literal{Value: value.Text(category)},
			},
		})
		require.NoError(t, err)
	}
	insertProduct(1, "Widget", 10.0, "tools")
	insertProduct(2, "Gadget", 20.0, "electronics")
	insertProduct(3, "Doohickey", 30.0, "tools")

	avgSubquery := &sql.Select{
		Items: []sql.SelectItem{{Expr: sql.Aggregate{Func: sql.AggAvg, Arg: sql.ColumnRef{Column: "price"}}}},
		Table: "products",
	}
	res, err := db.Execute(sql.Select{
		Star:  true,
		Table: "products",
		Where: sql.Compare{
			Op:    sql.OpGt,
			Left:  sql.ColumnRef{Column: "price"},
			Right: sql.ScalarSubquery{Subquery: avgSubquery},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	name, _ := res.Rows[0].Get("name")
	require.Equal(t, "Doohickey", name.TextString())

	multiRowSubquery := &sql.Select{
		Items: []sql.SelectItem{{Expr: sql.ColumnRef{Column: "price"}}},
		Table: "products",
	}
	_, err = db.Execute(sql.Select{
		Star:  true,
		Table: "products",
		Where: sql.Compare{
			Op:    sql.OpGt,
			Left:  sql.ColumnRef{Column: "price"},
			Right: sql.ScalarSubquery{Subquery: multiRowSubquery},
		},
	})
	require.Error(t, err)
	execErr, ok := err.(*exec.Error)
	require.True(t, ok)
	require.Equal(t, exec.ErrSubqueryMultipleRows, execErr.Kind)
}

// TestScenarioGroupByCountStar is spec.md §8 #3: GROUP BY department with
// COUNT(*), exactly two groups, header names "department" and "COUNT(*)".
func TestScenarioGroupByCountStar(t *testing.T) {
	dir := t.TempDir()
	db := mustOpen(t, dir)
	defer db.Close()

	_, err := db.Execute(sql.CreateTable{
		Table: "users",
		Columns: []sql.ColumnDef{
			{Name: "id", Type: sql.TypeInt},
			{Name: "name", Type: sql.TypeText},
			{Name: "department", Type: sql.TypeText},
		},
	})
	require.NoError(t, err)

	insertUser := func(id int64, name, dept string) {
		_, err := db.Execute(sql.Insert{
			Table: "users",
			Values: []sql.Expr{
				sql.Literal{Value: value.Int(id)},
				sql.Literal{Value: value.Text(name)},
				sql.Literal{Value: value.Text(dept)},
			},
		})
		require.NoError(t, err)
	}
	insertUser(1, "Alice", "Engineering")
	insertUser(2, "Bob", "Sales")
	insertUser(3, "Charlie", "Engineering")
	insertUser(4, "David", "Sales")

	res, err := db.Execute(sql.Select{
		Items: []sql.SelectItem{
			{Expr: sql.ColumnRef{Column: "department"}},
			{Expr: sql.Aggregate{Func: sql.AggCount}},
		},
		Table:   "users",
		GroupBy: []sql.Expr{sql.ColumnRef{Column: "department"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	require.Equal(t, []string{"department", "COUNT(*)"}, res.Columns)

	counts := map[string]int64{}
	for _, r := range res.Rows {
		dept, _ := r.Get("department")
		cnt, _ := r.Get("COUNT(*)")
		counts[dept.TextString()] = cnt.Int
	}
	require.Equal(t, int64(2), counts["Engineering"])
	require.Equal(t, int64(2), counts["Sales"])
}

// TestScenarioExplicitTransactionCommitRollback exercises BEGIN/COMMIT/
// ROLLBACK through the command surface, including the illegal-state
// errors spec.md §4.10 names.
func TestScenarioExplicitTransactionCommitRollback(t *testing.T) {
	dir := t.TempDir()
	db := mustOpen(t, dir)
	defer db.Close()

	createAccounts(t, db)

	_, err := db.Execute(sql.Commit{})
	require.Error(t, err)
	execErr := err.(*exec.Error)
	require.Equal(t, exec.ErrNoActiveTransaction, execErr.Kind)

	_, err = db.Execute(sql.Begin{})
	require.NoError(t, err)

	_, err = db.Execute(sql.Begin{})
	require.Error(t, err)
	execErr = err.(*exec.Error)
	require.Equal(t, exec.ErrTransactionAlreadyActive, execErr.Kind)

	insertAccount(t, db, 1, "alice", 500)
	_, err = db.Execute(sql.Rollback{})
	require.NoError(t, err)

	res, err := db.Execute(sql.Select{Star: true, Table: "accounts"})
	require.NoError(t, err)
	require.Empty(t, res.Rows, "rolled-back insert must not be visible")
}

// TestScenarioAtomicInsertWithEmbeddingDimensionMismatch is spec.md §8 #6's
// embedding half: a row whose embedding column fails its dimension check
// must be absent from both the table and its indexes, and the caller
// sees dimension-mismatch.
func TestScenarioAtomicInsertWithEmbeddingDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	db := mustOpen(t, dir)
	defer db.Close()

	_, err := db.Execute(sql.CreateTable{
		Table: "docs",
		Columns: []sql.ColumnDef{
			{Name: "id", Type: sql.TypeInt},
			{Name: "vec", Type: sql.TypeEmbedding, EmbeddingDim: 4},
		},
	})
	require.NoError(t, err)

	_, err = db.Execute(sql.Insert{
		Table: "docs",
		Values: []sql.Expr{
			sql.Literal{Value: value.Int(1)},
			sql.Literal{Value: value.Embedding([]float32{1, 2, 3})}, // wrong length
		},
	})
	require.Error(t, err)
	execErr := err.(*exec.Error)
	require.Equal(t, exec.ErrDimensionMismatch, execErr.Kind)

	res, err := db.Execute(sql.Select{Star: true, Table: "docs"})
	require.NoError(t, err)
	require.Empty(t, res.Rows)
}
