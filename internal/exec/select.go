package exec

import (
	"github.com/reldb/reldb/internal/sql"
	"github.com/reldb/reldb/internal/storage"
	"github.com/reldb/reldb/internal/txn"
	"github.com/reldb/reldb/internal/value"
)

// runSelect executes a Select end to end and returns its projected result
// rows (after ORDER BY, DISTINCT and LIMIT) plus the output column names.
// Both the top-level SELECT and IN/EXISTS/scalar subqueries use it, so a
// subquery's rows carry exactly its select items.
func (e *Executor) runSelect(sel *sql.Select, snap *txn.Snapshot) ([]*value.Row, []string, error) {
	ctx := &evalCtx{}
	ctx.runSubquery = func(sub *sql.Select) ([]*value.Row, error) {
		rows, _, err := e.runSelect(sub, snap)
		return rows, err
	}

	it, err := e.buildFrom(sel, snap, ctx)
	if err != nil {
		return nil, nil, err
	}
	defer it.Close()

	if sel.Where != nil {
		it = &filterIterator{child: it, predicate: sel.Where, ctx: ctx}
	}

	rows, err := drain(it)
	if err != nil {
		return nil, nil, err
	}

	hasAgg := hasAnyAggregate(sel)
	if len(sel.GroupBy) > 0 || hasAgg {
		rows, err = e.applyAggregation(sel, rows, ctx)
		if err != nil {
			return nil, nil, err
		}
	}

	if len(sel.OrderBy) > 0 {
		if err := sortRows(rows, sel.OrderBy, ctx); err != nil {
			return nil, nil, err
		}
	}

	items := sel.Items
	if sel.Star {
		items = starItems(rows)
	}
	projected, err := projectRows(rows, items, ctx)
	if err != nil {
		return nil, nil, err
	}
	if sel.Distinct {
		projected = dedupe(projected)
	}
	if sel.Limit != nil && int64(len(projected)) > *sel.Limit {
		projected = projected[:*sel.Limit]
	}

	names := make([]string, len(items))
	for i, item := range items {
		names[i] = itemName(item, i)
	}
	return projected, names, nil
}

// buildFrom constructs the scan/join pipeline (everything upstream of
// WHERE) for sel.
func (e *Executor) buildFrom(sel *sql.Select, snap *txn.Snapshot, ctx *evalCtx) (Iterator, error) {
	table, ok := e.tables[sel.Table]
	if !ok {
		return nil, newError(ErrTableNotFound, "table %q does not exist", sel.Table)
	}
	alias := sel.Alias
	if alias == "" {
		alias = sel.Table
	}

	var pipeline Iterator
	if len(sel.Joins) == 0 {
		pipeline = e.scanWithIndex(sel, table, alias, snap, ctx)
	} else {
		pipeline = newScanIterator(table, alias, snap, e.mgr)
	}
	leftColNames := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		leftColNames[i] = alias + "." + c.Name
	}

	for _, j := range sel.Joins {
		rt, ok := e.tables[j.Table]
		if !ok {
			return nil, newError(ErrTableNotFound, "table %q does not exist", j.Table)
		}
		jalias := j.Alias
		if jalias == "" {
			jalias = j.Table
		}
		rightColNames := make([]string, len(rt.Columns))
		for i, c := range rt.Columns {
			rightColNames[i] = jalias + "." + c.Name
		}

		if j.Type == sql.JoinRight {
			// RIGHT JOIN preserves every row of rt (the just-joined table)
			// and pads the accumulated left side's columns with NULLs where
			// unmatched, so it is evaluated as a materialized pass with the
			// roles of probe/build swapped rather than reusing the left-
			// preserving hashJoinIterator/nestedLoopJoinIterator directly.
			prevRows, err := drain(pipeline)
			if err != nil {
				return nil, err
			}
			rightRows, err := drain(newScanIterator(rt, jalias, snap, e.mgr))
			if err != nil {
				return nil, err
			}
			combined, err := rightJoinRows(prevRows, rightRows, leftColNames, j.On, ctx)
			if err != nil {
				return nil, err
			}
			pipeline = &sliceIterator{rows: combined}
			leftColNames = append(append([]string(nil), leftColNames...), rightColNames...)
			continue
		}

		rightRows, err := drain(newScanIterator(rt, jalias, snap, e.mgr))
		if err != nil {
			return nil, err
		}

		leftOuter := j.Type == sql.JoinLeft
		if leftKey, rightKey, ok := equiJoinKeys(j.On, jalias); ok {
			pipeline = &hashJoinIterator{
				left: pipeline, leftKey: leftKey, rightKey: rightKey,
				buildRows:     buildHashTable(rightRows, rightKey, ctx),
				rightColNames: rightColNames, leftOuter: leftOuter, ctx: ctx,
			}
		} else {
			pipeline = &nestedLoopJoinIterator{
				left: pipeline, rightRows: rightRows, rightColNames: rightColNames,
				on: j.On, leftOuter: leftOuter, ctx: ctx,
			}
		}
		leftColNames = append(append([]string(nil), leftColNames...), rightColNames...)
	}
	return pipeline, nil
}

// rightJoinRows evaluates a RIGHT JOIN by nested-loop matching every
// prevRow against every rightRow: matched pairs are emitted as they're
// found, and every rightRow with no match anywhere in prevRows is
// emitted once at the end, padded with NULLs for the accumulated left
// side's columns, per spec's "unmatched build rows are emitted at end".
func rightJoinRows(prevRows, rightRows []*value.Row, leftColNames []string, on sql.Expr, ctx *evalCtx) ([]*value.Row, error) {
	matched := make([]bool, len(rightRows))
	var out []*value.Row
	for _, lr := range prevRows {
		for ri, rr := range rightRows {
			combined := combineRows(lr, rr)
			v, err := eval(on, combined, ctx)
			if err != nil {
				return nil, err
			}
			if truthy(v) {
				matched[ri] = true
				out = append(out, combined)
			}
		}
	}
	for ri, rr := range rightRows {
		if !matched[ri] {
			out = append(out, combineRows(nullRow(leftColNames), rr))
		}
	}
	return out, nil
}

// scanWithIndex prefers a B-tree index scan over a full table scan when
// WHERE is a simple equality predicate on an indexed column of a
// single-table query; the full WHERE predicate is still re-applied by
// the caller's filterIterator regardless, since indexes are accelerators
// only.
func (e *Executor) scanWithIndex(sel *sql.Select, table *storage.Table, alias string, snap *txn.Snapshot, ctx *evalCtx) Iterator {
	if sel.Where != nil {
		if cmp, ok := sel.Where.(sql.Compare); ok && cmp.Op == sql.OpEq {
			if col, lit, ok := eqIndexCandidate(cmp, alias); ok {
				if name, ok := e.idx.BTreeFor(table.Name, col); ok {
					if ids, err := e.idx.Query(name, lit); err == nil {
						return newIndexScanIterator(table, alias, ids, snap, e.mgr)
					}
				}
			}
		}
	}
	return newScanIterator(table, alias, snap, e.mgr)
}

func eqIndexCandidate(cmp sql.Compare, alias string) (string, value.Value, bool) {
	if ref, ok := cmp.Left.(sql.ColumnRef); ok && (ref.Table == "" || ref.Table == alias) {
		if lit, ok := cmp.Right.(sql.Literal); ok {
			return ref.Column, lit.Value, true
		}
	}
	if ref, ok := cmp.Right.(sql.ColumnRef); ok && (ref.Table == "" || ref.Table == alias) {
		if lit, ok := cmp.Left.(sql.Literal); ok {
			return ref.Column, lit.Value, true
		}
	}
	return "", value.Value{}, false
}

// equiJoinKeys recognizes "a.x = b.y" shaped ON clauses so the builder
// can use a hash join; rightAlias identifies which side belongs to the
// table just being joined in.
func equiJoinKeys(on sql.Expr, rightAlias string) (sql.Expr, sql.Expr, bool) {
	cmp, ok := on.(sql.Compare)
	if !ok || cmp.Op != sql.OpEq {
		return nil, nil, false
	}
	leftRef, leftOK := cmp.Left.(sql.ColumnRef)
	rightRef, rightOK := cmp.Right.(sql.ColumnRef)
	if !leftOK || !rightOK {
		return nil, nil, false
	}
	if rightRef.Table == rightAlias {
		return cmp.Left, cmp.Right, true
	}
	if leftRef.Table == rightAlias {
		return cmp.Right, cmp.Left, true
	}
	return nil, nil, false
}

func hasAnyAggregate(sel *sql.Select) bool {
	for _, item := range sel.Items {
		if hasAggregate(item.Expr) {
			return true
		}
	}
	return hasAggregate(sel.Having)
}

// applyAggregation partitions rows into GROUP BY buckets, evaluates
// HAVING per bucket, and returns one representative row per surviving
// bucket with ctx.groupMembers populated so later stages (ORDER BY,
// projection) can evaluate aggregate select items against it.
func (e *Executor) applyAggregation(sel *sql.Select, rows []*value.Row, ctx *evalCtx) ([]*value.Row, error) {
	groups, err := groupRows(rows, sel.GroupBy, ctx)
	if err != nil {
		return nil, err
	}
	if ctx.groupMembers == nil {
		ctx.groupMembers = make(map[*value.Row][]*value.Row)
	}
	var out []*value.Row
	for _, g := range groups {
		ctx.groupMembers[g.sample] = g.rows
		if sel.Having != nil {
			v, err := eval(sel.Having, g.sample, ctx)
			if err != nil {
				return nil, err
			}
			if !truthy(v) {
				continue
			}
		}
		out = append(out, g.sample)
	}
	return out, nil
}

// projectRows evaluates each select item against every row, building the
// final output row with either the item's alias or a derived column name.
func projectRows(rows []*value.Row, items []sql.SelectItem, ctx *evalCtx) ([]*value.Row, error) {
	out := make([]*value.Row, len(rows))
	for i, row := range rows {
		names := make([]string, len(items))
		values := make([]value.Value, len(items))
		for j, item := range items {
			v, err := eval(item.Expr, row, ctx)
			if err != nil {
				return nil, err
			}
			names[j] = itemName(item, j)
			values[j] = v
		}
		out[i] = value.NewRow(names, values)
	}
	return out, nil
}

func itemName(item sql.SelectItem, idx int) string {
	if item.Alias != "" {
		return item.Alias
	}
	switch e := item.Expr.(type) {
	case sql.ColumnRef:
		return e.Column
	case sql.Aggregate:
		return aggName(e)
	default:
		return "col"
	}
}

// aggName renders an unaliased aggregate's column header the way a SQL
// engine conventionally would: "COUNT(*)", "SUM(price)", and so on.
func aggName(a sql.Aggregate) string {
	fn := aggFuncName(a.Func)
	if a.Func == sql.AggCount && a.Arg == nil {
		return fn + "(*)"
	}
	return fn + "(" + exprLabel(a.Arg) + ")"
}

func aggFuncName(f sql.AggFunc) string {
	switch f {
	case sql.AggCount, sql.AggCountCol:
		return "COUNT"
	case sql.AggSum:
		return "SUM"
	case sql.AggAvg:
		return "AVG"
	case sql.AggMin:
		return "MIN"
	case sql.AggMax:
		return "MAX"
	default:
		return "AGG"
	}
}

// exprLabel renders the argument of an aggregate for header purposes;
// only column references are expected here in practice.
func exprLabel(e sql.Expr) string {
	switch v := e.(type) {
	case sql.ColumnRef:
		if v.Table != "" {
			return v.Table + "." + v.Column
		}
		return v.Column
	default:
		return "expr"
	}
}

// starItems builds a SELECT * item list by flattening every qualified
// column name present in the upstream rows (using the first row as the
// schema, consistent since every row reaching this point shares the same
// pipeline shape).
func starItems(rows []*value.Row) []sql.SelectItem {
	if len(rows) == 0 {
		return nil
	}
	first := rows[0]
	items := make([]sql.SelectItem, first.Len())
	for i := 0; i < first.Len(); i++ {
		name, _ := first.At(i)
		items[i] = sql.SelectItem{Expr: sql.ColumnRef{Column: suffixColumn(name)}, Alias: suffixColumn(name)}
	}
	return items
}
