package exec

import (
	"strings"

	"github.com/reldb/reldb/internal/sql"
	"github.com/reldb/reldb/internal/value"
)

// evalCtx carries what expression evaluation needs beyond the current
// row: a way to run an uncorrelated subquery's own pipeline, and (once
// GROUP BY has run) each group-representative row's member rows, so an
// Aggregate node encountered while evaluating that row's HAVING clause
// or select item can compute itself over the right set.
type evalCtx struct {
	runSubquery  func(*sql.Select) ([]*value.Row, error)
	groupMembers map[*value.Row][]*value.Row
}

// resolveColumn looks up ref against a row whose columns are qualified as
// "alias.column". A qualified ref matches the exact "table.column" name;
// an unqualified ref matches any column whose suffix after the last '.'
// equals ref.Column, returning the first match (the validator has already
// rejected genuinely ambiguous unqualified references in joined queries).
func resolveColumn(row *value.Row, ref sql.ColumnRef) (value.Value, bool) {
	if ref.Table != "" {
		return row.Get(ref.Table + "." + ref.Column)
	}
	if v, ok := row.Get(ref.Column); ok {
		return v, true
	}
	for i := 0; i < row.Len(); i++ {
		name, v := row.At(i)
		if suffixColumn(name) == ref.Column {
			return v, true
		}
	}
	return value.Value{}, false
}

func suffixColumn(qualified string) string {
	if i := strings.LastIndexByte(qualified, '.'); i >= 0 {
		return qualified[i+1:]
	}
	return qualified
}

// eval evaluates expr against row using three-valued (NULL-propagating)
// boolean logic, per the comparison and boolean operator semantics.
func eval(expr sql.Expr, row *value.Row, ctx *evalCtx) (value.Value, error) {
	switch e := expr.(type) {
	case sql.Literal:
		return e.Value, nil

	case sql.ColumnRef:
		v, ok := resolveColumn(row, e)
		if !ok {
			return value.Null(), nil
		}
		return v, nil

	case sql.Compare:
		left, err := eval(e.Left, row, ctx)
		if err != nil {
			return value.Value{}, err
		}
		right, err := eval(e.Right, row, ctx)
		if err != nil {
			return value.Value{}, err
		}
		if left.IsNull() || right.IsNull() {
			return value.Null(), nil
		}
		return value.Bool(compareOp(e.Op, left, right)), nil

	case sql.BoolExpr:
		left, err := eval(e.Left, row, ctx)
		if err != nil {
			return value.Value{}, err
		}
		right, err := eval(e.Right, row, ctx)
		if err != nil {
			return value.Value{}, err
		}
		return evalBoolOp(e.Op, left, right), nil

	case sql.Not:
		v, err := eval(e.Operand, row, ctx)
		if err != nil {
			return value.Value{}, err
		}
		if v.IsNull() {
			return value.Null(), nil
		}
		return value.Bool(!v.Bool), nil

	case sql.In:
		return evalIn(e, row, ctx)

	case sql.Exists:
		rows, err := ctx.runSubquery(e.Subquery)
		if err != nil {
			return value.Value{}, err
		}
		result := len(rows) > 0
		if e.Negate {
			result = !result
		}
		return value.Bool(result), nil

	case sql.ScalarSubquery:
		rows, err := ctx.runSubquery(e.Subquery)
		if err != nil {
			return value.Value{}, err
		}
		if len(rows) == 0 {
			return value.Null(), nil
		}
		if len(rows) > 1 {
			return value.Value{}, newError(ErrSubqueryMultipleRows, "scalar subquery returned more than one row")
		}
		if rows[0].Len() != 1 {
			return value.Value{}, newError(ErrSubqueryMultipleRows, "scalar subquery returned more than one column")
		}
		_, v := rows[0].At(0)
		return v, nil

	case sql.Aggregate:
		members, ok := ctx.groupMembers[row]
		if !ok {
			return value.Value{}, newError(ErrIO, "aggregate function used outside of an aggregate context")
		}
		return computeAggregate(e, members, ctx)

	default:
		return value.Value{}, newError(ErrIO, "unsupported expression node")
	}
}

func compareOp(op sql.CmpOp, left, right value.Value) bool {
	switch op {
	case sql.OpEq:
		return value.Equal(left, right)
	case sql.OpNe:
		return !value.Equal(left, right)
	case sql.OpLt:
		return value.Compare(left, right) < 0
	case sql.OpLe:
		return value.Compare(left, right) <= 0
	case sql.OpGt:
		return value.Compare(left, right) > 0
	case sql.OpGe:
		return value.Compare(left, right) >= 0
	case sql.OpLike:
		return likeMatch(left.TextString(), right.TextString())
	default:
		return false
	}
}

// likeMatch implements SQL LIKE with '%' (any run) and '_' (any one
// char) wildcards, anchored at both ends.
func likeMatch(text, pattern string) bool {
	return likeMatchRunes([]rune(text), []rune(pattern))
}

func likeMatchRunes(text, pattern []rune) bool {
	if len(pattern) == 0 {
		return len(text) == 0
	}
	switch pattern[0] {
	case '%':
		for i := 0; i <= len(text); i++ {
			if likeMatchRunes(text[i:], pattern[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(text) == 0 {
			return false
		}
		return likeMatchRunes(text[1:], pattern[1:])
	default:
		if len(text) == 0 || text[0] != pattern[0] {
			return false
		}
		return likeMatchRunes(text[1:], pattern[1:])
	}
}

// evalBoolOp applies three-valued AND/OR: AND is false if either side is
// false even when the other is NULL; OR is true if either side is true
// even when the other is NULL; otherwise NULL propagates.
func evalBoolOp(op sql.BoolOp, left, right value.Value) value.Value {
	switch op {
	case sql.OpAnd:
		if (!left.IsNull() && !left.Bool) || (!right.IsNull() && !right.Bool) {
			return value.Bool(false)
		}
		if left.IsNull() || right.IsNull() {
			return value.Null()
		}
		return value.Bool(true)
	case sql.OpOr:
		if (!left.IsNull() && left.Bool) || (!right.IsNull() && right.Bool) {
			return value.Bool(true)
		}
		if left.IsNull() || right.IsNull() {
			return value.Null()
		}
		return value.Bool(false)
	default:
		return value.Null()
	}
}

func evalIn(e sql.In, row *value.Row, ctx *evalCtx) (value.Value, error) {
	operand, err := eval(e.Operand, row, ctx)
	if err != nil {
		return value.Value{}, err
	}
	if operand.IsNull() {
		return value.Null(), nil
	}

	var candidates []value.Value
	if e.Subquery != nil {
		rows, err := ctx.runSubquery(e.Subquery)
		if err != nil {
			return value.Value{}, err
		}
		for _, r := range rows {
			_, v := r.At(0)
			candidates = append(candidates, v)
		}
	} else {
		for _, item := range e.List {
			v, err := eval(item, row, ctx)
			if err != nil {
				return value.Value{}, err
			}
			candidates = append(candidates, v)
		}
	}

	found := false
	for _, c := range candidates {
		if !c.IsNull() && value.Equal(operand, c) {
			found = true
			break
		}
	}
	if e.Negate {
		found = !found
	}
	return value.Bool(found), nil
}

// truthy reports whether a WHERE/HAVING/ON predicate's value selects a
// row: NULL and false are both rejecting.
func truthy(v value.Value) bool {
	return !v.IsNull() && v.Bool
}
