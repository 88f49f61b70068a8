package sql

import (
	"fmt"

	"github.com/reldb/reldb/internal/config"
	"github.com/reldb/reldb/internal/logger"
)

// Catalog is the minimal schema view the validator needs: table existence
// and ordered column names, independent of how the engine stores tables.
type Catalog interface {
	HasTable(name string) bool
	Columns(table string) []string
}

// Validator checks a Command against the catalog before execution, in one
// of three modes: strict (default, first error is fatal), warnings
// (every error is logged and execution proceeds), disabled (no checks).
type Validator struct {
	mode   config.ValidationMode
	logger *logger.Logger
}

func New(mode config.ValidationMode, log *logger.Logger) *Validator {
	return &Validator{mode: mode, logger: log}
}

// Validate runs every applicable check for cmd. In strict mode the first
// error found is returned; in warnings mode every error is logged and nil
// is returned, so execution proceeds with whatever runtime errors the
// bad reference produces; in disabled mode Validate is a no-op.
func (v *Validator) Validate(cmd Command, cat Catalog) error {
	if v.mode == config.ValidationDisabled {
		return nil
	}
	errs := check(cmd, cat)
	if len(errs) == 0 {
		return nil
	}
	if v.mode == config.ValidationWarnings {
		for _, e := range errs {
			v.logger.Warn("validation: %v", e)
		}
		return nil
	}
	return errs[0]
}

type scopeEntry struct {
	alias string // alias, or the table name itself if unaliased
	table string
}

func check(cmd Command, cat Catalog) []*ValidationError {
	switch c := cmd.(type) {
	case CreateTable:
		return checkCreateTable(c)
	case DropTable:
		return checkDropTable(c, cat)
	case AlterTable:
		return checkAlterTable(c, cat)
	case CreateIndex:
		return checkCreateIndex(c, cat)
	case DropIndex:
		return nil
	case Insert:
		return checkInsert(c, cat)
	case Select:
		return checkSelect(c, cat)
	case Update:
		return checkUpdate(c, cat)
	case Delete:
		return checkDelete(c, cat)
	default:
		return nil
	}
}

func checkCreateTable(c CreateTable) []*ValidationError {
	var errs []*ValidationError
	seen := make(map[string]bool, len(c.Columns))
	for _, col := range c.Columns {
		if seen[col.Name] {
			errs = append(errs, dupColumn(col.Name))
		}
		seen[col.Name] = true
	}
	return errs
}

func checkDropTable(c DropTable, cat Catalog) []*ValidationError {
	if c.IfExists || cat.HasTable(c.Table) {
		return nil
	}
	return []*ValidationError{tableNotFound(c.Table)}
}

func checkAlterTable(c AlterTable, cat Catalog) []*ValidationError {
	if !cat.HasTable(c.Table) {
		return []*ValidationError{tableNotFound(c.Table)}
	}
	switch c.Kind {
	case AlterDropColumn, AlterRenameColumn:
		if !contains(cat.Columns(c.Table), c.ColumnName) {
			return []*ValidationError{columnNotFound(c.ColumnName, cat.Columns(c.Table))}
		}
	}
	return nil
}

func checkCreateIndex(c CreateIndex, cat Catalog) []*ValidationError {
	if !cat.HasTable(c.Table) {
		return []*ValidationError{tableNotFound(c.Table)}
	}
	if !contains(cat.Columns(c.Table), c.Column) {
		return []*ValidationError{columnNotFound(c.Column, cat.Columns(c.Table))}
	}
	return nil
}

func checkInsert(c Insert, cat Catalog) []*ValidationError {
	if !cat.HasTable(c.Table) {
		return []*ValidationError{tableNotFound(c.Table)}
	}
	var errs []*ValidationError
	seen := make(map[string]bool, len(c.Columns))
	cols := cat.Columns(c.Table)
	for _, name := range c.Columns {
		if seen[name] {
			errs = append(errs, dupColumn(name))
		}
		seen[name] = true
		if !contains(cols, name) {
			errs = append(errs, columnNotFound(name, cols))
		}
	}
	return errs
}

func checkUpdate(c Update, cat Catalog) []*ValidationError {
	if !cat.HasTable(c.Table) {
		return []*ValidationError{tableNotFound(c.Table)}
	}
	var errs []*ValidationError
	cols := cat.Columns(c.Table)
	seen := make(map[string]bool, len(c.Assignments))
	for _, a := range c.Assignments {
		if seen[a.Column] {
			errs = append(errs, dupColumn(a.Column))
		}
		seen[a.Column] = true
		if !contains(cols, a.Column) {
			errs = append(errs, columnNotFound(a.Column, cols))
		}
	}
	scope := []scopeEntry{{alias: c.Table, table: c.Table}}
	if c.Where != nil {
		if hasAggregate(c.Where) {
			errs = append(errs, &ValidationError{Kind: ErrAggregateInWhere, Message: "aggregate functions are not allowed in WHERE"})
		}
		errs = append(errs, checkColumnRefs(c.Where, scope, cat)...)
	}
	return errs
}

func checkDelete(c Delete, cat Catalog) []*ValidationError {
	if !cat.HasTable(c.Table) {
		return []*ValidationError{tableNotFound(c.Table)}
	}
	var errs []*ValidationError
	scope := []scopeEntry{{alias: c.Table, table: c.Table}}
	if c.Where != nil {
		if hasAggregate(c.Where) {
			errs = append(errs, &ValidationError{Kind: ErrAggregateInWhere, Message: "aggregate functions are not allowed in WHERE"})
		}
		errs = append(errs, checkColumnRefs(c.Where, scope, cat)...)
	}
	return errs
}

func checkSelect(c Select, cat Catalog) []*ValidationError {
	var errs []*ValidationError

	scope := []scopeEntry{entryFor(c.Table, c.Alias)}
	if !cat.HasTable(c.Table) {
		errs = append(errs, tableNotFound(c.Table))
	}
	for _, j := range c.Joins {
		scope = append(scope, entryFor(j.Table, j.Alias))
		if !cat.HasTable(j.Table) {
			errs = append(errs, tableNotFound(j.Table))
		}
	}

	if c.Star && len(c.GroupBy) > 0 {
		errs = append(errs, &ValidationError{Kind: ErrStarWithGroupBy, Message: "star projection is not allowed with GROUP BY"})
	}

	if c.Where != nil {
		if hasAggregate(c.Where) {
			errs = append(errs, &ValidationError{Kind: ErrAggregateInWhere, Message: "aggregate functions are not allowed in WHERE"})
		}
		errs = append(errs, checkColumnRefs(c.Where, scope, cat)...)
	}

	if c.Having != nil && len(c.GroupBy) == 0 {
		errs = append(errs, &ValidationError{Kind: ErrHavingWithoutGroupBy, Message: "HAVING requires GROUP BY"})
	}
	if c.Having != nil && !hasAggregate(c.Having) {
		errs = append(errs, &ValidationError{Kind: ErrHavingWithoutAggregate, Message: "HAVING must reference an aggregate"})
	}

	hasAgg, hasPlain := false, false
	for _, item := range c.Items {
		if hasAggregate(item.Expr) {
			hasAgg = true
		} else {
			hasPlain = true
			if len(c.GroupBy) > 0 && !exprInList(item.Expr, c.GroupBy) {
				errs = append(errs, &ValidationError{Kind: ErrNonAggregateNotInGroupBy, Message: "non-aggregate select item must appear in GROUP BY"})
			}
		}
		errs = append(errs, checkColumnRefs(item.Expr, scope, cat)...)
	}
	if hasAgg && hasPlain && len(c.GroupBy) == 0 {
		errs = append(errs, &ValidationError{Kind: ErrMixedAggregateAndRegular, Message: "cannot mix aggregate and non-aggregate select items without GROUP BY"})
	}

	return errs
}

func entryFor(table, alias string) scopeEntry {
	if alias == "" {
		alias = table
	}
	return scopeEntry{alias: alias, table: table}
}

// checkColumnRefs walks expr for ColumnRef nodes and resolves each
// against scope: table-not-found was already reported at the FROM/JOIN
// level, so here we only check column existence and join ambiguity.
func checkColumnRefs(expr Expr, scope []scopeEntry, cat Catalog) []*ValidationError {
	var errs []*ValidationError
	walk(expr, func(e Expr) {
		ref, ok := e.(ColumnRef)
		if !ok {
			return
		}
		if ref.Table != "" {
			for _, s := range scope {
				if s.alias == ref.Table {
					if !contains(cat.Columns(s.table), ref.Column) {
						errs = append(errs, columnNotFound(ref.Table+"."+ref.Column, cat.Columns(s.table)))
					}
					return
				}
			}
			return
		}
		matches := 0
		var allCols []string
		for _, s := range scope {
			cols := cat.Columns(s.table)
			allCols = append(allCols, cols...)
			if contains(cols, ref.Column) {
				matches++
			}
		}
		switch {
		case matches == 0:
			errs = append(errs, columnNotFound(ref.Column, allCols))
		case matches > 1 && len(scope) > 1:
			errs = append(errs, &ValidationError{Kind: ErrAmbiguousColumn, Message: fmt.Sprintf("column reference %q is ambiguous across joined tables", ref.Column)})
		}
	})
	return errs
}

// walk visits expr and every sub-expression. It does not enter subqueries
// (scalar, IN or EXISTS): expressions inside a subquery are not visited,
// so the checks built on walk do not see them.
func walk(expr Expr, visit func(Expr)) {
	if expr == nil {
		return
	}
	visit(expr)
	switch e := expr.(type) {
	case Compare:
		walk(e.Left, visit)
		walk(e.Right, visit)
	case BoolExpr:
		walk(e.Left, visit)
		walk(e.Right, visit)
	case Not:
		walk(e.Operand, visit)
	case In:
		walk(e.Operand, visit)
		for _, item := range e.List {
			walk(item, visit)
		}
	case Aggregate:
		walk(e.Arg, visit)
	}
}

func hasAggregate(expr Expr) bool {
	found := false
	walk(expr, func(e Expr) {
		if _, ok := e.(Aggregate); ok {
			found = true
		}
	})
	return found
}

func exprInList(target Expr, list []Expr) bool {
	for _, e := range list {
		if sameColumnRef(target, e) {
			return true
		}
	}
	return false
}

func sameColumnRef(a, b Expr) bool {
	ac, aok := a.(ColumnRef)
	bc, bok := b.(ColumnRef)
	if aok && bok {
		return ac.Table == bc.Table && ac.Column == bc.Column
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func tableNotFound(name string) *ValidationError {
	return &ValidationError{Kind: ErrTableNotFound, Message: fmt.Sprintf("table %q does not exist", name)}
}

func dupColumn(name string) *ValidationError {
	return &ValidationError{Kind: ErrDuplicateColumn, Message: fmt.Sprintf("duplicate column %q", name)}
}

func columnNotFound(name string, candidates []string) *ValidationError {
	hint := suggest(lastSegment(name), candidates)
	return &ValidationError{Kind: ErrColumnNotFound, Message: fmt.Sprintf("column %q does not exist", name), Hint: hint}
}

func lastSegment(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i+1:]
		}
	}
	return name
}

// suggest returns the closest candidate by Levenshtein distance, within a
// threshold that scales with name length, or "" if nothing is close
// enough to be a plausible typo.
func suggest(name string, candidates []string) string {
	threshold := len(name)/3 + 1
	best, bestDist := "", threshold+1
	for _, c := range candidates {
		d := levenshtein(name, c)
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	if bestDist > threshold {
		return ""
	}
	return best
}

func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			cur[j] = m
		}
		prev, cur = cur, prev
	}
	return prev[lb]
}
