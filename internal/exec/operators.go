package exec

import (
	"io"
	"sort"

	"github.com/reldb/reldb/internal/sql"
	"github.com/reldb/reldb/internal/storage"
	"github.com/reldb/reldb/internal/txn"
	"github.com/reldb/reldb/internal/value"
)

// Iterator is the volcano-style pull interface every physical operator
// implements: Next returns io.EOF once exhausted.
type Iterator interface {
	Next() (*value.Row, error)
	Close()
}

func qualifyRow(alias string, row *value.Row) *value.Row {
	n := row.Len()
	names := make([]string, n)
	values := make([]value.Value, n)
	for i := 0; i < n; i++ {
		name, v := row.At(i)
		names[i] = alias + "." + name
		values[i] = v
	}
	return value.NewRow(names, values)
}

func combineRows(a, b *value.Row) *value.Row {
	names := make([]string, 0, a.Len()+b.Len())
	values := make([]value.Value, 0, a.Len()+b.Len())
	for i := 0; i < a.Len(); i++ {
		n, v := a.At(i)
		names = append(names, n)
		values = append(values, v)
	}
	for i := 0; i < b.Len(); i++ {
		n, v := b.At(i)
		names = append(names, n)
		values = append(values, v)
	}
	return value.NewRow(names, values)
}

func nullRow(names []string) *value.Row {
	values := make([]value.Value, len(names))
	for i := range values {
		values[i] = value.Null()
	}
	return value.NewRow(append([]string(nil), names...), values)
}

// scanIterator walks every chain head in a table, returning MVCC-visible
// rows qualified under the table's FROM/JOIN alias.
type scanIterator struct {
	table  *storage.Table
	alias  string
	snap   *txn.Snapshot
	mgr    *txn.Manager
	rowIDs []uint64
	idx    int
}

func newScanIterator(t *storage.Table, alias string, snap *txn.Snapshot, mgr *txn.Manager) *scanIterator {
	rowIDs := t.RowIDs()
	sort.Slice(rowIDs, func(i, j int) bool { return rowIDs[i] < rowIDs[j] })
	return &scanIterator{table: t, alias: alias, snap: snap, mgr: mgr, rowIDs: rowIDs}
}

func (s *scanIterator) Next() (*value.Row, error) {
	for s.idx < len(s.rowIDs) {
		rowID := s.rowIDs[s.idx]
		s.idx++
		row, ok := s.table.Get(rowID, s.snap, s.mgr)
		if !ok {
			continue
		}
		return qualifyRow(s.alias, row), nil
	}
	return nil, io.EOF
}

func (s *scanIterator) Close() {}

// indexScanIterator walks a pre-computed set of candidate row ids (from a
// B-tree or HNSW lookup) instead of the whole table, re-checking MVCC
// visibility on every candidate since indexes are accelerators only.
type indexScanIterator struct {
	table   *storage.Table
	alias   string
	snap    *txn.Snapshot
	mgr     *txn.Manager
	rowIDs  []uint64
	idx     int
}

func newIndexScanIterator(t *storage.Table, alias string, rowIDs []uint64, snap *txn.Snapshot, mgr *txn.Manager) *indexScanIterator {
	return &indexScanIterator{table: t, alias: alias, rowIDs: rowIDs, snap: snap, mgr: mgr}
}

func (s *indexScanIterator) Next() (*value.Row, error) {
	for s.idx < len(s.rowIDs) {
		rowID := s.rowIDs[s.idx]
		s.idx++
		row, ok := s.table.Get(rowID, s.snap, s.mgr)
		if !ok {
			continue
		}
		return qualifyRow(s.alias, row), nil
	}
	return nil, io.EOF
}

func (s *indexScanIterator) Close() {}

// filterIterator drops every row whose predicate does not evaluate true.
type filterIterator struct {
	child     Iterator
	predicate sql.Expr
	ctx       *evalCtx
}

func (f *filterIterator) Next() (*value.Row, error) {
	for {
		row, err := f.child.Next()
		if err != nil {
			return nil, err
		}
		v, err := eval(f.predicate, row, f.ctx)
		if err != nil {
			return nil, err
		}
		if truthy(v) {
			return row, nil
		}
	}
}

func (f *filterIterator) Close() { f.child.Close() }

// nestedLoopJoinIterator evaluates an arbitrary join condition against
// every (left, right) pair; used whenever the join predicate is not a
// simple equi-join hashJoinIterator can exploit. Supports INNER and LEFT;
// RIGHT JOIN is handled separately in select.go's rightJoinRows, since it
// preserves the just-joined table rather than the accumulated left side.
type nestedLoopJoinIterator struct {
	left          Iterator
	rightRows     []*value.Row
	rightColNames []string
	on            sql.Expr
	leftOuter     bool
	ctx           *evalCtx

	curLeft    *value.Row
	rightIdx   int
	matchedAny bool
}

func (j *nestedLoopJoinIterator) Next() (*value.Row, error) {
	for {
		if j.curLeft == nil {
			row, err := j.left.Next()
			if err != nil {
				return nil, err
			}
			j.curLeft = row
			j.rightIdx = 0
			j.matchedAny = false
		}

		matched := false
		for j.rightIdx < len(j.rightRows) {
			rr := j.rightRows[j.rightIdx]
			j.rightIdx++
			combined := combineRows(j.curLeft, rr)
			v, err := eval(j.on, combined, j.ctx)
			if err != nil {
				return nil, err
			}
			if truthy(v) {
				j.matchedAny = true
				matched = true
				return combined, nil
			}
		}
		if matched {
			continue
		}
		if !j.matchedAny && j.leftOuter {
			padded := combineRows(j.curLeft, nullRow(j.rightColNames))
			j.curLeft = nil
			return padded, nil
		}
		j.curLeft = nil
	}
}

func (j *nestedLoopJoinIterator) Close() { j.left.Close() }

// bucketEntry is one build-side row kept in a hashJoinIterator bucket
// alongside the key value it was inserted under, so a probe can verify
// genuine equality rather than trusting the hash alone.
type bucketEntry struct {
	key value.Value
	row *value.Row
}

// hashJoinIterator handles a single-column equi-join: the right side is
// built into a hash table once, then probed per left row.
type hashJoinIterator struct {
	left          Iterator
	leftKey       sql.Expr
	rightKey      sql.Expr
	buildRows     map[uint64][]bucketEntry
	rightColNames []string
	leftOuter     bool
	ctx           *evalCtx

	curLeft  *value.Row
	matches  []*value.Row
	matchIdx int
}

func (j *hashJoinIterator) Next() (*value.Row, error) {
	for {
		if j.curLeft == nil {
			row, err := j.left.Next()
			if err != nil {
				return nil, err
			}
			j.curLeft = row
			j.matchIdx = 0
			j.matches = nil

			keyVal, err := eval(j.leftKey, row, j.ctx)
			if err == nil && !keyVal.IsNull() {
				if h, ok := value.HashKey(keyVal); ok {
					// A hash match only narrows the bucket; two distinct
					// values can collide under value.HashKey, so every
					// candidate is re-checked with value.Equal before it's
					// accepted as a genuine match.
					for _, candidate := range j.buildRows[h] {
						if value.Equal(candidate.key, keyVal) {
							j.matches = append(j.matches, candidate.row)
						}
					}
				}
			}
		}

		if j.matchIdx < len(j.matches) {
			rr := j.matches[j.matchIdx]
			j.matchIdx++
			return combineRows(j.curLeft, rr), nil
		}

		if len(j.matches) == 0 && j.leftOuter {
			padded := combineRows(j.curLeft, nullRow(j.rightColNames))
			j.curLeft = nil
			return padded, nil
		}
		j.curLeft = nil
	}
}

func (j *hashJoinIterator) Close() { j.left.Close() }

// buildHashTable groups rightRows by rightKey's hash, for hashJoinIterator.
// Each bucket entry keeps the key value it was inserted under so probes
// can tell a genuine match from a hash collision.
func buildHashTable(rightRows []*value.Row, rightKey sql.Expr, ctx *evalCtx) map[uint64][]bucketEntry {
	table := make(map[uint64][]bucketEntry)
	for _, row := range rightRows {
		v, err := eval(rightKey, row, ctx)
		if err != nil || v.IsNull() {
			continue
		}
		h, ok := value.HashKey(v)
		if !ok {
			continue
		}
		table[h] = append(table[h], bucketEntry{key: v, row: row})
	}
	return table
}

// sliceIterator replays a materialized slice of rows.
type sliceIterator struct {
	rows []*value.Row
	idx  int
}

func (s *sliceIterator) Next() (*value.Row, error) {
	if s.idx >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.idx]
	s.idx++
	return row, nil
}

func (s *sliceIterator) Close() {}

func drain(it Iterator) ([]*value.Row, error) {
	var rows []*value.Row
	for {
		row, err := it.Next()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

// group is one GROUP BY bucket: the evaluated group-key values (for
// re-projecting group columns) and every raw row that hashed into it, in
// first-seen order so aggregate functions see a deterministic sequence.
type group struct {
	key    []value.Value
	sample *value.Row
	rows   []*value.Row
}

// groupRows partitions rows into buckets keyed by the evaluated GroupBy
// expressions, using the canonical value codec to build a comparable key
// even though value.Value itself isn't comparable with ==.
func groupRows(rows []*value.Row, groupBy []sql.Expr, ctx *evalCtx) ([]*group, error) {
	if len(groupBy) == 0 {
		if len(rows) == 0 {
			return nil, nil
		}
		return []*group{{rows: rows, sample: rows[0]}}, nil
	}

	index := make(map[string]*group)
	var order []string
	for _, row := range rows {
		keyBuf := make([]byte, 0, 32)
		keyVals := make([]value.Value, len(groupBy))
		for i, expr := range groupBy {
			v, err := eval(expr, row, ctx)
			if err != nil {
				return nil, err
			}
			keyVals[i] = v
			keyBuf = value.Append(keyBuf, v)
		}
		k := string(keyBuf)
		g, ok := index[k]
		if !ok {
			g = &group{key: keyVals, sample: row}
			index[k] = g
			order = append(order, k)
		}
		g.rows = append(g.rows, row)
	}
	groups := make([]*group, len(order))
	for i, k := range order {
		groups[i] = index[k]
	}
	return groups, nil
}

// computeAggregate evaluates one aggregate function over a group's rows.
func computeAggregate(agg sql.Aggregate, rows []*value.Row, ctx *evalCtx) (value.Value, error) {
	switch agg.Func {
	case sql.AggCount:
		return value.Int(int64(len(rows))), nil
	case sql.AggCountCol:
		n := int64(0)
		for _, row := range rows {
			v, err := eval(agg.Arg, row, ctx)
			if err != nil {
				return value.Value{}, err
			}
			if !v.IsNull() {
				n++
			}
		}
		return value.Int(n), nil
	case sql.AggSum, sql.AggAvg:
		sum := 0.0
		count := 0
		allInt := true
		for _, row := range rows {
			v, err := eval(agg.Arg, row, ctx)
			if err != nil {
				return value.Value{}, err
			}
			if v.IsNull() {
				continue
			}
			if v.Kind != value.KindInt {
				allInt = false
			}
			sum += asNumber(v)
			count++
		}
		if agg.Func == sql.AggAvg {
			if count == 0 {
				return value.Null(), nil
			}
			return value.Float(sum / float64(count)), nil
		}
		if count == 0 {
			return value.Int(0), nil
		}
		if allInt {
			return value.Int(int64(sum)), nil
		}
		return value.Float(sum), nil
	case sql.AggMin, sql.AggMax:
		var best value.Value
		have := false
		for _, row := range rows {
			v, err := eval(agg.Arg, row, ctx)
			if err != nil {
				return value.Value{}, err
			}
			if v.IsNull() {
				continue
			}
			if !have {
				best, have = v, true
				continue
			}
			cmp := value.Compare(v, best)
			if (agg.Func == sql.AggMin && cmp < 0) || (agg.Func == sql.AggMax && cmp > 0) {
				best = v
			}
		}
		if !have {
			return value.Null(), nil
		}
		return best, nil
	default:
		return value.Value{}, newError(ErrIO, "unsupported aggregate function")
	}
}

func asNumber(v value.Value) float64 {
	if v.Kind == value.KindInt {
		return float64(v.Int)
	}
	return v.Float
}

// sortRows orders rows in place per a multi-key OrderItem list using
// value.Compare: within an ascending key NULL sorts first and NaN last; a
// descending key reverses both.
func sortRows(rows []*value.Row, orderBy []sql.OrderItem, ctx *evalCtx) error {
	var sortErr error
	sort.SliceStable(rows, func(i, j int) bool {
		for _, item := range orderBy {
			vi, err := eval(item.Expr, rows[i], ctx)
			if err != nil {
				sortErr = err
				return false
			}
			vj, err := eval(item.Expr, rows[j], ctx)
			if err != nil {
				sortErr = err
				return false
			}
			cmp := value.Compare(vi, vj)
			if cmp == 0 {
				continue
			}
			if item.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return sortErr
}

// dedupe removes rows whose full projected value sequence has already
// been seen, used for SELECT DISTINCT.
func dedupe(rows []*value.Row) []*value.Row {
	seen := make(map[string]struct{}, len(rows))
	out := make([]*value.Row, 0, len(rows))
	for _, row := range rows {
		buf := make([]byte, 0, 32)
		for i := 0; i < row.Len(); i++ {
			_, v := row.At(i)
			buf = value.Append(buf, v)
		}
		k := string(buf)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, row)
	}
	return out
}
