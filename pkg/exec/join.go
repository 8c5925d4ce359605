package exec

import (
	"context"

	"github.com/nexusdb/nexusdb/pkg/ast"
	"github.com/nexusdb/nexusdb/pkg/expr"
	"github.com/nexusdb/nexusdb/pkg/types"
)

// resolveJoin implements §4.10's join planning: resolve both sides, then
// pick a hash join when ON is a single equi-join comparison, falling
// back to a general nested-loop join (also used for CROSS JOIN and any
// ON shape a hash join can't exploit).
func (eng *Engine) resolveJoin(ctx context.Context, qs *QueryState, j *ast.JoinSource) (*RowSet, error) {
	left, err := eng.resolveSource(ctx, qs, j.Left, nil, nil)
	if err != nil {
		return nil, err
	}
	right, err := eng.resolveSource(ctx, qs, j.Right, nil, nil)
	if err != nil {
		return nil, err
	}

	if j.Kind == ast.JoinCross || j.On == nil {
		return nestedLoopJoin(eng, qs, left, right, nil, j.Kind)
	}
	// The hash join's build-side choice (whichever side is smaller) is
	// only safe for INNER, where which side drives unmatched-row padding
	// doesn't matter; LEFT/RIGHT/FULL go through the nested-loop path so
	// outer-row preservation is never at the mercy of row-count skew.
	if j.Kind == ast.JoinInner {
		if leftIdx, rightIdx, ok := equiJoinColumns(j.On, left, right); ok {
			return hashJoin(left, right, leftIdx, rightIdx, j.Kind), nil
		}
	}
	return nestedLoopJoin(eng, qs, left, right, j.On, j.Kind)
}

// equiJoinColumns recognizes a single top-level `left.col = right.col`
// (in either operand order) ON clause, the shape a hash join exploits.
// Anything more general (OR, multiple ANDed equalities, non-equality)
// takes the nested-loop path instead.
func equiJoinColumns(on *ast.Expr, left, right *RowSet) (int, int, bool) {
	if on.Kind != ast.ExprBinary || on.Op != "=" {
		return 0, 0, false
	}
	a, b := on.Args[0], on.Args[1]
	if a.Kind != ast.ExprColumn || b.Kind != ast.ExprColumn {
		return 0, 0, false
	}
	if li := left.columnIndex(a.Column.Qualifier, a.Column.Name); li >= 0 {
		if ri := right.columnIndex(b.Column.Qualifier, b.Column.Name); ri >= 0 {
			return li, ri, true
		}
	}
	if li := left.columnIndex(b.Column.Qualifier, b.Column.Name); li >= 0 {
		if ri := right.columnIndex(a.Column.Qualifier, a.Column.Name); ri >= 0 {
			return li, ri, true
		}
	}
	return 0, 0, false
}

func joinedColumns(left, right *RowSet) []ColumnBinding {
	cols := make([]ColumnBinding, 0, len(left.Columns)+len(right.Columns))
	cols = append(cols, left.Columns...)
	cols = append(cols, right.Columns...)
	return cols
}

func concatRows(l, r types.Row) types.Row {
	out := make(types.Row, 0, len(l)+len(r))
	out = append(out, l...)
	out = append(out, r...)
	return out
}

func nullRow(n int) types.Row {
	row := make(types.Row, n)
	for i := range row {
		row[i] = types.Null
	}
	return row
}

// hashJoin builds a hash table over the smaller side's equi-join key and
// probes it with the other, implementing §4.5/§4.10's hash-join strategy.
// NULL keys never match (SQL equi-join semantics: NULL = NULL is unknown).
func hashJoin(left, right *RowSet, leftIdx, rightIdx int, kind ast.JoinKind) *RowSet {
	buildLeft := len(left.Rows) <= len(right.Rows)
	build, probe := left, right
	buildKeyIdx, probeKeyIdx := leftIdx, rightIdx
	if !buildLeft {
		build, probe = right, left
		buildKeyIdx, probeKeyIdx = rightIdx, leftIdx
	}

	buckets := make(map[uint64][]types.Row, len(build.Rows))
	for _, row := range build.Rows {
		key := row[buildKeyIdx]
		if key.IsNull() {
			continue
		}
		h := key.HashKey()
		buckets[h] = append(buckets[h], row)
	}

	rs := &RowSet{Columns: joinedColumns(left, right)}
	for _, prow := range probe.Rows {
		key := prow[probeKeyIdx]
		var matches []types.Row
		if !key.IsNull() {
			for _, brow := range buckets[key.HashKey()] {
				if types.Equal(brow[buildKeyIdx], key) {
					matches = append(matches, brow)
				}
			}
		}
		switch {
		case buildLeft:
			for _, brow := range matches {
				rs.Rows = append(rs.Rows, concatRows(brow, prow))
			}
			if len(matches) == 0 && kind == ast.JoinRight {
				rs.Rows = append(rs.Rows, concatRows(nullRow(len(left.Columns)), prow))
			}
		default:
			for _, brow := range matches {
				rs.Rows = append(rs.Rows, concatRows(prow, brow))
			}
			if len(matches) == 0 && kind == ast.JoinLeft {
				rs.Rows = append(rs.Rows, concatRows(prow, nullRow(len(right.Columns))))
			}
		}
	}
	return rs
}

// nestedLoopJoin handles CROSS JOIN, non-equi ON, and any ON shape the
// hash-join fast path doesn't recognize: every left row against every
// right row, keeping pairs where on evaluates truthy (or unconditionally
// for a CROSS JOIN), padding with NULLs for unmatched outer-join rows.
func nestedLoopJoin(eng *Engine, qs *QueryState, left, right *RowSet, on *ast.Expr, kind ast.JoinKind) (*RowSet, error) {
	cols := joinedColumns(left, right)
	rs := &RowSet{Columns: cols}

	matchPredicate := func(types.Row, types.Row) (bool, error) { return true, nil }
	if on != nil {
		combined := &RowSet{Columns: cols}
		prog, err := compileJoinPredicate(eng, qs, combined, on)
		if err != nil {
			return nil, err
		}
		matchPredicate = prog
	}

	rightMatched := make([]bool, len(right.Rows))
	for _, lrow := range left.Rows {
		leftMatched := false
		for ri, rrow := range right.Rows {
			ok, err := matchPredicate(lrow, rrow)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			leftMatched = true
			rightMatched[ri] = true
			rs.Rows = append(rs.Rows, concatRows(lrow, rrow))
		}
		if !leftMatched && (kind == ast.JoinLeft || kind == ast.JoinFull) {
			rs.Rows = append(rs.Rows, concatRows(lrow, nullRow(len(right.Columns))))
		}
	}
	if kind == ast.JoinFull || kind == ast.JoinRight {
		for ri, rrow := range right.Rows {
			if !rightMatched[ri] {
				rs.Rows = append(rs.Rows, concatRows(nullRow(len(left.Columns)), rrow))
			}
		}
	}
	return rs, nil
}

func compileJoinPredicate(eng *Engine, qs *QueryState, combined *RowSet, on *ast.Expr) (func(l, r types.Row) (bool, error), error) {
	compiler := compilerFor(eng, qs, combined, nil)
	prog, err := expr.Compile(on, compiler)
	if err != nil {
		return nil, err
	}
	vm := expr.NewVM()
	return func(l, r types.Row) (bool, error) {
		v, err := vm.Eval(prog, evalContext(eng, qs, concatRows(l, r), nil))
		if err != nil {
			return false, err
		}
		return !v.IsNull() && v.Bool(), nil
	}, nil
}
