package exec

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/nexusdb/nexusdb/pkg/ast"
	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/expr"
	"github.com/nexusdb/nexusdb/pkg/functions"
	"github.com/nexusdb/nexusdb/pkg/types"
)

// aggParallelThreshold is the bucket count above which per-group
// finalization fans out across goroutines via errgroup (§4.11:
// "parallelism for independent groups"); each bucket's accumulator state
// is already isolated, so finalizing concurrently is race-free.
const aggParallelThreshold = 256

// aggBucket holds one grouping key's accumulator set plus the static
// (non-aggregated, non-group-key) argument values are not needed here:
// every aggregate argument is re-evaluated per incoming row directly
// against that row, so the bucket only needs to remember its key and the
// live accumulator instances.
type aggBucket struct {
	key  []types.Value
	accs map[*ast.Expr]functions.AggregateFunction
}

// executeAggregate implements §4.11: resolve the source, push the WHERE
// predicate, bucket rows by GROUP BY key (expanding ROLLUP/CUBE/GROUPING
// SETS into their constituent grouping sets), accumulate every aggregate
// call per bucket, apply HAVING against the finalized output row, then
// hand off to the shared ORDER BY/LIMIT/OFFSET tail.
func (eng *Engine) executeAggregate(ctx context.Context, qs *QueryState, stmt *ast.SelectStatement) (*RowSet, error) {
	source, err := eng.resolveSource(ctx, qs, stmt.From, stmt.Where, nil)
	if err != nil {
		return nil, err
	}
	if stmt.Where != nil {
		_, residual := partitionPushdown(stmt.Where)
		if residual != nil {
			if err := applyResidualFilter(eng, qs, source, residual); err != nil {
				return nil, err
			}
		}
	}

	aggCalls := collectAggregateCalls(eng, stmt.Projection)
	groupExprs, groupSets := expandGroupBy(stmt.GroupBy)

	groupProgs := make([]*expr.Program, len(groupExprs))
	for i, e := range groupExprs {
		prog, err := expr.Compile(e, compilerFor(eng, qs, source, nil))
		if err != nil {
			return nil, err
		}
		groupProgs[i] = prog
	}
	argProgs := make(map[*ast.Expr][]*expr.Program, len(aggCalls))
	for _, call := range aggCalls {
		progs := make([]*expr.Program, len(call.Args))
		for i, a := range call.Args {
			prog, err := expr.Compile(a, compilerFor(eng, qs, source, nil))
			if err != nil {
				return nil, err
			}
			progs[i] = prog
		}
		argProgs[call] = progs
	}

	vm := expr.NewVM()
	buckets := map[string]*aggBucket{}
	var order []string

	sets := groupSets
	if len(groupExprs) == 0 {
		sets = [][]int{nil}
	}

	newBucket := func(keyVals []types.Value) (*aggBucket, error) {
		b := &aggBucket{key: keyVals, accs: make(map[*ast.Expr]functions.AggregateFunction, len(aggCalls))}
		for _, call := range aggCalls {
			acc, err := eng.Functions.NewAccumulator(call.FuncName)
			if err != nil {
				return nil, err
			}
			b.accs[call] = acc
		}
		return b, nil
	}

	for _, row := range source.Rows {
		gctx := evalContext(eng, qs, row, nil)
		for _, set := range sets {
			keyVals := make([]types.Value, len(groupExprs))
			for i := range groupExprs {
				if len(groupExprs) > 0 && !containsInt(set, i) {
					keyVals[i] = types.Null // grouping-set placeholder; no __grouping_<col>__ flag column marks it
					continue
				}
				v, err := vm.Eval(groupProgs[i], gctx)
				if err != nil {
					return nil, err
				}
				keyVals[i] = v
			}
			bucketKey := groupingSetKey(set, len(groupExprs)) + "|" + rowDistinctKey(keyVals)
			b, ok := buckets[bucketKey]
			if !ok {
				var err error
				b, err = newBucket(keyVals)
				if err != nil {
					return nil, err
				}
				buckets[bucketKey] = b
				order = append(order, bucketKey)
			}
			for _, call := range aggCalls {
				args := make([]types.Value, len(argProgs[call]))
				for i, p := range argProgs[call] {
					v, err := vm.Eval(p, gctx)
					if err != nil {
						return nil, err
					}
					args[i] = v
				}
				if call.FuncName == "count" && len(args) == 0 {
					b.accs[call].Accumulate(types.NewInteger(1), false)
					continue
				}
				var v types.Value
				if len(args) > 0 {
					v = args[0]
				}
				b.accs[call].Accumulate(v, call.Distinct)
			}
		}
	}

	if len(source.Rows) == 0 && len(groupExprs) == 0 {
		// §4.11: a global aggregate over zero rows still returns exactly
		// one row (COUNT(*) = 0, everything else NULL).
		b, err := newBucket(nil)
		if err != nil {
			return nil, err
		}
		buckets[""] = b
		order = []string{""}
	}

	projCols, projPrograms, err := compileAggregateProjection(eng, qs, stmt.Projection, groupExprs)
	if err != nil {
		return nil, err
	}

	rows := make([]types.Row, len(order))
	finalize := func(i int) error {
		row, err := finalizeBucket(buckets[order[i]], projPrograms)
		if err != nil {
			return err
		}
		rows[i] = row
		return nil
	}
	if len(order) > aggParallelThreshold {
		g, _ := errgroup.WithContext(ctx)
		for i := range order {
			i := i
			g.Go(func() error { return finalize(i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range order {
			if err := finalize(i); err != nil {
				return nil, err
			}
		}
	}

	rs := &RowSet{Columns: projCols, Rows: rows}

	if stmt.Having != nil {
		if err := applyAggregateHaving(eng, qs, rs, stmt.Having); err != nil {
			return nil, err
		}
	}
	if stmt.Distinct {
		rs = distinctRows(rs)
	}
	if len(stmt.OrderBy) > 0 {
		if err := orderBy(eng, qs, rs, stmt.OrderBy, stmt.Limit, stmt.Offset); err != nil {
			return nil, err
		}
	}
	applyLimitOffset(rs, stmt.Limit, stmt.Offset)
	return rs, nil
}

// applyAggregateHaving compiles against the already-finalized output
// row's aliases (§4.11: "HAVING compiled against output aliases"), not
// the raw per-row columns, since HAVING filters groups, not rows.
func applyAggregateHaving(eng *Engine, qs *QueryState, rs *RowSet, having *ast.Expr) error {
	return applyResidualFilter(eng, qs, rs, having)
}

func containsInt(set []int, v int) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}

func groupingSetKey(set []int, n int) string {
	flags := make([]byte, n)
	for i := range flags {
		flags[i] = '0'
	}
	for _, i := range set {
		if i < n {
			flags[i] = '1'
		}
	}
	return string(flags)
}

// expandGroupBy flattens ROLLUP/CUBE/GROUPING SETS into the list of
// index-sets to aggregate over (§4.11): ROLLUP(a,b,c) yields
// {a,b,c},{a,b},{a},{} ; CUBE(a,b) yields every subset; GROUPING SETS
// takes the user's explicit list verbatim; plain GROUP BY yields the
// single full set.
func expandGroupBy(gb *ast.GroupBy) ([]*ast.Expr, [][]int) {
	if gb == nil {
		return nil, nil
	}
	n := len(gb.Exprs)
	full := make([]int, n)
	for i := range full {
		full[i] = i
	}
	switch gb.Kind {
	case ast.GroupingRollup:
		var sets [][]int
		for k := n; k >= 0; k-- {
			sets = append(sets, append([]int(nil), full[:k]...))
		}
		return gb.Exprs, sets
	case ast.GroupingCube:
		var sets [][]int
		for mask := 0; mask < (1 << n); mask++ {
			var set []int
			for i := 0; i < n; i++ {
				if mask&(1<<i) != 0 {
					set = append(set, i)
				}
			}
			sets = append(sets, set)
		}
		return gb.Exprs, sets
	case ast.GroupingSets:
		var sets [][]int
		for _, s := range gb.Sets {
			var idxs []int
			for _, e := range s {
				for i, ge := range gb.Exprs {
					if ge == e {
						idxs = append(idxs, i)
					}
				}
			}
			sets = append(sets, idxs)
		}
		return gb.Exprs, sets
	default:
		return gb.Exprs, [][]int{full}
	}
}

func finalizeBucket(b *aggBucket, progs []groupAndAggProgram) (types.Row, error) {
	row := make(types.Row, len(progs))
	for i, p := range progs {
		if p.isGroupKey {
			row[i] = b.key[p.groupIdx]
			continue
		}
		acc, ok := b.accs[p.call]
		if !ok {
			return nil, dberr.New(dberr.KindInternal, "aggregate accumulator missing for projection")
		}
		v, err := acc.Finalize()
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

type groupAndAggProgram struct {
	isGroupKey bool
	groupIdx   int
	call       *ast.Expr
}

// compileAggregateProjection maps each SELECT item to either a GROUP BY
// key slot or an aggregate call slot; a bare column reference that
// matches no GROUP BY key and isn't itself an aggregate is a semantic
// error (§4.11: every projected column in a grouped query must be a
// group key or an aggregate).
func compileAggregateProjection(eng *Engine, qs *QueryState, items []ast.SelectItem, groupExprs []*ast.Expr) ([]ColumnBinding, []groupAndAggProgram, error) {
	cols := make([]ColumnBinding, 0, len(items))
	progs := make([]groupAndAggProgram, 0, len(items))
	for _, it := range items {
		if it.Expr == nil {
			continue
		}
		name := it.Alias
		if gi := matchGroupExpr(it.Expr, groupExprs); gi >= 0 {
			if name == "" {
				name = exprDisplayName(it.Expr)
			}
			cols = append(cols, ColumnBinding{Name: name})
			progs = append(progs, groupAndAggProgram{isGroupKey: true, groupIdx: gi})
			continue
		}
		if it.Expr.Kind == ast.ExprFuncCall {
			if info, ok := eng.Functions.Lookup(it.Expr.FuncName); ok && info.Aggregate != nil {
				if name == "" {
					name = it.Expr.FuncName
				}
				cols = append(cols, ColumnBinding{Name: name})
				progs = append(progs, groupAndAggProgram{call: it.Expr})
				continue
			}
		}
		return nil, nil, dberr.New(dberr.KindSemantic, "projection expression is neither an aggregate nor a GROUP BY key")
	}
	return cols, progs, nil
}

func matchGroupExpr(e *ast.Expr, groupExprs []*ast.Expr) int {
	for i, g := range groupExprs {
		if sameExprShape(e, g) {
			return i
		}
	}
	return -1
}

func sameExprShape(a, b *ast.Expr) bool {
	return canonicalExprText(a) == canonicalExprText(b)
}

// collectAggregateCalls finds every distinct aggregate-function call
// node referenced anywhere in the projection, in first-seen order.
func collectAggregateCalls(eng *Engine, items []ast.SelectItem) []*ast.Expr {
	var out []*ast.Expr
	var walk func(e *ast.Expr)
	walk = func(e *ast.Expr) {
		if e == nil {
			return
		}
		if e.Kind == ast.ExprFuncCall {
			if info, ok := eng.Functions.Lookup(e.FuncName); ok && info.Aggregate != nil {
				out = append(out, e)
				return
			}
		}
		for _, a := range e.Args {
			walk(a)
		}
	}
	for _, it := range items {
		walk(it.Expr)
	}
	return out
}
