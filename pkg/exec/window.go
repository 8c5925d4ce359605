package exec

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/nexusdb/nexusdb/pkg/ast"
	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/expr"
	"github.com/nexusdb/nexusdb/pkg/types"
)

// windowParallelThreshold is the partition count above which partitions
// are computed concurrently (§4.12: "partition-level parallelism"); each
// partition's working set is independent, so there is no shared state to
// race on besides the output row slice, which each goroutine only
// touches at its own reserved indices.
const windowParallelThreshold = 64

// executeWindowed implements §4.12: materialize the source once,
// partition it per window spec, precompute each partition's ORDER BY
// keys a single time (not per window-function call), then evaluate every
// window function call against its own spec's partitioning, handing the
// non-window projection items through unchanged.
func (eng *Engine) executeWindowed(ctx context.Context, qs *QueryState, stmt *ast.SelectStatement) (*RowSet, error) {
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

	windowCalls := collectWindowCalls(stmt.Projection)
	results := make(map[*ast.Expr][]types.Value, len(windowCalls))

	for _, call := range windowCalls {
		spec := resolveWindowSpec(stmt, call)
		vals, err := eng.evaluateWindowCall(ctx, qs, source, call, spec)
		if err != nil {
			return nil, err
		}
		results[call] = vals
	}

	cols := make([]ColumnBinding, len(stmt.Projection))
	plan := make([]func(rowIdx int, row types.Row) (types.Value, error), len(stmt.Projection))
	vm := expr.NewVM()
	for i, it := range stmt.Projection {
		name := it.Alias
		if isWindowCallExpr(it.Expr) {
			vals := results[it.Expr]
			if name == "" {
				name = it.Expr.FuncName
			}
			cols[i] = ColumnBinding{Name: name}
			plan[i] = func(rowIdx int, _ types.Row) (types.Value, error) { return vals[rowIdx], nil }
			continue
		}
		prog, err := expr.Compile(it.Expr, compilerFor(eng, qs, source, nil))
		if err != nil {
			return nil, err
		}
		if name == "" {
			name = exprDisplayName(it.Expr)
		}
		cols[i] = ColumnBinding{Name: name}
		plan[i] = func(_ int, row types.Row) (types.Value, error) {
			return vm.Eval(prog, evalContext(eng, qs, row, nil))
		}
	}

	rows := make([]types.Row, len(source.Rows))
	for ri, row := range source.Rows {
		out := make(types.Row, len(plan))
		for ci, p := range plan {
			v, err := p(ri, row)
			if err != nil {
				return nil, err
			}
			out[ci] = v
		}
		rows[ri] = out
	}

	rs := &RowSet{Columns: cols, Rows: rows}
	if len(stmt.OrderBy) > 0 {
		if err := orderBy(eng, qs, rs, stmt.OrderBy, stmt.Limit, stmt.Offset); err != nil {
			return nil, err
		}
	}
	applyLimitOffset(rs, stmt.Limit, stmt.Offset)
	return rs, nil
}

func resolveWindowSpec(stmt *ast.SelectStatement, call *ast.Expr) ast.WindowSpec {
	if call.Over != nil {
		return *call.Over
	}
	return stmt.WindowDefs[call.OverName]
}

// evaluateWindowCall partitions source by spec.PartitionBy, sorts each
// partition by spec.OrderBy (precomputed once, not re-sorted per row),
// then computes the function for every row of every partition, one
// result per original source row index.
func (eng *Engine) evaluateWindowCall(ctx context.Context, qs *QueryState, source *RowSet, call *ast.Expr, spec ast.WindowSpec) ([]types.Value, error) {
	info, ok := eng.Functions.Lookup(call.FuncName)
	if !ok || info.Window == nil {
		return nil, dberr.New(dberr.KindSemantic, "unknown window function %q", call.FuncName)
	}

	partProgs := make([]*expr.Program, len(spec.PartitionBy))
	for i, e := range spec.PartitionBy {
		prog, err := expr.Compile(e, compilerFor(eng, qs, source, nil))
		if err != nil {
			return nil, err
		}
		partProgs[i] = prog
	}
	orderProgs := make([]*expr.Program, len(spec.OrderBy))
	for i, it := range spec.OrderBy {
		prog, err := expr.Compile(it.Expr, compilerFor(eng, qs, source, nil))
		if err != nil {
			return nil, err
		}
		orderProgs[i] = prog
	}
	argProgs := make([]*expr.Program, len(call.Args))
	for i, a := range call.Args {
		prog, err := expr.Compile(a, compilerFor(eng, qs, source, nil))
		if err != nil {
			return nil, err
		}
		argProgs[i] = prog
	}

	// The rank family reads each row's ORDER BY key from argument 0: the
	// key itself for one ORDER BY item, else its composite text encoding.
	rankKeyed := false
	switch info.Name {
	case "rank", "dense_rank", "percent_rank", "cume_dist":
		rankKeyed = true
	}

	vm := expr.NewVM()
	type partRow struct {
		origIdx   int
		orderKeys []types.Value
		args      []types.Value
	}
	partitions := map[string][]partRow{}
	var partKeys []string

	for ri, row := range source.Rows {
		gctx := evalContext(eng, qs, row, nil)
		pkVals := make([]types.Value, len(partProgs))
		for i, p := range partProgs {
			v, err := vm.Eval(p, gctx)
			if err != nil {
				return nil, err
			}
			pkVals[i] = v
		}
		key := rowDistinctKey(pkVals)
		if _, ok := partitions[key]; !ok {
			partKeys = append(partKeys, key)
		}
		okeys := make([]types.Value, len(orderProgs))
		for i, p := range orderProgs {
			v, err := vm.Eval(p, gctx)
			if err != nil {
				return nil, err
			}
			okeys[i] = v
		}
		args := make([]types.Value, len(argProgs))
		for i, p := range argProgs {
			v, err := vm.Eval(p, gctx)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		partitions[key] = append(partitions[key], partRow{origIdx: ri, orderKeys: okeys, args: args})
	}

	out := make([]types.Value, len(source.Rows))
	computeOne := func(key string) error {
		rows := partitions[key]
		sort.SliceStable(rows, func(a, b int) bool {
			for i := range orderProgs {
				c := types.Compare(rows[a].orderKeys[i], rows[b].orderKeys[i])
				if c != 0 {
					if spec.OrderBy[i].Descending {
						return c > 0
					}
					return c < 0
				}
			}
			return false
		})
		fn := info.Window()
		argMatrix := make([][]types.Value, len(rows))
		for i, r := range rows {
			argMatrix[i] = r.args
			if rankKeyed {
				key := types.NewText(rowDistinctKey(r.orderKeys))
				if len(r.orderKeys) == 1 {
					key = r.orderKeys[0]
				}
				argMatrix[i] = append([]types.Value{key}, r.args...)
			}
		}
		for pos, r := range rows {
			v, err := fn.Compute(argMatrix, pos)
			if err != nil {
				return err
			}
			out[r.origIdx] = v
		}
		return nil
	}

	if len(partKeys) > windowParallelThreshold {
		g, _ := errgroup.WithContext(ctx)
		for _, k := range partKeys {
			k := k
			g.Go(func() error { return computeOne(k) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for _, k := range partKeys {
			if err := computeOne(k); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func collectWindowCalls(items []ast.SelectItem) []*ast.Expr {
	var out []*ast.Expr
	var walk func(e *ast.Expr)
	walk = func(e *ast.Expr) {
		if e == nil {
			return
		}
		if isWindowCallExpr(e) {
			out = append(out, e)
			return
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

func isWindowCallExpr(e *ast.Expr) bool {
	return e != nil && e.Kind == ast.ExprFuncCall && (e.Over != nil || e.OverName != "")
}
