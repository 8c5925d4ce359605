package exec

import (
	"context"
	"strings"

	"github.com/nexusdb/nexusdb/pkg/ast"
	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/expr"
	"github.com/nexusdb/nexusdb/pkg/types"
)

// isCorrelated implements §4.13's classification: the parser contract
// already distinguishes a correlated reference as ExprOuterColumn (vs. a
// plain ExprColumn resolved within the subquery's own FROM), so
// classification is just "does this subquery's tree contain one".
func isCorrelated(stmt *ast.SelectStatement) bool {
	if stmt.Where != nil && exprReferencesOuter(stmt.Where) {
		return true
	}
	for _, it := range stmt.Projection {
		if it.Expr != nil && exprReferencesOuter(it.Expr) {
			return true
		}
	}
	if stmt.Having != nil && exprReferencesOuter(stmt.Having) {
		return true
	}
	return false
}

func exprReferencesOuter(e *ast.Expr) bool {
	if e == nil {
		return false
	}
	if e.Kind == ast.ExprOuterColumn {
		return true
	}
	for _, a := range e.Args {
		if exprReferencesOuter(a) {
			return true
		}
	}
	if exprReferencesOuter(e.Low) || exprReferencesOuter(e.High) ||
		exprReferencesOuter(e.CaseOperand) || exprReferencesOuter(e.ElseExpr) {
		return true
	}
	for _, it := range e.InList {
		if exprReferencesOuter(it) {
			return true
		}
	}
	for _, wt := range e.WhenThens {
		if exprReferencesOuter(wt.When) || exprReferencesOuter(wt.Then) {
			return true
		}
	}
	return false
}

// sqlFormKey is a cheap canonical cache key for a non-correlated
// subquery (§4.13: "cache by SQL-form key"); the executor does not own a
// SQL pretty-printer, so the key is the statement's textual
// reconstruction via canonicalExprText/canonicalConjuncts extended to
// cover projection and FROM, good enough to distinguish distinct
// subquery bodies within one outer query's lifetime.
func sqlFormKey(stmt *ast.SelectStatement) string {
	var sb strings.Builder
	for i, it := range stmt.Projection {
		if i > 0 {
			sb.WriteByte(',')
		}
		if it.Wildcard {
			sb.WriteByte('*')
		} else {
			sb.WriteString(canonicalExprText(it.Expr))
		}
	}
	sb.WriteString("|from:")
	if stmt.From != nil && stmt.From.Kind == ast.TableExprTable {
		sb.WriteString(stmt.From.Table.Name)
	}
	sb.WriteString("|where:")
	sb.WriteString(canonicalExprText(stmt.Where))
	return sb.String()
}

// compileSubquery implements the CompileSubquery callback pkg/expr's
// Compiler calls for ExprSubquery nodes (scalar/exists/in/any/all),
// returning an expr.Subquery whose Run executes the nested SELECT
// against the current row context, per §4.13.
func compileSubquery(eng *Engine, qs *QueryState, stmt *ast.SelectStatement, kind string, outerRS *RowSet) (*expr.Subquery, error) {
	correlated := isCorrelated(stmt)
	cacheKey := sqlFormKey(stmt) + "|" + kind
	// in/any/all results depend on the probe value, so only scalar and
	// exists results are reusable across calls.
	cacheable := !correlated && (kind == "scalar" || kind == "exists")
	var probeRows *RowSet // rows of a non-correlated in/any/all, reduced per probe

	run := func(ctx *expr.Context) (types.Value, error) {
		bgCtx := context.Background()

		if cacheable {
			if v, ok := qs.subqueryCache[cacheKey]; ok {
				return v, nil
			}
		}

		outerRow := ctx.Row
		if ctx.OuterRow != nil && correlated {
			// A subquery nested two levels deep correlates to its
			// immediate parent, which is itself a correlated subquery
			// already evaluating one outer row at a time; ctx.Row at
			// that level IS the immediate parent's current row.
			outerRow = ctx.Row
		}

		rs := probeRows
		if rs == nil {
			fresh, err := eng.executeSelect(bgCtx, qs, stmt, outerRS, outerRow)
			if err != nil {
				return types.Null, err
			}
			rs = fresh
			if !correlated && !cacheable {
				probeRows = rs
			}
		}

		result, err := reduceSubqueryResult(rs, kind, ctx)
		if err != nil {
			return types.Null, err
		}
		if cacheable {
			qs.subqueryCache[cacheKey] = result
		}
		return result, nil
	}

	return &expr.Subquery{Run: run}, nil
}

// reduceSubqueryResult computes the kind-specific value from a subquery's
// raw RowSet: a scalar literal, an existence flag, or (for in/any/all) the
// final boolean for the current probe, ctx.InProbe or ctx.AnyAllProbe.
// The in/any/all booleans are computed afresh on every call, since they
// depend on the probe; compileSubquery caches scalar/exists results and,
// for a non-correlated in/any/all, keeps only the subquery's rows.
func reduceSubqueryResult(rs *RowSet, kind string, ctx *expr.Context) (types.Value, error) {
	switch kind {
	case "scalar":
		if len(rs.Rows) == 0 {
			return types.Null, nil
		}
		if len(rs.Rows) > 1 || len(rs.Columns) != 1 {
			return types.Null, dberr.New(dberr.KindSemantic, "scalar subquery returned more than one row or column")
		}
		return rs.Rows[0][0], nil
	case "exists":
		return types.NewBoolean(len(rs.Rows) > 0), nil
	case "in":
		hs := expr.NewHashSet(firstColumnValues(rs))
		return types.NewBoolean(hs.Contains(ctx.InProbe)), nil
	case "any", "all":
		return reduceAnyAll(rs, ctx.AnyAllProbe, ctx.AnyAllOp, kind == "all")
	default:
		return types.Null, dberr.New(dberr.KindInternal, "unknown subquery kind %q", kind)
	}
}

func firstColumnValues(rs *RowSet) []types.Value {
	out := make([]types.Value, len(rs.Rows))
	for i, row := range rs.Rows {
		out[i] = row[0]
	}
	return out
}

// reduceAnyAll implements §4.13's ALL/ANY rewrites against the probe
// operand captured by the VM (ctx.AnyAllProbe):
//
//	x > ALL(s)  -> x > max(s)     x > ANY(s)  -> x > min(s)
//	x >= ALL(s) -> x >= max(s)    x >= ANY(s) -> x >= min(s)
//	x < ALL(s)  -> x < min(s)     x < ANY(s)  -> x < max(s)
//	x <= ALL(s) -> x <= min(s)    x <= ANY(s) -> x <= max(s)
//	x = ANY(s)  -> x IN s         x <> ALL(s) -> x NOT IN s
//	x = ALL(s)  -> every element of s equals x (empty s is vacuously true)
//	x <> ANY(s) -> some element of s differs from x (empty s is false)
//
// An empty result set makes every ALL comparison vacuously true and
// every ANY comparison false, independent of probe (standard SQL
// quantified-comparison semantics).
func reduceAnyAll(rs *RowSet, probe types.Value, op expr.CompareOp, all bool) (types.Value, error) {
	values := firstColumnValues(rs)
	if len(values) == 0 {
		return types.NewBoolean(all), nil
	}
	if probe.IsNull() {
		return types.Null, nil
	}

	switch op {
	case expr.CompareEq:
		if all {
			for _, v := range values {
				if !types.Equal(v, probe) {
					return types.NewBoolean(false), nil
				}
			}
			return types.NewBoolean(true), nil
		}
		return types.NewBoolean(expr.NewHashSet(values).Contains(probe)), nil
	case expr.CompareNe:
		if all {
			return types.NewBoolean(!expr.NewHashSet(values).Contains(probe)), nil
		}
		for _, v := range values {
			if !types.Equal(v, probe) {
				return types.NewBoolean(true), nil
			}
		}
		return types.NewBoolean(false), nil
	}

	reduceToMax := (all && (op == expr.CompareGt || op == expr.CompareGe)) ||
		(!all && (op == expr.CompareLt || op == expr.CompareLe))
	reduced := values[0]
	for _, v := range values[1:] {
		if reduceToMax == (types.Compare(v, reduced) > 0) {
			reduced = v
		}
	}
	c := types.Compare(probe, reduced)
	switch op {
	case expr.CompareGt:
		return types.NewBoolean(c > 0), nil
	case expr.CompareGe:
		return types.NewBoolean(c >= 0), nil
	case expr.CompareLt:
		return types.NewBoolean(c < 0), nil
	case expr.CompareLe:
		return types.NewBoolean(c <= 0), nil
	}
	return types.Null, dberr.New(dberr.KindInternal, "unhandled ANY/ALL comparator %q", op)
}
