package exec

import (
	"context"
	"time"

	"github.com/nexusdb/nexusdb/pkg/ast"
	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/types"
)

// defaultStatementTimeout backs §4.10's "install a timeout guard" at the
// outermost call; pkg/engine can override per-statement via context.
const defaultStatementTimeout = 30 * time.Second

// Execute is the top-level execute_select(stmt, ctx) entry point of
// §4.10. It installs the timeout guard (the preamble, only meaningful at
// depth 0 — nested executions call executeSelect directly and share the
// caller's QueryState, which carries the subquery cache) and returns the
// final ResultSet.
func (eng *Engine) Execute(parent context.Context, stmt *ast.SelectStatement, qs *QueryState) (*types.ResultSet, error) {
	cctx, cancel := context.WithTimeout(parent, defaultStatementTimeout)
	defer cancel()

	rs, err := eng.executeSelect(cctx, qs, stmt, nil, nil)
	if err != nil {
		return nil, err
	}
	return toResultSet(rs), nil
}

func toResultSet(rs *RowSet) *types.ResultSet {
	cols := make([]types.ColumnDef, len(rs.Columns))
	for i, c := range rs.Columns {
		cols[i] = types.ColumnDef{Name: c.Name}
	}
	return &types.ResultSet{Columns: cols, Rows: rs.Rows}
}

// executeSelect is the recursive core shared by the top-level call,
// subquery execution, CTE materialization, and view expansion. outerRS
// and outerRow give a correlated subquery its enclosing row's column
// bindings and actual values (nil/nil at depth 0).
func (eng *Engine) executeSelect(ctx context.Context, qs *QueryState, stmt *ast.SelectStatement, outerRS *RowSet, outerRow types.Row) (*RowSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, dberr.Wrap(dberr.KindTimeoutOrCancelled, err, "query execution cancelled")
	}
	if qs.depth > maxExecutionDepth {
		return nil, dberr.New(dberr.KindResource, "query nesting exceeds the maximum depth of %d", maxExecutionDepth)
	}

	if outerRS != nil {
		qs = qs.child()
		qs.OuterRS, qs.OuterRow = outerRS, outerRow
	}

	// CTE detection/materialization: WITH clauses are only present at the
	// statement a CTE is defined on; each is registered into qs.Ctes
	// before the body (and any later reference) resolves sources.
	if stmt.With != nil {
		var err error
		qs, err = eng.materializeCtes(ctx, qs, stmt.With)
		if err != nil {
			return nil, err
		}
	}

	// Feature dispatch (§4.10): route to the specialized engines when
	// the statement needs them; the basic path handles everything else.
	needsAggregate := stmt.GroupBy != nil || hasAggregateCall(eng, stmt.Projection) || stmt.Having != nil
	needsWindow := hasWindowCall(stmt.Projection)

	var rs *RowSet
	var err error
	switch {
	case len(stmt.SetOps) > 0:
		rs, err = eng.executeSetOps(ctx, qs, stmt)
	case needsAggregate:
		rs, err = eng.executeAggregate(ctx, qs, stmt)
	case needsWindow:
		rs, err = eng.executeWindowed(ctx, qs, stmt)
	default:
		rs, err = eng.executeBasic(ctx, qs, stmt)
	}
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// executeBasic implements §4.10's basic path: FROM, WHERE, projection,
// ORDER BY, LIMIT/OFFSET, DISTINCT — no GROUP BY/aggregates/window
// functions/set operations (those dispatch elsewhere).
func (eng *Engine) executeBasic(ctx context.Context, qs *QueryState, stmt *ast.SelectStatement) (*RowSet, error) {
	// §4.10's semantic result cache: only eligible outside explicit
	// transactions (a txn's own uncommitted writes must stay visible to
	// its own reads, which a cross-transaction cache cannot guarantee).
	if !qs.InExplicitTxn {
		if tbl, ok := Eligible(stmt); ok {
			if entry, ok := eng.Cache.Lookup(tbl, stmt.Where); ok {
				cached := (&RowSet{Columns: entry.columns, Rows: entry.rows}).clone()
				if err := applyResidualFilter(eng, qs, cached, stmt.Where); err != nil {
					return nil, err
				}
				return cached, nil
			}
		}
	}

	// §8 boundary behavior: "LIMIT 0 returns zero rows without scanning".
	// Resolving the source's column shape alone (no row materialization)
	// is enough to build the correctly-shaped empty result.
	if stmt.Limit != nil && *stmt.Limit == 0 {
		return eng.emptyProjection(ctx, qs, stmt)
	}

	hint := computeScanHint(stmt)
	source, err := eng.resolveSource(ctx, qs, stmt.From, stmt.Where, hint)
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

	// Cache only the fully-filtered result (every conjunct of stmt.Where
	// applied, pushed or not), since the conjunct set recorded alongside
	// it is what Lookup's subsumption check compares against.
	if !qs.InExplicitTxn {
		if tbl, ok := Eligible(stmt); ok {
			eng.Cache.Store(tbl, stmt.Where, source.Columns, source.Rows)
		}
	}

	projected, err := project(eng, qs, source, stmt.Projection)
	if err != nil {
		return nil, err
	}

	if stmt.Distinct {
		projected = distinctRows(projected)
	}

	// A scanHint that tryTopNScan served (strategy 6) already delivered
	// projected in ORDER BY order: re-sorting would be redundant work.
	if len(stmt.OrderBy) > 0 && (hint == nil || !hint.applied) {
		if err := orderBy(eng, qs, projected, stmt.OrderBy, stmt.Limit, stmt.Offset); err != nil {
			return nil, err
		}
	}

	applyLimitOffset(projected, stmt.Limit, stmt.Offset)
	return projected, nil
}

// emptyProjection resolves only the column shape a LIMIT 0 query would
// have produced, for every FROM kind, without reading any rows: table
// sources read schema directly; every other source kind resolves through
// the normal path but with a synthetic LIMIT 0 that each stage already
// treats as "no rows", so the cost is bounded by metadata, not data.
func (eng *Engine) emptyProjection(ctx context.Context, qs *QueryState, stmt *ast.SelectStatement) (*RowSet, error) {
	var cols []ColumnBinding
	if stmt.From != nil && stmt.From.Kind == ast.TableExprTable {
		if _, isCte := qs.Ctes[types.Fold(stmt.From.Table.Name)]; !isCte {
			if _, isView := eng.Catalog.View(stmt.From.Table.Name); !isView {
				if t, ok := eng.Tables[types.Fold(stmt.From.Table.Name)]; ok {
					alias := stmt.From.Table.Alias
					if alias == "" {
						alias = stmt.From.Table.Name
					}
					cols = make([]ColumnBinding, len(t.Schema.Columns))
					for i, c := range t.Schema.Columns {
						cols[i] = ColumnBinding{Table: alias, Name: c.Name}
					}
				}
			}
		}
	}
	if cols == nil {
		source, err := eng.resolveSource(ctx, qs, stmt.From, nil, nil)
		if err != nil {
			return nil, err
		}
		cols = source.Columns
	}
	projected, err := project(eng, qs, &RowSet{Columns: cols}, stmt.Projection)
	if err != nil {
		return nil, err
	}
	return projected, nil
}

func hasAggregateCall(eng *Engine, items []ast.SelectItem) bool {
	for _, it := range items {
		if it.Expr != nil && exprHasAggregateCall(eng, it.Expr) {
			return true
		}
	}
	return false
}

func exprHasAggregateCall(eng *Engine, e *ast.Expr) bool {
	if e == nil {
		return false
	}
	if e.Kind == ast.ExprFuncCall {
		if info, ok := eng.Functions.Lookup(e.FuncName); ok && info.Aggregate != nil {
			return true
		}
	}
	for _, a := range e.Args {
		if exprHasAggregateCall(eng, a) {
			return true
		}
	}
	return false
}

func hasWindowCall(items []ast.SelectItem) bool {
	for _, it := range items {
		if it.Expr != nil && exprHasWindowCall(it.Expr) {
			return true
		}
	}
	return false
}

func exprHasWindowCall(e *ast.Expr) bool {
	if e == nil {
		return false
	}
	if e.Kind == ast.ExprFuncCall && (e.Over != nil || e.OverName != "") {
		return true
	}
	for _, a := range e.Args {
		if exprHasWindowCall(a) {
			return true
		}
	}
	return false
}
